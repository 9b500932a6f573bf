package checks

import (
	"context"
	"strings"
	"time"

	"github.com/macroscope/macroscope/internal/monitoring"
)

const defaultMaintenanceMaxAge = 36 * time.Hour

// JobSnapshotter exposes recorded background job runs.
type JobSnapshotter interface {
	Snapshot() []monitoring.JobStatus
}

// Maintenance degrades when a job has not succeeded within maxAge and fails
// when a job keeps failing. The daily jobs need a window over 24h.
func Maintenance(jobs JobSnapshotter, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		start := time.Now()
		if jobs == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance disabled", Duration: time.Since(start)}
		}

		snapshot := jobs.Snapshot()
		if len(snapshot) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no runs recorded", Duration: time.Since(start)}
		}

		status := monitoring.StatusUp
		var problems []string
		current := now()
		for _, job := range snapshot {
			if job.ConsecutiveFailures > 1 {
				status = monitoring.Worst(status, monitoring.StatusDown)
				problems = append(problems, job.Job+": "+job.LastError)
				continue
			}
			if job.ConsecutiveFailures == 1 {
				status = monitoring.Worst(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": "+job.LastError)
			}
			if !job.LastSuccessAt.IsZero() && current.Sub(job.LastSuccessAt) > maxAge {
				status = monitoring.Worst(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": last success "+job.LastSuccessAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(problems, "; "),
			Duration: time.Since(start),
		}
	})
}
