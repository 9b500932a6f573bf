package monitoring

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/macroscope/macroscope/pkg/metrics"
)

// JobStatus summarises the recent runs of one background job.
type JobStatus struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastError           string        `json:"last_error,omitempty"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	LastDuration        time.Duration `json:"last_duration"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	TotalRuns           uint64        `json:"total_runs"`
}

// JobTracker records maintenance runs for the readiness probe and Prometheus.
type JobTracker struct {
	mu   sync.Mutex
	jobs map[string]*JobStatus
	now  func() time.Time
}

// NewJobTracker constructs an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*JobStatus), now: time.Now}
}

// RecordRun stores the outcome of a job run.
func (t *JobTracker) RecordRun(job string, err error, duration time.Duration) {
	job = strings.TrimSpace(strings.ToLower(job))
	if job == "" {
		job = "unknown"
	}
	if duration < 0 {
		duration = 0
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.jobs[job]
	if status == nil {
		status = &JobStatus{Job: job}
		t.jobs[job] = status
	}
	status.TotalRuns++
	status.LastRunAt = now
	status.LastDuration = duration

	if err != nil {
		status.LastStatus = "failure"
		status.LastError = err.Error()
		status.ConsecutiveFailures++
		metrics.MaintenanceRuns.WithLabelValues(job, "failure").Inc()
		return
	}

	status.LastStatus = "success"
	status.LastError = ""
	status.LastSuccessAt = now
	status.ConsecutiveFailures = 0
	metrics.MaintenanceRuns.WithLabelValues(job, "success").Inc()
	metrics.MaintenanceLastSuccess.WithLabelValues(job).Set(float64(now.Unix()))
}

// Snapshot returns job statuses ordered by name.
func (t *JobTracker) Snapshot() []JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]JobStatus, 0, len(t.jobs))
	for _, status := range t.jobs {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
