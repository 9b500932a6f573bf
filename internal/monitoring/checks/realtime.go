package checks

import (
	"context"
	"strconv"
	"time"

	"github.com/macroscope/macroscope/internal/monitoring"
)

// RealtimeObserver exposes the connection count of the realtime hub.
type RealtimeObserver interface {
	ActiveConnections() int64
}

// Realtime is a liveness probe for the websocket hub.
func Realtime(observer RealtimeObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(context.Context) monitoring.ProbeResult {
		start := time.Now()
		if observer == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "realtime hub unavailable",
				Duration: time.Since(start),
			}
		}

		active := observer.ActiveConnections()
		if active < 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "negative connection count",
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  strconv.FormatInt(active, 10) + " connections",
			Duration: time.Since(start),
		}
	})
}
