package checks

import (
	"context"
	"errors"
	"time"

	"github.com/macroscope/macroscope/internal/monitoring"
	"github.com/macroscope/macroscope/internal/storage"
)

// Storage probes the object store when the backend supports it.
func Storage(store storage.Store) monitoring.Check {
	return monitoring.NewCheck("storage", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ResultFromError(errors.New("object storage not configured"), time.Since(start))
		}

		pinger, ok := store.(storage.Pinger)
		if !ok {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "backend does not support probing", Duration: time.Since(start)}
		}
		return monitoring.ResultFromError(pinger.Ping(ctx), time.Since(start))
	})
}
