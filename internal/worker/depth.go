package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"payment-router/internal/telemetry"
)

// DepthReader reports the length of each queue by name.
type DepthReader interface {
	Depths(ctx context.Context) (map[string]int64, error)
}

// SampleDepths refreshes the queue depth gauge every interval until ctx is cancelled.
func SampleDepths(ctx context.Context, q DepthReader, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		depths, err := q.Depths(ctx)
		if err == nil {
			for name, n := range depths {
				telemetry.QueueDepth.WithLabelValues(name).Set(float64(n))
			}
		} else if ctx.Err() == nil {
			logger.Warn("sample queue depths", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
