package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/reporting"
)

// RunExpirySweeper clears expired cache entries every interval until ctx is done
func RunExpirySweeper(
	ctx context.Context,
	clearExpiredCache ClearExpiredCache,
	interval time.Duration,
	afterFunc func(time.Duration) <-chan time.Time,
) {
	logger := logging.FromContext(ctx)
	logger.InfoContext(ctx, "Starting expiry sweeper", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Stopping expiry sweeper")
			return
		case <-afterFunc(interval):
		}

		removed, err := clearExpiredCache(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			// Next sweep picks up where this one failed
			logger.WarnContext(ctx, "Expiry sweep failed", "error", err)
			reporting.Report(ctx, fmt.Errorf("expiry sweep failed: %w", err))
			continue
		}
		logger.InfoContext(ctx, "Expiry sweep complete", "removed", removed)
	}
}
