package daemon

import (
	"context"
	"log/slog"
	"time"

	"secretsanta/internal/config"
	"secretsanta/internal/repository"
)

// RetentionSweep deletes games whose event date passed the grace period ago.
// Old games hold names, emails and wishes, so they are not kept forever.
func RetentionSweep(repo repository.GameRepository, cfg config.RetentionConfig, logger *slog.Logger) DaemonFunc {
	return func(ctx context.Context, name string) error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := sweepOnce(ctx, repo, cfg.GracePeriod, logger); err != nil {
					logger.ErrorContext(ctx, "Retention sweep failed", "error", err)
					// keep ticking; a failed sweep is retried next interval
				}
			}
		}
	}
}

func sweepOnce(ctx context.Context, repo repository.GameRepository, grace time.Duration, logger *slog.Logger) error {
	cutoff := time.Now().Add(-grace)
	ids, err := repo.ListExpiredBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := repo.Delete(ctx, id); err != nil {
			logger.ErrorContext(ctx, "Failed to delete expired game", "game_id", id, "error", err)
			continue
		}
		logger.InfoContext(ctx, "Deleted expired game", "game_id", id)
	}
	return nil
}
