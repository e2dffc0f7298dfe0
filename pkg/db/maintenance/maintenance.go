package maintenance

import (
	"context"
	"log/slog"
	"time"

	"roadspeed/pkg/db"
)

// Run prunes cached provider responses older than ttl. A zero ttl keeps
// everything. Failures are logged, never returned, so startup proceeds.
func Run(ctx context.Context, d *db.DB, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	start := time.Now()
	n, err := d.PruneCache(ctx, ttl)
	if err != nil {
		slog.Error("Cache pruning failed", "error", err)
		return
	}

	stats, err := d.CacheStats(ctx)
	if err != nil {
		slog.Warn("Cache stats unavailable", "error", err)
	}
	slog.Info("Cache pruning completed",
		"removed", n,
		"remaining", stats.Entries,
		"bytes", stats.Bytes,
		"took", time.Since(start),
	)
}
