package history

import (
	"context"
	"time"
)

// RunPruner deletes entries older than retention every interval until ctx
// is cancelled. A zero retention disables pruning.
func (r *Recorder) RunPruner(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.prune(ctx, retention)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune(ctx, retention)
		}
	}
}

func (r *Recorder) prune(ctx context.Context, retention time.Duration) {
	n, err := r.store.PruneBefore(ctx, r.now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("history prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		r.logger.Info("pruned history", "deleted", n, "retention", retention)
	}
}
