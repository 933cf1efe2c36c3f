package usecase

import (
	"context"
	"log/slog"
	"time"
)

type CheckpointSweeper interface {
	SweepCheckpoints(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ResumeRetention periodically deletes checkpoints older than MaxAge.
type ResumeRetention struct {
	Store    CheckpointSweeper
	MaxAge   time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

func (r ResumeRetention) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	if r.MaxAge <= 0 {
		return
	}

	r.sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r ResumeRetention) sweep(ctx context.Context) {
	n, err := r.Store.SweepCheckpoints(ctx, r.MaxAge)
	if err != nil {
		r.logger().Warn("retention: sweep failed", slog.String("error", wrapRepo(err).Error()))
		return
	}
	if n > 0 {
		r.logger().Info("retention: checkpoints removed",
			slog.Int64("count", n),
			slog.Duration("maxAge", r.MaxAge),
		)
	}
}

func (r ResumeRetention) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
