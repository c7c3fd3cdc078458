// Package retention removes stored bars that fell out of the retention window.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Deleter removes bars whose bucket starts before the cutoff.
type Deleter interface {
	DeleteBarsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Janitor runs once at startup, then at every UTC midnight.
type Janitor struct {
	Store  Deleter
	Keep   time.Duration
	Logger *zap.Logger
	Now    func() time.Time
}

func NewJanitor(store Deleter, days int, logger *zap.Logger) *Janitor {
	return &Janitor{
		Store:  store,
		Keep:   time.Duration(days) * 24 * time.Hour,
		Logger: logger.Named("retention"),
		Now:    time.Now,
	}
}

// Run blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	// Run immediately once at startup
	j.RunOnce(ctx)

	for {
		wait := NextMidnight(j.Now()).Sub(j.Now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce deletes everything older than Keep and returns the row count.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	cutoff := j.Now().UTC().Add(-j.Keep)

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := j.Store.DeleteBarsBefore(ctx, cutoff)
	if err != nil {
		j.Logger.Error("failed to delete old bars", zap.Time("before", cutoff), zap.Error(err))
		return 0
	}
	j.Logger.Info("deleted old bars", zap.Time("before", cutoff), zap.Int64("count", n))
	return n
}

// NextMidnight returns the first UTC midnight strictly after t.
func NextMidnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
