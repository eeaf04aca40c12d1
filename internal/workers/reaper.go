package workers

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	mongorepo "github.com/yoockh/talkspace/internal/repositories/mongo"
	"github.com/yoockh/talkspace/internal/services"
)

// Reaper cancels scheduled sessions that nobody ever joined. It is the
// external garbage collector for abandoned records; every cancellation goes
// through the engine and its per-record lock, so a concurrent join always
// wins or loses cleanly.
type Reaper struct {
	Sessions mongorepo.SessionRepository
	Engine   services.SessionService
	Logger   *logrus.Logger

	Interval time.Duration
	MaxAge   time.Duration
	Batch    int
}

func (r *Reaper) Start(ctx context.Context) error {
	if r.Sessions == nil || r.Engine == nil {
		return errors.New("Reaper missing dependency: Sessions/Engine must be set")
	}
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.MaxAge <= 0 {
		r.MaxAge = time.Hour
	}
	if r.Batch <= 0 {
		r.Batch = 100
	}
	if r.Logger == nil {
		r.Logger = logrus.New()
	}

	go r.run(ctx)
	return nil
}

func (r *Reaper) run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.MaxAge)

	ids, err := r.Sessions.ListStaleScheduled(ctx, cutoff, r.Batch)
	if err != nil {
		r.Logger.WithError(err).Warn("stale session scan failed")
		return
	}

	expired := 0
	for _, id := range ids {
		ok, err := r.Engine.ExpireScheduled(ctx, id, cutoff)
		if err != nil {
			r.Logger.WithError(err).WithField("session_id", id).Warn("stale session cancel failed")
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		r.Logger.WithFields(logrus.Fields{
			"scanned": len(ids),
			"expired": expired,
		}).Info("stale scheduled sessions swept")
	}
}
