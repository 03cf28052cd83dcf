// Package watch repeats crosspost runs on a fixed interval and backs off
// when X rate limits the session.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/pkg/twitter"
)

// defaultBackoff is used when a rate limit carries no reset time.
const defaultBackoff = 5 * time.Minute

// RunFunc performs one crosspost run. Returning an error that matches
// domain.ErrRateLimited delays the next run until the limit resets; any
// other error stops the watcher.
type RunFunc func(ctx context.Context) error

// rateLimitState persists rate limit info across restarts.
type rateLimitState struct {
	ResetAt time.Time `json:"reset_at"`
}

// Watcher calls a RunFunc repeatedly.
type Watcher struct {
	cfg    config.WatchConfig
	run    RunFunc
	logger *slog.Logger

	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// New creates a watcher.
func New(cfg config.WatchConfig, run RunFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:    cfg,
		run:    run,
		logger: logger,
		now:    time.Now,
		wait:   waitContext,
		jitter: func() time.Duration {
			return time.Duration(5+rand.Intn(10)) * time.Second
		},
	}
}

// Start runs until ctx is cancelled or a run fails with a non rate limit
// error. Cancellation is not an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("starting watch", "interval", w.cfg.Interval.String())

	// Respect a rate limit persisted by a previous process.
	if resetAt := w.loadRateLimitState(); !resetAt.IsZero() {
		if wait := resetAt.Sub(w.now()); wait > 0 {
			w.logger.Info("respecting persisted rate limit from previous run", "wait", wait.Round(time.Second).String())
			if err := w.wait(ctx, wait); err != nil {
				return nil
			}
		}
		w.clearRateLimitState()
	}

	// Startup jitter avoids hammering X from a crash loop.
	if err := w.wait(ctx, w.jitter()); err != nil {
		return nil
	}

	for {
		next := w.cfg.Interval

		err := w.run(ctx)
		switch {
		case ctx.Err() != nil:
			w.logger.Info("watch stopped")
			return nil
		case errors.Is(err, domain.ErrRateLimited):
			resetAt := w.resetTime(err)
			w.saveRateLimitState(resetAt)
			if wait := resetAt.Sub(w.now()); wait > next {
				next = wait
			}
			w.logger.Warn("rate limited; backing off", "sleep", next.Round(time.Second).String())
		case err != nil:
			return err
		}

		if err := w.wait(ctx, next); err != nil {
			w.logger.Info("watch stopped")
			return nil
		}
		w.clearRateLimitState()
	}
}

// resetTime returns when the limit carried by err is expected to lift.
func (w *Watcher) resetTime(err error) time.Time {
	var rl *twitter.RateLimitError
	if errors.As(err, &rl) && !rl.Reset.IsZero() {
		return rl.Reset.Add(2 * time.Second)
	}
	return w.now().Add(defaultBackoff)
}

func (w *Watcher) loadRateLimitState() time.Time {
	if w.cfg.StateFile == "" {
		return time.Time{}
	}
	data, err := os.ReadFile(w.cfg.StateFile)
	if err != nil {
		return time.Time{}
	}
	var state rateLimitState
	if err := json.Unmarshal(data, &state); err != nil {
		return time.Time{}
	}
	return state.ResetAt
}

func (w *Watcher) saveRateLimitState(resetAt time.Time) {
	if w.cfg.StateFile == "" {
		return
	}
	data, err := json.Marshal(rateLimitState{ResetAt: resetAt})
	if err != nil {
		return
	}
	if err := os.WriteFile(w.cfg.StateFile, data, 0600); err != nil {
		w.logger.Warn("failed to persist rate limit state", "path", w.cfg.StateFile, "error", err)
	}
}

func (w *Watcher) clearRateLimitState() {
	if w.cfg.StateFile == "" {
		return
	}
	_ = os.Remove(w.cfg.StateFile)
}

func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
