package session

import (
	"context"
	"log/slog"
	"time"
)

const defaultReapBatch = 100

// ReaperConfig configures a Reaper.
type ReaperConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// BatchSize caps the sessions reclaimed per sweep.
	BatchSize int

	// Now is overridable for tests.
	Now func() time.Time
}

// Reaper terminates active sessions whose expiry has passed. Without a
// running Reaper, ExpiresAt is informational only.
type Reaper struct {
	manager *Manager
	store   Store
	cfg     ReaperConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a Reaper.
func NewReaper(manager *Manager, store Store, cfg ReaperConfig) *Reaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultReapBatch
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reaper{manager: manager, store: store, cfg: cfg}
}

// Sweep terminates one batch of expired sessions and returns how many were
// reclaimed. A failure on one session is logged and does not stop the sweep.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	expired, err := r.store.ListExpiredActive(ctx, r.cfg.Now(), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, sess := range expired {
		if err := r.manager.Expire(ctx, sess); err != nil {
			slog.Warn("session reaper: failed to expire session",
				slogKeySessionID, sess.ID, slogKeyError, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		slog.Info("session reaper: expired sessions", "count", reaped)
	}
	return reaped, nil
}

// Start runs Sweep on a ticker until Close is called.
func (r *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Sweep(ctx); err != nil {
					slog.Warn("session reaper: sweep failed", slogKeyError, err)
				}
			}
		}
	}()
}

// Close stops the sweep goroutine and waits for it to exit.
// It is safe to call Close even if Start was never called.
func (r *Reaper) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return nil
}
