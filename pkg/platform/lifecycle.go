package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// hook pairs a start callback with the stop callback that undoes it.
// Either may be nil.
type hook struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle starts the platform's background routines in registration
// order and stops them in reverse.
type Lifecycle struct {
	mu      sync.Mutex
	hooks   []hook
	running bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// OnStartStop registers a named start/stop pair.
func (l *Lifecycle) OnStartStop(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook{name: name, start: start, stop: stop})
}

// Start runs the start callbacks. When one fails, the pairs already
// started are stopped before the error is returned.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("lifecycle already started")
	}

	for i, h := range l.hooks {
		if h.start == nil {
			continue
		}
		if err := h.start(ctx); err != nil {
			if stopErr := stopHooks(ctx, l.hooks[:i]); stopErr != nil {
				slog.Warn("lifecycle rollback incomplete", "failed", h.name, "error", stopErr)
			}
			return fmt.Errorf("starting %s: %w", h.name, err)
		}
		slog.Debug("lifecycle started", "hook", h.name)
	}

	l.running = true
	return nil
}

// Stop runs the stop callbacks in reverse order. Stopping a lifecycle that
// is not running is a no-op.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}
	l.running = false
	return stopHooks(ctx, l.hooks)
}

// stopHooks stops hooks last to first and joins their errors.
func stopHooks(ctx context.Context, hooks []hook) error {
	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if h.stop == nil {
			continue
		}
		if err := h.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
