package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	logx "tldrbot/pkg/logx"
)

// supervisor runs the app's background loops (config reload and watch,
// systemd watchdog) under one shared context. Each loop carries a name for
// log correlation and a panic guard; the first failure cancels the group,
// so a dead loop takes the process down instead of leaving it half-wired.
type supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	mu       sync.Mutex
	firstErr error

	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}
}

func newSupervisor(parent context.Context, log logx.Logger) *supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		done:   make(chan struct{}),
	}
}

func (s *supervisor) Context() context.Context { return s.ctx }

// Cancel stops the group without waiting for the loops to exit.
func (s *supervisor) Cancel() { s.cancel() }

// Err returns the first failure recorded by any loop.
func (s *supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Go runs fn under the group context. A panic or a non-nil return other
// than the group's own cancellation is recorded and cancels the group.
func (s *supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("background loop panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				s.fail(fmt.Errorf("panic in %s: %v", name, r))
			}
		}()

		s.log.Debug("background loop started", logx.String("name", name))
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("background loop stopped", logx.String("name", name))
	}()
}

// Go0 is Go for loops that only ever exit on context cancellation.
func (s *supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until every loop has exited or ctx expires, then reports the
// group's first error.
func (s *supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	s.cancel()
}
