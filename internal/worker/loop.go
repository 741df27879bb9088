// Package worker runs the background jobs of the workers: the recurring
// scheduler tick and budget alert evaluation.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// loop runs a job immediately and then on every tick until stopped.
type loop struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context, now time.Time)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// start begins the loop. It returns an error if already running.
func (l *loop) start(ctx context.Context) error {
	if l.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", l.name)
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("%s is already running", l.name)
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	stopCh, doneCh := l.stopCh, l.doneCh
	l.mu.Unlock()

	go l.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Worker loop started",
		"worker", l.name,
		"interval", l.interval)
	return nil
}

// stop signals the loop and waits for the current run to finish.
func (l *loop) stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	stopCh, doneCh := l.stopCh, l.doneCh
	l.running = false
	l.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Worker loop stopped gracefully", "worker", l.name)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Worker loop stop timed out", "worker", l.name)
		return ctx.Err()
	}
}

func (l *loop) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *loop) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// Run immediately on startup
	l.run(ctx, time.Now())

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.run(ctx, now)
		}
	}
}
