package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyImports is returned when every import slot stays occupied for the
// whole wait period. Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

const (
	DefaultMaxConcurrentImports = 4
	DefaultImportWait           = 30 * time.Second
)

// ImportLimiter bounds how many workbook imports run at once. An import
// parses the whole file and writes every cell of every tab, so a few large
// uploads can starve cell edits of store connections. Imports queue in
// arrival order for up to maxWait.
type ImportLimiter struct {
	sem     *semaphore.Weighted
	slots   int64
	maxWait time.Duration

	active    atomic.Int64
	waiting   atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
}

// NewImportLimiter allows at most maxConcurrent simultaneous imports.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultImportWait
	}
	return &ImportLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		slots:   int64(maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes an import slot. The caller must Release it when done.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.sem.TryAcquire(1) {
		l.waiting.Add(1)
		err := l.acquireWithin(ctx)
		l.waiting.Add(-1)
		if err != nil {
			return err
		}
	}
	l.active.Add(1)
	return nil
}

func (l *ImportLimiter) acquireWithin(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()
	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.rejected.Add(1)
		return ErrTooManyImports
	}
	return nil
}

// Release returns a slot taken by Acquire.
func (l *ImportLimiter) Release() {
	l.active.Add(-1)
	l.completed.Add(1)
	l.sem.Release(1)
}

// ActiveCount returns the number of imports in progress.
func (l *ImportLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// WaitForDrain blocks until no import is running or ctx is done. It takes
// every slot while it waits, so imports that arrive during shutdown queue
// behind it.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, l.slots); err != nil {
		return err
	}
	l.sem.Release(l.slots)
	return nil
}

// ImportLimiterStatus is a snapshot of import activity for the health
// endpoint. Rejected and Completed count since startup.
type ImportLimiterStatus struct {
	Active        int   `json:"active"`
	Queued        int   `json:"queued"`
	MaxConcurrent int   `json:"max_concurrent"`
	Rejected      int64 `json:"rejected"`
	Completed     int64 `json:"completed"`
}

// Status returns the current import activity.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	return ImportLimiterStatus{
		Active:        int(l.active.Load()),
		Queued:        int(l.waiting.Load()),
		MaxConcurrent: int(l.slots),
		Rejected:      l.rejected.Load(),
		Completed:     l.completed.Load(),
	}
}
