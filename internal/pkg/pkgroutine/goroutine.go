package pkgroutine

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// DefaultMaxGoroutine is used when NewManager receives a non-positive limit.
const DefaultMaxGoroutine int = 10

// Manager runs functions in goroutines with a configurable concurrency limit.
//
// It collects errors returned by tasks and can be waited on using Wait.
type Manager struct {
	mu   sync.Mutex
	errs []error
	wg   *sync.WaitGroup
	sema chan struct{}
}

// NewManager creates a new Manager with the provided maximum concurrency.
func NewManager(maxGoroutine int) *Manager {
	if maxGoroutine < 1 {
		maxGoroutine = DefaultMaxGoroutine
	}

	return &Manager{
		wg:   &sync.WaitGroup{},
		sema: make(chan struct{}, maxGoroutine), // Semaphore to limit goroutines
	}
}

// Go schedules f and returns immediately.
//
// When the manager is at its concurrency limit the task waits for a free slot
// in its own goroutine. A task whose context ends before it gets a slot is
// dropped with a warning.
func (g *Manager) Go(pCtx context.Context, f func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		select {
		case g.sema <- struct{}{}: // Acquire a semaphore slot
		case <-pCtx.Done():
			slog.WarnContext(pCtx, "goroutine canceled before start", "because", pCtx.Err())
			return
		}
		defer func() { <-g.sema }() // Release semaphore slot

		g.run(pCtx, f)
	}()
}

// Spawn starts f right away without taking a concurrency slot. The task is
// still tracked by Wait, its error collected and its panic recovered.
func (g *Manager) Spawn(pCtx context.Context, f func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.run(pCtx, f)
	}()
}

func (g *Manager) run(pCtx context.Context, f func(ctx context.Context) error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			stack := debug.Stack()
			slog.ErrorContext(pCtx, "panic occurred in goroutine", "because", rvr, "stack", string(stack))
		}
	}()

	if err := f(pCtx); err != nil {
		g.mu.Lock()
		g.errs = append(g.errs, err)
		g.mu.Unlock()
	}
}

// Wait blocks until all scheduled goroutines finish and returns any collected errors.
func (g *Manager) Wait() error {
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()

	return errors.Join(g.errs...)
}
