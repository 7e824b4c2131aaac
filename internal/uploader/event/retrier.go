package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

type Subscriber interface {
	Subscribe() (<-chan entity.Upload, func())
}

type Retrier interface {
	Retry(ctx context.Context, uploadID string) error
}

// Runner runs a retry in the background, bounded by its own concurrency limit.
type Runner interface {
	Go(ctx context.Context, f func(ctx context.Context) error)
}

type RetryConfig struct {
	Workers     int
	MaxAttempts int // total runs per upload, including the first one
	BaseBackoff time.Duration
}

// AutoRetrier retries uploads that failed while transferring, with
// exponential backoff, until an upload has used MaxAttempts runs.
//
// Uploads that failed before preprocessing produced a file (unsupported or
// undecodable input) are never retried: they would fail the same way.
//
// Workers only filter events. Each backoff and retry runs as a Runner task, so
// a long backoff never stalls the subscription.
type AutoRetrier struct {
	sub         Subscriber
	retrier     Retrier
	runner      Runner
	workers     int
	maxAttempts int
	baseBackoff time.Duration

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	seen        sync.Map
	wg          sync.WaitGroup
}

func NewAutoRetrier(sub Subscriber, retrier Retrier, runner Runner, cfg RetryConfig) *AutoRetrier {
	workers := cfg.Workers
	if workers < 1 {
		workers = 2
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	baseBackoff := cfg.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 500 * time.Millisecond
	}

	return &AutoRetrier{
		sub:         sub,
		retrier:     retrier,
		runner:      runner,
		workers:     workers,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

// Start subscribes and launches the workers. Pending backoffs end when ctx
// is canceled or Stop is called.
func (r *AutoRetrier) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)

	events, unsubscribe := r.sub.Subscribe()
	r.unsubscribe = unsubscribe

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(events)
	}
}

// Stop abandons pending backoffs and waits for the workers to exit. Retries
// already handed to the Runner are waited on by the Runner.
func (r *AutoRetrier) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.unsubscribe != nil {
		r.unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AutoRetrier) worker(events <-chan entity.Upload) {
	defer r.wg.Done()

	for upload := range events {
		r.process(upload)
	}
}

func (r *AutoRetrier) process(upload entity.Upload) {
	if upload.Status != entity.UploadStatusFailed || !upload.HasCompressedSize() {
		return
	}
	if upload.Attempts >= r.maxAttempts {
		slog.Warn("upload failed, no automatic retry left", "upload_id", upload.ID, "attempts", upload.Attempts, "error", upload.Err)
		return
	}

	// One retry per failed run.
	key := fmt.Sprintf("%s#%d", upload.ID, upload.Attempts)
	if _, loaded := r.seen.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	// No new tasks once shutdown began; the runner may already be draining.
	if r.ctx.Err() != nil {
		return
	}

	backoff := r.baseBackoff << max(upload.Attempts-1, 0)
	r.runner.Go(r.ctx, func(ctx context.Context) error {
		if !sleep(ctx, backoff) {
			return nil
		}

		if err := r.retrier.Retry(ctx, upload.ID); err != nil {
			slog.ErrorContext(ctx, "failed to retry upload automatically", "upload_id", upload.ID, "error", err)
			return nil
		}

		slog.InfoContext(ctx, "upload retried automatically", "upload_id", upload.ID, "attempt", upload.Attempts+1, "backoff", backoff)
		return nil
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
