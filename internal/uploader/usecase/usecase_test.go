package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shandysiswandi/gouploader/internal/pkg/pkgerror"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgroutine"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkguid"
	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
	"github.com/shandysiswandi/gouploader/internal/uploader/store"
)

type recorder struct {
	mu     sync.Mutex
	events map[string][]entity.Upload
}

func (r *recorder) Notify(upload entity.Upload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string][]entity.Upload)
	}
	r.events[upload.ID] = append(r.events[upload.ID], upload)
}

func (r *recorder) statuses(id string) []entity.UploadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.UploadStatus
	for _, ev := range r.events[id] {
		if len(out) == 0 || out[len(out)-1] != ev.Status {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (r *recorder) transferred(id string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, ev := range r.events[id] {
		if len(out) == 0 || out[len(out)-1] != ev.UploadByteSize {
			out = append(out, ev.UploadByteSize)
		}
	}
	return out
}

type testRunID struct {
	n atomic.Int64
}

func (g *testRunID) Generate() int64 {
	return g.n.Add(1)
}

type fakeCompressor struct {
	size int
	err  error
}

func (c fakeCompressor) Compress(ctx context.Context, file entity.File) (entity.File, error) {
	if c.err != nil {
		return entity.File{}, c.err
	}
	return entity.File{Name: "small.jpg", ContentType: "image/jpeg", Data: make([]byte, c.size)}, nil
}

// gatedCompressor reports each call on started and holds it until release is closed.
type gatedCompressor struct {
	started chan struct{}
	release chan struct{}
}

func newGatedCompressor(calls int) *gatedCompressor {
	return &gatedCompressor{started: make(chan struct{}, calls), release: make(chan struct{})}
}

func (c *gatedCompressor) Compress(ctx context.Context, file entity.File) (entity.File, error) {
	c.started <- struct{}{}
	<-c.release
	return entity.File{Name: "small.jpg", ContentType: "image/jpeg", Data: make([]byte, 10)}, nil
}

type fakeTransporter struct {
	calls    atomic.Int32
	transfer func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error)
}

func (f *fakeTransporter) Transfer(ctx context.Context, key string, file entity.File, onProgress func(sent int64)) (string, error) {
	return f.transfer(ctx, f.calls.Add(1), file, onProgress)
}

type harness struct {
	uc       *Usecase
	runner   *pkgroutine.Manager
	store    *store.InMemoryStore
	recorder *recorder
}

func newHarness(t *testing.T, comp Compressor, trans Transporter) *harness {
	t.Helper()
	return newHarnessWith(t, context.Background(), 10, comp, trans)
}

func newHarnessWith(t *testing.T, rootCtx context.Context, maxGoroutine int, comp Compressor, trans Transporter) *harness {
	t.Helper()

	rec := &recorder{}
	st := store.NewInMemoryStore(rec)
	runner := pkgroutine.NewManager(maxGoroutine)

	uc := New(Dependency{
		Store:       st,
		Compressor:  comp,
		Transporter: trans,
		Runner:      runner,
		ID:          pkguid.NewUUID(),
		RunID:       &testRunID{},
		RootCtx:     rootCtx,
	})

	return &harness{uc: uc, runner: runner, store: st, recorder: rec}
}

func sourceFile(size int) entity.File {
	return entity.File{Name: "photo.png", ContentType: "image/png", Data: make([]byte, size)}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		require.FailNow(t, "timed out waiting for signal")
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		onProgress(0)
		onProgress(150000)
		onProgress(300000)
		return "https://store/x", nil
	}}
	h := newHarness(t, fakeCompressor{size: 300000}, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{sourceFile(3000000)})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.NoError(t, h.runner.Wait())

	id := ids[0]
	assert.Equal(t, []entity.UploadStatus{
		entity.UploadStatusQueued,
		entity.UploadStatusCompressing,
		entity.UploadStatusTransferring,
		entity.UploadStatusCompleted,
	}, h.recorder.statuses(id))
	assert.Equal(t, []int64{0, 150000, 300000}, h.recorder.transferred(id))

	got, err := h.uc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusCompleted, got.Status)
	assert.Equal(t, int64(3000000), got.OriginalByteSize)
	assert.Equal(t, int64(300000), got.CompressedByteSize)
	assert.Equal(t, int64(300000), got.UploadByteSize)
	assert.Equal(t, "https://store/x", got.RemoteURL)
	assert.Equal(t, "photo.png", got.Name)
	assert.Equal(t, 1, got.Attempts)
}

func TestCancelMidTransfer(t *testing.T) {
	started := make(chan struct{})
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		onProgress(100000)
		close(started)
		<-ctx.Done()
		return "", fmt.Errorf("put object: %w", entity.ErrCanceled)
	}}
	h := newHarness(t, fakeCompressor{size: 300000}, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{sourceFile(1000000)})
	require.NoError(t, err)

	waitFor(t, started)
	require.NoError(t, h.uc.Cancel(context.Background(), ids[0]))
	require.NoError(t, h.runner.Wait())

	got, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusCanceled, got.Status)
	assert.Empty(t, got.RemoteURL)
	assert.Equal(t, int64(100000), got.UploadByteSize)
}

func TestCancelDuringCompression(t *testing.T) {
	comp := newGatedCompressor(1)
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		return "https://store/never", nil
	}}
	h := newHarness(t, comp, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{sourceFile(1000)})
	require.NoError(t, err)

	waitFor(t, comp.started)
	got, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	require.Equal(t, entity.UploadStatusCompressing, got.Status)

	require.NoError(t, h.uc.Cancel(context.Background(), ids[0]))
	close(comp.release)
	require.NoError(t, h.runner.Wait())

	got, err = h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusCanceled, got.Status)
	assert.Zero(t, got.CompressedByteSize)
	assert.Zero(t, got.UploadByteSize)
	assert.Zero(t, trans.calls.Load())
	assert.Equal(t, []entity.UploadStatus{
		entity.UploadStatusQueued,
		entity.UploadStatusCompressing,
		entity.UploadStatusCanceled,
	}, h.recorder.statuses(ids[0]))
}

func TestShutdownDuringCompressionCancels(t *testing.T) {
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	comp := newGatedCompressor(1)
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		return "https://store/never", nil
	}}
	h := newHarnessWith(t, rootCtx, 10, comp, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{sourceFile(1000)})
	require.NoError(t, err)

	waitFor(t, comp.started)
	stop()
	close(comp.release)
	require.NoError(t, h.runner.Wait())

	got, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusCanceled, got.Status)
	assert.Equal(t, int64(10), got.CompressedByteSize)
	assert.Zero(t, trans.calls.Load())
	assert.Equal(t, []entity.UploadStatus{
		entity.UploadStatusQueued,
		entity.UploadStatusCompressing,
		entity.UploadStatusCanceled,
	}, h.recorder.statuses(ids[0]))
}

func TestCancelBeatsLateSuccess(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		close(started)
		<-release
		onProgress(300000)
		return "https://store/late", nil
	}}
	h := newHarness(t, fakeCompressor{size: 300000}, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{sourceFile(1000)})
	require.NoError(t, err)

	waitFor(t, started)
	require.NoError(t, h.uc.Cancel(context.Background(), ids[0]))
	close(release)
	require.NoError(t, h.runner.Wait())

	got, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusCanceled, got.Status)
	assert.Empty(t, got.RemoteURL)
	assert.Zero(t, got.UploadByteSize)
}

func TestUnsupportedFormatNeverTransfers(t *testing.T) {
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		return "https://store/never", nil
	}}
	comp := fakeCompressor{err: fmt.Errorf("text/plain: %w", entity.ErrUnsupportedFormat)}
	h := newHarness(t, comp, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hi")}})
	require.NoError(t, err)
	require.NoError(t, h.runner.Wait())

	assert.Equal(t, []entity.UploadStatus{
		entity.UploadStatusQueued,
		entity.UploadStatusCompressing,
		entity.UploadStatusFailed,
	}, h.recorder.statuses(ids[0]))
	assert.Zero(t, trans.calls.Load())

	got, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Contains(t, got.Err, entity.ErrUnsupportedFormat.Error())
}

func TestRetryAfterFailure(t *testing.T) {
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		onProgress(50)
		if call == 1 {
			return "", fmt.Errorf("status 502: %w", entity.ErrTransferFailed)
		}
		onProgress(int64(len(file.Data)))
		return "https://store/retried", nil
	}}
	h := newHarness(t, fakeCompressor{size: 100}, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{sourceFile(1000)})
	require.NoError(t, err)
	require.NoError(t, h.runner.Wait())

	failed, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	require.Equal(t, entity.UploadStatusFailed, failed.Status)
	assert.Equal(t, int64(50), failed.UploadByteSize)
	assert.Contains(t, failed.Err, "502")

	require.NoError(t, h.uc.Retry(context.Background(), ids[0]))
	require.NoError(t, h.runner.Wait())

	statuses := h.recorder.statuses(ids[0])
	assert.Equal(t, []entity.UploadStatus{
		entity.UploadStatusQueued,
		entity.UploadStatusCompressing,
		entity.UploadStatusTransferring,
		entity.UploadStatusFailed,
		entity.UploadStatusQueued,
		entity.UploadStatusCompressing,
		entity.UploadStatusTransferring,
		entity.UploadStatusCompleted,
	}, statuses)

	h.recorder.mu.Lock()
	var requeued entity.Upload
	for _, ev := range h.recorder.events[ids[0]] {
		if ev.Status == entity.UploadStatusQueued && ev.Attempts == 1 {
			requeued = ev
		}
	}
	h.recorder.mu.Unlock()
	assert.Zero(t, requeued.UploadByteSize)
	assert.Zero(t, requeued.CompressedByteSize)
	assert.Empty(t, requeued.RemoteURL)

	got, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusCompleted, got.Status)
	assert.Equal(t, "https://store/retried", got.RemoteURL)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.Err)
}

func TestRetryIgnoresActiveAndUnknown(t *testing.T) {
	started := make(chan struct{})
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		close(started)
		<-ctx.Done()
		return "", entity.ErrCanceled
	}}
	h := newHarness(t, fakeCompressor{size: 10}, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{sourceFile(100)})
	require.NoError(t, err)
	waitFor(t, started)

	require.NoError(t, h.uc.Retry(context.Background(), ids[0]))
	require.NoError(t, h.uc.Retry(context.Background(), "unknown"))
	require.NoError(t, h.uc.Cancel(context.Background(), "unknown"))

	got, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusTransferring, got.Status)
	assert.Equal(t, 1, got.Attempts)

	require.NoError(t, h.uc.Cancel(context.Background(), ids[0]))
	require.NoError(t, h.runner.Wait())
	assert.EqualValues(t, 1, trans.calls.Load())
}

func TestStaleRunCannotTouchNewRun(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		if call == 1 {
			close(firstStarted)
			<-releaseFirst
			onProgress(int64(len(file.Data)))
			return "https://store/stale", nil
		}
		onProgress(5)
		return "https://store/fresh", nil
	}}
	h := newHarness(t, fakeCompressor{size: 10}, trans)

	ids, err := h.uc.Submit(context.Background(), []entity.File{sourceFile(100)})
	require.NoError(t, err)
	waitFor(t, firstStarted)

	require.NoError(t, h.uc.Cancel(context.Background(), ids[0]))
	require.NoError(t, h.uc.Retry(context.Background(), ids[0]))

	require.Eventually(t, func() bool {
		got, _ := h.uc.Get(context.Background(), ids[0])
		return got.Status == entity.UploadStatusCompleted
	}, 3*time.Second, 5*time.Millisecond)

	close(releaseFirst)
	require.NoError(t, h.runner.Wait())

	got, err := h.uc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "https://store/fresh", got.RemoteURL)
	assert.Equal(t, int64(5), got.UploadByteSize)
}

func TestSubmitManyDistinctIDs(t *testing.T) {
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		onProgress(int64(len(file.Data)))
		return fmt.Sprintf("https://store/%d", call), nil
	}}
	h := newHarness(t, fakeCompressor{size: 64}, trans)

	files := make([]entity.File, 25)
	for i := range files {
		files[i] = sourceFile(1000 + i)
	}

	ids, err := h.uc.Submit(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, ids, len(files))

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, len(ids))

	require.NoError(t, h.runner.Wait())

	list := h.uc.List(context.Background())
	require.Len(t, list.Uploads, len(files))
	assert.False(t, list.Pending)
	assert.Equal(t, 100, list.GlobalPercentage)
	for _, upload := range list.Uploads {
		assert.Equal(t, entity.UploadStatusCompleted, upload.Status)
		assert.Equal(t, entity.UploadStatusQueued, h.recorder.statuses(upload.ID)[0])
	}
	assert.Len(t, h.uc.Snapshot(context.Background()), len(files))
}

func TestSubmitDoesNotWaitForPipelines(t *testing.T) {
	release := make(chan struct{})
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		<-release
		return "https://store/x", nil
	}}
	h := newHarness(t, fakeCompressor{size: 10}, trans)

	files := make([]entity.File, 30)
	for i := range files {
		files[i] = sourceFile(10)
	}

	done := make(chan struct{})
	go func() {
		_, _ = h.uc.Submit(context.Background(), files)
		close(done)
	}()
	waitFor(t, done)

	close(release)
	require.NoError(t, h.runner.Wait())
}

func TestPipelinesRunPastGoroutineLimit(t *testing.T) {
	const files = 5
	comp := newGatedCompressor(files)
	trans := &fakeTransporter{transfer: func(ctx context.Context, call int32, file entity.File, onProgress func(int64)) (string, error) {
		return "https://store/never", nil
	}}
	h := newHarnessWith(t, context.Background(), 2, comp, trans)

	batch := make([]entity.File, files)
	for i := range batch {
		batch[i] = sourceFile(100)
	}
	ids, err := h.uc.Submit(context.Background(), batch)
	require.NoError(t, err)

	for i := 0; i < files; i++ {
		waitFor(t, comp.started)
	}
	for _, id := range ids {
		got, err := h.uc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, entity.UploadStatusCompressing, got.Status)
		require.NoError(t, h.uc.Cancel(context.Background(), id))
	}

	close(comp.release)
	require.NoError(t, h.runner.Wait())

	for _, id := range ids {
		got, err := h.uc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, entity.UploadStatusCanceled, got.Status)
	}
	assert.Zero(t, trans.calls.Load())
}

func TestGetAndCancelValidation(t *testing.T) {
	h := newHarness(t, fakeCompressor{size: 1}, &fakeTransporter{})

	_, err := h.uc.Get(context.Background(), "missing")
	var perr *pkgerror.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, pkgerror.CodeNotFound, perr.Code())

	err = h.uc.Cancel(context.Background(), " ")
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, pkgerror.CodeInvalidInput, perr.Code())

	err = h.uc.Retry(context.Background(), "")
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, pkgerror.CodeInvalidInput, perr.Code())
}

func TestSubmitMissingDependency(t *testing.T) {
	uc := New(Dependency{})

	_, err := uc.Submit(context.Background(), []entity.File{sourceFile(1)})
	var perr *pkgerror.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, pkgerror.TypeServer, perr.Type())

	_, _, err = uc.Subscribe()
	assert.Error(t, err)
}
