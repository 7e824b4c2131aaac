package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shandysiswandi/gouploader/internal/pkg/pkgerror"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkguid"
	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

type Store interface {
	CreateUpload(ctx context.Context, upload entity.Upload, file entity.File, runID int64) error
	BeginRun(ctx context.Context, uploadID string, runID int64, cancel context.CancelFunc) (entity.Upload, error)
	Apply(ctx context.Context, uploadID string, runID int64, patch entity.Patch) (entity.Upload, error)
	CancelUpload(ctx context.Context, uploadID string) (bool, error)
	RetryUpload(ctx context.Context, uploadID string, runID int64) (entity.File, bool, error)
	GetUpload(ctx context.Context, uploadID string) (entity.Upload, error)
	Snapshot(ctx context.Context) map[string]entity.Upload
}

// Compressor produces a smaller re-encoded copy of a file. It must not modify its input.
type Compressor interface {
	Compress(ctx context.Context, file entity.File) (entity.File, error)
}

// Transporter sends a file to remote storage and returns its public location.
//
// onProgress receives the cumulative number of bytes sent. When ctx is
// canceled the transporter returns an error wrapping entity.ErrCanceled.
type Transporter interface {
	Transfer(ctx context.Context, key string, file entity.File, onProgress func(sent int64)) (string, error)
}

type Subscriber interface {
	Subscribe() (<-chan entity.Upload, func())
}

// Runner starts each pipeline in its own tracked goroutine. Pipelines are not
// subject to a concurrency limit: a record that is QUEUED must already be
// running.
type Runner interface {
	Spawn(ctx context.Context, f func(ctx context.Context) error)
}

type Clock interface {
	Now() time.Time
}

type Dependency struct {
	Store       Store
	Compressor  Compressor
	Transporter Transporter
	Events      Subscriber
	Runner      Runner
	Clock       Clock
	ID          pkguid.StringID
	RunID       pkguid.NumberID
	RootCtx     context.Context
}

type Usecase struct {
	store       Store
	compressor  Compressor
	transporter Transporter
	events      Subscriber
	runner      Runner
	clock       Clock
	id          pkguid.StringID
	runID       pkguid.NumberID
	rootCtx     context.Context
}

func New(dep Dependency) *Usecase {
	root := dep.RootCtx
	if root == nil {
		root = context.Background()
	}

	clock := dep.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &Usecase{
		store:       dep.Store,
		compressor:  dep.Compressor,
		transporter: dep.Transporter,
		events:      dep.Events,
		runner:      dep.Runner,
		clock:       clock,
		id:          dep.ID,
		runID:       dep.RunID,
		rootCtx:     root,
	}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// Submit registers one QUEUED record per file and starts a pipeline run for
// each of them. It returns the new ids in input order without waiting for
// any run.
func (u *Usecase) Submit(ctx context.Context, files []entity.File) ([]string, error) {
	if err := u.ready(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		uploadID := u.id.Generate()
		runID := u.runID.Generate()

		if err := u.store.CreateUpload(ctx, entity.Upload{
			ID:               uploadID,
			Name:             file.Name,
			ContentType:      file.ContentType,
			OriginalByteSize: file.Size(),
			CreatedAt:        u.clock.Now(),
		}, file, runID); err != nil {
			return ids, normalizeErr(err)
		}

		slog.InfoContext(ctx, "upload submitted", "upload_id", uploadID, "run_id", runID, "name", file.Name, "bytes", file.Size())
		u.start(uploadID, runID, file)
		ids = append(ids, uploadID)
	}

	return ids, nil
}

// Cancel stops an active upload. Unknown ids and inactive records are ignored.
func (u *Usecase) Cancel(ctx context.Context, uploadID string) error {
	uploadID = strings.TrimSpace(uploadID)
	if uploadID == "" {
		return pkgerror.NewInvalidInput(errors.New("upload_id is required"))
	}

	canceled, err := u.store.CancelUpload(ctx, uploadID)
	if err != nil && !errors.Is(err, pkgerror.ErrNotFound) {
		return normalizeErr(err)
	}

	if canceled {
		slog.InfoContext(ctx, "upload canceled by request", "upload_id", uploadID)
	}

	return nil
}

// Retry starts a new run for a FAILED or CANCELED upload. Unknown ids and
// records in any other status are ignored.
func (u *Usecase) Retry(ctx context.Context, uploadID string) error {
	if err := u.ready(); err != nil {
		return err
	}

	uploadID = strings.TrimSpace(uploadID)
	if uploadID == "" {
		return pkgerror.NewInvalidInput(errors.New("upload_id is required"))
	}

	runID := u.runID.Generate()
	file, ok, err := u.store.RetryUpload(ctx, uploadID, runID)
	if err != nil && !errors.Is(err, pkgerror.ErrNotFound) {
		return normalizeErr(err)
	}
	if !ok {
		return nil
	}

	slog.InfoContext(ctx, "upload retried", "upload_id", uploadID, "run_id", runID)
	u.start(uploadID, runID, file)

	return nil
}

// Snapshot returns a copy of every record, keyed by id, taken at one instant.
func (u *Usecase) Snapshot(ctx context.Context) map[string]entity.Upload {
	return u.store.Snapshot(ctx)
}

func (u *Usecase) Get(ctx context.Context, uploadID string) (entity.Upload, error) {
	uploadID = strings.TrimSpace(uploadID)
	if uploadID == "" {
		return entity.Upload{}, pkgerror.NewInvalidInput(errors.New("upload_id is required"))
	}

	upload, err := u.store.GetUpload(ctx, uploadID)
	if err != nil {
		return entity.Upload{}, mapStoreErr(err)
	}

	return upload, nil
}

// List returns every record ordered by submission together with the
// aggregate progress, both derived from the same snapshot.
func (u *Usecase) List(ctx context.Context) ListResult {
	snapshot := u.store.Snapshot(ctx)

	uploads := make([]entity.Upload, 0, len(snapshot))
	for _, upload := range snapshot {
		uploads = append(uploads, upload)
	}
	sort.Slice(uploads, func(i, j int) bool {
		if uploads[i].CreatedAt.Equal(uploads[j].CreatedAt) {
			return uploads[i].ID < uploads[j].ID
		}
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})

	return ListResult{
		Uploads:          uploads,
		GlobalPercentage: GlobalPercentage(snapshot),
		Pending:          HasPending(snapshot),
	}
}

// Subscribe streams record changes. The returned func must be called to release the subscription.
func (u *Usecase) Subscribe() (<-chan entity.Upload, func(), error) {
	if u.events == nil {
		return nil, nil, pkgerror.NewServer(errors.New("event stream is not configured"))
	}

	ch, unsubscribe := u.events.Subscribe()
	return ch, unsubscribe, nil
}

func (u *Usecase) ready() error {
	if u.store == nil || u.id == nil || u.runID == nil || u.runner == nil || u.compressor == nil || u.transporter == nil {
		return pkgerror.NewServer(errors.New("missing dependency"))
	}
	return nil
}

func (u *Usecase) start(uploadID string, runID int64, file entity.File) {
	u.runner.Spawn(u.rootCtx, func(ctx context.Context) error {
		if err := u.processUpload(ctx, uploadID, runID, file); err != nil {
			slog.ErrorContext(ctx, "upload pipeline aborted", "upload_id", uploadID, "run_id", runID, "error", err)
			return err
		}
		return nil
	})
}

func mapStoreErr(err error) error {
	if errors.Is(err, pkgerror.ErrNotFound) {
		return pkgerror.NewBusiness("upload not found", pkgerror.CodeNotFound)
	}
	return normalizeErr(err)
}

func normalizeErr(err error) error {
	var perr *pkgerror.Error
	if errors.As(err, &perr) {
		return perr
	}
	return pkgerror.NewServer(err)
}
