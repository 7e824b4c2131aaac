package store

import (
	"context"
	"sync"
	"time"

	"github.com/shandysiswandi/gouploader/internal/pkg/pkgerror"
	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

// Notifier receives a copy of a record after every accepted mutation.
//
// It is called while the store lock is held so notifications arrive in
// mutation order; implementations must not block or call back into the store.
type Notifier interface {
	Notify(upload entity.Upload)
}

// InMemoryStore owns every upload record for the lifetime of the process.
//
// A single RWMutex guards the whole table so that Snapshot observes all
// records at one instant.
type InMemoryStore struct {
	mu       sync.RWMutex
	uploads  map[string]*uploadRecord
	notifier Notifier
	now      func() time.Time
}

type uploadRecord struct {
	upload entity.Upload
	file   entity.File
	runID  int64
	cancel context.CancelFunc // set iff upload.Status.IsActive()
}

func NewInMemoryStore(notifier Notifier) *InMemoryStore {
	return &InMemoryStore{
		uploads:  make(map[string]*uploadRecord),
		notifier: notifier,
		now:      time.Now,
	}
}

// CreateUpload inserts a QUEUED record owned by runID.
func (s *InMemoryStore) CreateUpload(ctx context.Context, upload entity.Upload, file entity.File, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.uploads[upload.ID]; exists {
		return pkgerror.ErrAlreadyExists
	}

	upload.Status = entity.UploadStatusQueued
	upload.UploadByteSize = 0
	upload.CompressedByteSize = 0
	upload.RemoteURL = ""
	upload.Err = ""
	upload.UpdatedAt = s.now()

	rec := &uploadRecord{upload: upload, file: file, runID: runID}
	s.uploads[upload.ID] = rec
	s.notify(rec)

	return nil
}

// BeginRun moves a QUEUED record owned by runID to COMPRESSING, clears the
// results of any previous run and attaches cancel as its cancellation handle.
func (s *InMemoryStore) BeginRun(ctx context.Context, uploadID string, runID int64, cancel context.CancelFunc) (entity.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.uploads[uploadID]
	if !ok {
		return entity.Upload{}, pkgerror.ErrNotFound
	}

	if rec.runID != runID || rec.upload.Status != entity.UploadStatusQueued {
		return rec.upload, entity.ErrStaleRun
	}

	rec.upload.Status = entity.UploadStatusCompressing
	rec.upload.UploadByteSize = 0
	rec.upload.CompressedByteSize = 0
	rec.upload.RemoteURL = ""
	rec.upload.Err = ""
	rec.upload.Attempts++
	rec.upload.UpdatedAt = s.now()
	rec.cancel = cancel
	s.notify(rec)

	return rec.upload, nil
}

// Apply merges patch into the record as one atomic read-merge-write.
//
// Updates from a run other than the record's current one, or arriving after
// the current run reached a terminal status, are rejected with
// entity.ErrStaleRun. Transferred bytes never decrease within a run and never
// exceed the compressed size; a remote URL is kept only with COMPLETED.
func (s *InMemoryStore) Apply(ctx context.Context, uploadID string, runID int64, patch entity.Patch) (entity.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.uploads[uploadID]
	if !ok {
		return entity.Upload{}, pkgerror.ErrNotFound
	}

	if rec.runID != runID || !rec.upload.Status.IsActive() {
		return rec.upload, entity.ErrStaleRun
	}

	next := rec.upload
	if patch.Status != nil {
		if !next.Status.CanTransition(*patch.Status) {
			return rec.upload, entity.ErrIllegalTransition
		}
		next.Status = *patch.Status
	}

	if patch.CompressedByteSize != nil {
		next.CompressedByteSize = *patch.CompressedByteSize
	}

	if patch.UploadByteSize != nil && *patch.UploadByteSize > next.UploadByteSize {
		next.UploadByteSize = *patch.UploadByteSize
	}
	if next.HasCompressedSize() && next.UploadByteSize > next.CompressedByteSize {
		next.UploadByteSize = next.CompressedByteSize
	}

	if patch.RemoteURL != nil {
		next.RemoteURL = *patch.RemoteURL
	}
	if next.Status != entity.UploadStatusCompleted {
		next.RemoteURL = ""
	}

	if patch.Err != nil {
		next.Err = *patch.Err
	}

	next.UpdatedAt = s.now()
	rec.upload = next
	if next.Status.IsTerminal() {
		rec.cancel = nil
	}
	s.notify(rec)

	return rec.upload, nil
}

// CancelUpload signals the cancellation handle of an active record and marks
// it CANCELED in the same critical section. It returns false, without error,
// when the record is not active.
func (s *InMemoryStore) CancelUpload(ctx context.Context, uploadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.uploads[uploadID]
	if !ok {
		return false, pkgerror.ErrNotFound
	}

	if !rec.upload.Status.IsActive() {
		return false, nil
	}

	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}

	rec.upload.Status = entity.UploadStatusCanceled
	rec.upload.RemoteURL = ""
	rec.upload.UpdatedAt = s.now()
	s.notify(rec)

	return true, nil
}

// RetryUpload resets a FAILED or CANCELED record to QUEUED under the new
// runID and returns its source file. It returns false, without error, when the
// record is not retryable.
func (s *InMemoryStore) RetryUpload(ctx context.Context, uploadID string, runID int64) (entity.File, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.uploads[uploadID]
	if !ok {
		return entity.File{}, false, pkgerror.ErrNotFound
	}

	if !rec.upload.Status.IsRetryable() {
		return entity.File{}, false, nil
	}

	rec.runID = runID
	rec.cancel = nil
	rec.upload.Status = entity.UploadStatusQueued
	rec.upload.UploadByteSize = 0
	rec.upload.CompressedByteSize = 0
	rec.upload.RemoteURL = ""
	rec.upload.Err = ""
	rec.upload.UpdatedAt = s.now()
	s.notify(rec)

	return rec.file, true, nil
}

func (s *InMemoryStore) GetUpload(ctx context.Context, uploadID string) (entity.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.uploads[uploadID]
	if !ok {
		return entity.Upload{}, pkgerror.ErrNotFound
	}

	return rec.upload, nil
}

// Snapshot returns a copy of every record taken at one instant.
func (s *InMemoryStore) Snapshot(ctx context.Context) map[string]entity.Upload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]entity.Upload, len(s.uploads))
	for id, rec := range s.uploads {
		out[id] = rec.upload
	}

	return out
}

func (s *InMemoryStore) notify(rec *uploadRecord) {
	if s.notifier != nil {
		s.notifier.Notify(rec.upload)
	}
}
