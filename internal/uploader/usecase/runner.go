package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

// processUpload executes one pipeline run: compress, then transfer.
//
// Every failure of the collaborators ends in a terminal status on the record;
// only unexpected store errors are returned. Updates rejected as stale mean a
// cancel or a newer run took the record over, and end this run quietly.
func (u *Usecase) processUpload(ctx context.Context, uploadID string, runID int64, file entity.File) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := slog.With("upload_id", uploadID, "run_id", runID)

	upload, err := u.store.BeginRun(ctx, uploadID, runID, cancel)
	if err != nil {
		return settle(err)
	}
	log.InfoContext(ctx, "upload run started", "attempt", upload.Attempts)

	// Compression is not interruptible. A cancel or shutdown that lands
	// meanwhile is seen as soon as it returns.
	compressed, err := u.compressor.Compress(ctx, file)
	if err != nil {
		log.ErrorContext(ctx, "failed to compress upload", "error", err)
		return u.apply(ctx, uploadID, runID, entity.StatusPatch(entity.UploadStatusFailed).WithErr(err))
	}

	size := compressed.Size()
	if err := u.apply(ctx, uploadID, runID, entity.Patch{CompressedByteSize: &size}); err != nil {
		return err
	}
	if runCtx.Err() != nil {
		// A user cancel already settled the record, which makes this a stale
		// no-op. A shutdown still needs the record moved out of COMPRESSING.
		log.WarnContext(ctx, "upload canceled after compression")
		return u.apply(ctx, uploadID, runID, entity.StatusPatch(entity.UploadStatusCanceled))
	}
	if err := u.apply(ctx, uploadID, runID, entity.StatusPatch(entity.UploadStatusTransferring)); err != nil {
		return err
	}

	key := uploadID + "/" + compressed.Name
	location, err := u.transporter.Transfer(runCtx, key, compressed, func(sent int64) {
		if perr := u.apply(ctx, uploadID, runID, entity.Patch{UploadByteSize: &sent}); perr != nil {
			log.WarnContext(ctx, "failed to record upload progress", "error", perr)
		}
	})

	switch {
	case err == nil:
		log.InfoContext(ctx, "upload completed", "location", location, "bytes", size)
		return u.apply(ctx, uploadID, runID, entity.Patch{
			Status:    ptrStatus(entity.UploadStatusCompleted),
			RemoteURL: &location,
		})
	case errors.Is(err, entity.ErrCanceled) || errors.Is(err, context.Canceled):
		log.WarnContext(ctx, "upload transfer canceled")
		return u.apply(ctx, uploadID, runID, entity.StatusPatch(entity.UploadStatusCanceled))
	default:
		log.ErrorContext(ctx, "failed to transfer upload", "error", err)
		return u.apply(ctx, uploadID, runID, entity.StatusPatch(entity.UploadStatusFailed).WithErr(err))
	}
}

func (u *Usecase) apply(ctx context.Context, uploadID string, runID int64, patch entity.Patch) error {
	_, err := u.store.Apply(ctx, uploadID, runID, patch)
	return settle(err)
}

// settle drops entity.ErrStaleRun: losing ownership of the record is a normal end of a run.
func settle(err error) error {
	if errors.Is(err, entity.ErrStaleRun) {
		return nil
	}
	return err
}

func ptrStatus(s entity.UploadStatus) *entity.UploadStatus {
	return &s
}
