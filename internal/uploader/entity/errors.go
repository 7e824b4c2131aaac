package entity

import "errors"

var (
	// ErrUnsupportedFormat is returned by a preprocessor for media types it does not accept.
	ErrUnsupportedFormat = errors.New("unsupported file type for compression")
	// ErrTransferFailed wraps every non-cancellation transport failure.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrCanceled is returned by a transporter aborted through its context.
	ErrCanceled = errors.New("upload canceled")
	// ErrStaleRun rejects updates from a run that no longer owns the record,
	// either because a newer run started or because the run already ended.
	ErrStaleRun = errors.New("stale pipeline run")
	// ErrIllegalTransition rejects a status change the pipeline state machine does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")
)
