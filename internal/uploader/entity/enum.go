package entity

type UploadStatus string

const (
	UploadStatusQueued       UploadStatus = "QUEUED"
	UploadStatusCompressing  UploadStatus = "COMPRESSING"
	UploadStatusTransferring UploadStatus = "TRANSFERRING"
	UploadStatusCompleted    UploadStatus = "COMPLETED"
	UploadStatusFailed       UploadStatus = "FAILED"
	UploadStatusCanceled     UploadStatus = "CANCELED"
)

// transitions lists the moves a pipeline run may make. Retry (terminal back
// to QUEUED) is not a run transition and is handled by the registry itself.
//
//nolint:gochecknoglobals // read-only lookup table
var transitions = map[UploadStatus][]UploadStatus{
	UploadStatusQueued:       {UploadStatusCompressing},
	UploadStatusCompressing:  {UploadStatusTransferring, UploadStatusFailed, UploadStatusCanceled},
	UploadStatusTransferring: {UploadStatusCompleted, UploadStatusFailed, UploadStatusCanceled},
}

// IsActive reports whether a pipeline run currently owns the record and can be canceled.
func (s UploadStatus) IsActive() bool {
	return s == UploadStatusCompressing || s == UploadStatusTransferring
}

// IsTerminal reports whether the status ends a run.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed || s == UploadStatusCanceled
}

// IsRetryable reports whether Retry may start a new run from this status.
func (s UploadStatus) IsRetryable() bool {
	return s == UploadStatusFailed || s == UploadStatusCanceled
}

// CanTransition reports whether a run may move a record from s to next.
// Staying in the same status is always allowed.
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	if s == next {
		return true
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
