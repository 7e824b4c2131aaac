package entity

import "time"

// Upload is a point-in-time copy of one submitted file's lifecycle.
//
// Values handed out by the registry are copies; mutating them has no effect
// on the registry.
type Upload struct {
	ID          string
	Name        string
	ContentType string
	Status      UploadStatus
	Err         string

	OriginalByteSize int64
	// CompressedByteSize is zero until preprocessing succeeds.
	CompressedByteSize int64
	// UploadByteSize is the number of bytes transferred by the current run.
	UploadByteSize int64
	// RemoteURL is set only when Status is COMPLETED.
	RemoteURL string

	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCompressedSize reports whether preprocessing has produced a size.
func (u Upload) HasCompressedSize() bool {
	return u.CompressedByteSize > 0
}

// File is a submitted or preprocessed file held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the file size in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Patch is a field-level partial update; nil fields are left untouched.
type Patch struct {
	Status             *UploadStatus
	UploadByteSize     *int64
	CompressedByteSize *int64
	RemoteURL          *string
	Err                *string
}

// StatusPatch builds a Patch that only changes the status.
func StatusPatch(status UploadStatus) Patch {
	return Patch{Status: &status}
}

// WithErr returns a copy of p that also records err as the failure message.
func (p Patch) WithErr(err error) Patch {
	if err != nil {
		msg := err.Error()
		p.Err = &msg
	}
	return p
}
