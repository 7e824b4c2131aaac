package inbound

import (
	"net/http"
	"time"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

type Upload struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	ContentType        string              `json:"content_type"`
	Status             entity.UploadStatus `json:"status"`
	Error              string              `json:"error,omitempty"`
	OriginalByteSize   int64               `json:"original_byte_size"`
	CompressedByteSize *int64              `json:"compressed_byte_size"`
	UploadByteSize     int64               `json:"upload_byte_size"`
	RemoteURL          string              `json:"remote_url,omitempty"`
	Attempts           int                 `json:"attempts"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

type SubmitResponse struct {
	UploadIDs []string `json:"upload_ids"`
}

func (SubmitResponse) StatusCode() int {
	return http.StatusAccepted
}

func (SubmitResponse) Message() string {
	return "upload accepted"
}

type ListResponse struct {
	Uploads          []Upload `json:"uploads"`
	globalPercentage int
	pending          bool
}

func (r ListResponse) Meta() map[string]any {
	return map[string]any{
		"global_percentage": r.globalPercentage,
		"pending":           r.pending,
	}
}

type ActionResponse struct {
	UploadID string `json:"upload_id"`
	message  string
}

func (ActionResponse) StatusCode() int {
	return http.StatusAccepted
}

func (r ActionResponse) Message() string {
	return r.message
}

type snapshotEvent struct {
	Uploads          []Upload `json:"uploads"`
	GlobalPercentage int      `json:"global_percentage"`
	Pending          bool     `json:"pending"`
}

func toHTTPUpload(u entity.Upload) Upload {
	out := Upload{
		ID:               u.ID,
		Name:             u.Name,
		ContentType:      u.ContentType,
		Status:           u.Status,
		Error:            u.Err,
		OriginalByteSize: u.OriginalByteSize,
		UploadByteSize:   u.UploadByteSize,
		RemoteURL:        u.RemoteURL,
		Attempts:         u.Attempts,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
	if u.HasCompressedSize() {
		size := u.CompressedByteSize
		out.CompressedByteSize = &size
	}
	return out
}

func toHTTPUploads(uploads []entity.Upload) []Upload {
	out := make([]Upload, 0, len(uploads))
	for _, u := range uploads {
		out = append(out, toHTTPUpload(u))
	}
	return out
}
