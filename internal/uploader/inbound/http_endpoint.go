package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/shandysiswandi/gouploader/internal/pkg/pkgerror"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgrouter"
	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

type HTTPEndpoint struct {
	uc           uc
	maxFileBytes int64
	keepAlive    time.Duration
}

func (h *HTTPEndpoint) Submit(ctx context.Context, r *http.Request) (any, error) {
	files, err := extractFiles(r, h.maxFileBytes)
	if err != nil {
		return nil, err
	}

	ids, err := h.uc.Submit(ctx, files)
	if err != nil {
		return nil, err
	}

	return SubmitResponse{UploadIDs: ids}, nil
}

func (h *HTTPEndpoint) List(ctx context.Context, _ *http.Request) (any, error) {
	result := h.uc.List(ctx)

	return ListResponse{
		Uploads:          toHTTPUploads(result.Uploads),
		globalPercentage: result.GlobalPercentage,
		pending:          result.Pending,
	}, nil
}

func (h *HTTPEndpoint) Get(ctx context.Context, _ *http.Request) (any, error) {
	upload, err := h.uc.Get(ctx, pkgrouter.GetParam(ctx, "id"))
	if err != nil {
		return nil, err
	}

	return toHTTPUpload(upload), nil
}

func (h *HTTPEndpoint) Cancel(ctx context.Context, _ *http.Request) (any, error) {
	uploadID := pkgrouter.GetParam(ctx, "id")
	if err := h.uc.Cancel(ctx, uploadID); err != nil {
		return nil, err
	}

	return ActionResponse{UploadID: uploadID, message: "cancel requested"}, nil
}

func (h *HTTPEndpoint) Retry(ctx context.Context, _ *http.Request) (any, error) {
	uploadID := pkgrouter.GetParam(ctx, "id")
	if err := h.uc.Retry(ctx, uploadID); err != nil {
		return nil, err
	}

	return ActionResponse{UploadID: uploadID, message: "retry requested"}, nil
}

// Events streams record changes as server-sent events. The first event is a
// full snapshot; every later "upload" event carries one changed record.
func (h *HTTPEndpoint) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	updates, unsubscribe, err := h.uc.Subscribe()
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to upload events", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	result := h.uc.List(ctx)
	if err := writeEvent(w, "snapshot", snapshotEvent{
		Uploads:          toHTTPUploads(result.Uploads),
		GlobalPercentage: result.GlobalPercentage,
		Pending:          result.Pending,
	}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case upload, open := <-updates:
			if !open {
				return
			}
			if err := writeEvent(w, "upload", toHTTPUpload(upload)); err != nil {
				slog.WarnContext(ctx, "event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, name string, data any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, bytes.TrimRight(buf.Bytes(), "\n"))
	return err
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	//nolint:errcheck,errchkjson // best effort
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// extractFiles reads every "file" part of a multipart request into memory.
// Other parts are skipped.
func extractFiles(r *http.Request, maxFileBytes int64) ([]entity.File, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.EqualFold(mediaType, "multipart/form-data") {
		return nil, pkgerror.NewInvalidFormat()
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, pkgerror.NewInvalidFormat()
	}

	var files []entity.File
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pkgerror.NewInvalidFormat()
		}

		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		file, err := readPart(part.FileName(), part.Header.Get("Content-Type"), part, maxFileBytes)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	if len(files) == 0 {
		return nil, pkgerror.NewInvalidInput(errors.New("file part is required"))
	}

	return files, nil
}

func readPart(name, contentType string, src io.Reader, maxFileBytes int64) (entity.File, error) {
	if name == "" {
		name = "file"
	}

	if maxFileBytes > 0 {
		src = io.LimitReader(src, maxFileBytes+1)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return entity.File{}, pkgerror.NewInvalidFormat()
	}
	if maxFileBytes > 0 && int64(len(data)) > maxFileBytes {
		return entity.File{}, pkgerror.NewTooLarge(fmt.Sprintf("file %q exceeds %d bytes", name, maxFileBytes))
	}

	return entity.File{Name: name, ContentType: contentType, Data: data}, nil
}
