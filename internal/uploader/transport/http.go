package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

const maxResponseBytes = 1 << 20

// HTTP posts files as multipart/form-data with a single "file" field to a
// storage endpoint answering {"url": "..."}.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP returns an HTTP transporter. A zero timeout leaves requests bounded
// only by their context.
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type storageResponse struct {
	URL string `json:"url"`
}

func (h *HTTP) Transfer(ctx context.Context, key string, file entity.File, onProgress func(sent int64)) (string, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	body := newProgressReader(bytes.NewReader(file.Data), onProgress)
	body.start()

	go func() {
		pw.CloseWithError(writeMultipart(writer, file, body))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, pr)
	if err != nil {
		return "", fmt.Errorf("build request: %w: %w", entity.ErrTransferFailed, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Object-Key", key)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", classify(ctx, "post "+h.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		//nolint:errcheck // best effort drain for connection reuse
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", fmt.Errorf("post %s: status %d: %w", h.endpoint, resp.StatusCode, entity.ErrTransferFailed)
	}

	var out storageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", classify(ctx, "decode storage response", err)
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", fmt.Errorf("storage response without url: %w", entity.ErrTransferFailed)
	}

	return out.URL, nil
}

func writeMultipart(writer *multipart.Writer, file entity.File, body io.Reader) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, body); err != nil {
		return err
	}

	return writer.Close()
}

//nolint:gochecknoglobals // same escaping as mime/multipart
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
