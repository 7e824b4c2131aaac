package inbound

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shandysiswandi/gouploader/internal/pkg/pkgrouter"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgroutine"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkguid"
	"github.com/shandysiswandi/gouploader/internal/uploader/compress"
	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
	"github.com/shandysiswandi/gouploader/internal/uploader/event"
	"github.com/shandysiswandi/gouploader/internal/uploader/store"
	"github.com/shandysiswandi/gouploader/internal/uploader/usecase"
)

type envelope[T any] struct {
	Data T              `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

type stubTransporter struct {
	blockNext atomic.Bool
}

func (s *stubTransporter) Transfer(ctx context.Context, key string, file entity.File, onProgress func(sent int64)) (string, error) {
	onProgress(0)
	if s.blockNext.CompareAndSwap(true, false) {
		onProgress(1)
		<-ctx.Done()
		return "", fmt.Errorf("stub transfer: %w", entity.ErrCanceled)
	}

	onProgress(file.Size())
	return "https://files.example.com/" + key, nil
}

type part struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func newTestRouter(t *testing.T, transporter usecase.Transporter, opts Options) (*pkgrouter.Router, *pkgroutine.Manager) {
	t.Helper()

	bus := event.NewBus(64)
	t.Cleanup(bus.Close)

	runID, err := pkguid.NewSnowflake()
	require.NoError(t, err)

	runner := pkgroutine.NewManager(10)
	uc := usecase.New(usecase.Dependency{
		Store:       store.NewInMemoryStore(bus),
		Compressor:  compress.NewImageCompressor(compress.Options{}),
		Transporter: transporter,
		Events:      bus,
		Runner:      runner,
		ID:          pkguid.NewUUID(),
		RunID:       runID,
		RootCtx:     context.Background(),
	})

	router := pkgrouter.NewRouter(pkguid.NewUUID())
	RegisterHTTPEndpoint(router, uc, opts)

	return router, runner
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target string, parts ...part) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		w, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func submit(t *testing.T, router http.Handler, parts ...part) []string {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "/uploads", parts...))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var env envelope[SubmitResponse]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.Len(t, env.Data.UploadIDs, len(parts))

	return env.Data.UploadIDs
}

func getUpload(t *testing.T, router http.Handler, uploadID string) (Upload, int) {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/"+uploadID, nil))

	var env envelope[Upload]
	if rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	}
	return env.Data, rec.Code
}

func waitStatus(t *testing.T, router http.Handler, uploadID string, status entity.UploadStatus) Upload {
	t.Helper()

	var upload Upload
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		upload, _ = getUpload(t, router, uploadID)
		if upload.Status == status {
			return upload
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Failf(t, "upload did not reach status", "upload %s not %s, status=%s", uploadID, status, upload.Status)
	return upload
}

func post(t *testing.T, router http.Handler, target string) int {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
	return rec.Code
}

func TestSubmitProcessList(t *testing.T) {
	router, runner := newTestRouter(t, &stubTransporter{}, Options{})

	ids := submit(t, router,
		part{field: "file", filename: "photo.png", contentType: "image/png", data: pngBytes(t)},
		part{field: "file", filename: "notes.txt", contentType: "text/plain", data: []byte("hello")},
	)

	photo := waitStatus(t, router, ids[0], entity.UploadStatusCompleted)
	assert.Equal(t, "https://files.example.com/"+ids[0]+"/photo.jpg", photo.RemoteURL)
	if assert.NotNil(t, photo.CompressedByteSize) {
		assert.Equal(t, *photo.CompressedByteSize, photo.UploadByteSize)
	}

	notes := waitStatus(t, router, ids[1], entity.UploadStatusFailed)
	assert.Contains(t, notes.Error, "unsupported file type")
	assert.Nil(t, notes.CompressedByteSize)
	assert.Empty(t, notes.RemoteURL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list envelope[ListResponse]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Data.Uploads, 2)
	assert.Equal(t, ids[0], list.Data.Uploads[0].ID)
	assert.Equal(t, float64(100), list.Meta["global_percentage"])
	assert.Equal(t, false, list.Meta["pending"])

	_, code := getUpload(t, router, "unknown")
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, runner.Wait())
}

func TestCancelAndRetry(t *testing.T) {
	transporter := &stubTransporter{}
	transporter.blockNext.Store(true)
	router, runner := newTestRouter(t, transporter, Options{})

	ids := submit(t, router, part{field: "file", filename: "photo.png", contentType: "image/png", data: pngBytes(t)})

	waitStatus(t, router, ids[0], entity.UploadStatusTransferring)

	require.Equal(t, http.StatusAccepted, post(t, router, "/uploads/"+ids[0]+"/cancel"))
	canceled := waitStatus(t, router, ids[0], entity.UploadStatusCanceled)
	assert.Empty(t, canceled.RemoteURL)

	require.Equal(t, http.StatusAccepted, post(t, router, "/uploads/"+ids[0]+"/retry"))
	done := waitStatus(t, router, ids[0], entity.UploadStatusCompleted)
	assert.Equal(t, 2, done.Attempts)

	// Both are no-ops on a completed or unknown upload.
	for _, target := range []string{"/uploads/" + ids[0] + "/cancel", "/uploads/unknown/retry"} {
		assert.Equal(t, http.StatusAccepted, post(t, router, target), target)
	}

	require.NoError(t, runner.Wait())
}

func TestSubmitValidation(t *testing.T) {
	router, _ := newTestRouter(t, &stubTransporter{}, Options{MaxFileBytes: 16})

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{
			name: "not multipart",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader(`{"file":"x"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			}(),
			want: http.StatusBadRequest,
		},
		{
			name: "no file part",
			req:  multipartRequest(t, "/uploads", part{field: "other", filename: "a.png", data: []byte("x")}),
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "file too large",
			req:  multipartRequest(t, "/uploads", part{field: "file", filename: "a.png", data: bytes.Repeat([]byte("x"), 17)}),
			want: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestEventsStream(t *testing.T) {
	router, runner := newTestRouter(t, &stubTransporter{}, Options{})

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, events)
	require.Equal(t, "snapshot", name)

	ids := submit(t, router, part{field: "file", filename: "photo.png", contentType: "image/png", data: pngBytes(t)})

	var seen []entity.UploadStatus
	for {
		name, data := readEvent(t, events)
		if name != "upload" {
			continue
		}

		var upload Upload
		require.NoError(t, json.Unmarshal(data, &upload))
		require.Equal(t, ids[0], upload.ID)
		if len(seen) == 0 || seen[len(seen)-1] != upload.Status {
			seen = append(seen, upload.Status)
		}
		if upload.Status == entity.UploadStatusCompleted {
			break
		}
	}

	want := []entity.UploadStatus{
		entity.UploadStatusQueued,
		entity.UploadStatusCompressing,
		entity.UploadStatusTransferring,
		entity.UploadStatusCompleted,
	}
	assert.Equal(t, want, seen)

	require.NoError(t, runner.Wait())
}

func readEvent(t *testing.T, r *bufio.Reader) (string, []byte) {
	t.Helper()

	var (
		name string
		data []byte
	)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			if name != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}
