package inbound

import (
	"context"
	"net/http"
	"time"

	"github.com/shandysiswandi/gouploader/internal/pkg/pkgrouter"
	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
	"github.com/shandysiswandi/gouploader/internal/uploader/usecase"
)

const defaultKeepAlive = 15 * time.Second

type uc interface {
	Submit(ctx context.Context, files []entity.File) ([]string, error)
	Cancel(ctx context.Context, uploadID string) error
	Retry(ctx context.Context, uploadID string) error
	Get(ctx context.Context, uploadID string) (entity.Upload, error)
	List(ctx context.Context) usecase.ListResult
	Subscribe() (<-chan entity.Upload, func(), error)
}

type Options struct {
	// MaxFileBytes bounds every submitted file; zero or less disables the check.
	MaxFileBytes int64
	// KeepAlive is the interval of comment lines on idle event streams.
	KeepAlive time.Duration
}

func RegisterHTTPEndpoint(r *pkgrouter.Router, uc uc, opts Options) {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}

	end := &HTTPEndpoint{uc: uc, maxFileBytes: opts.MaxFileBytes, keepAlive: opts.KeepAlive}

	r.POST("/uploads", end.Submit)
	r.GET("/uploads", end.List)
	r.GET("/uploads/:id", end.Get)
	r.POST("/uploads/:id/cancel", end.Cancel)
	r.POST("/uploads/:id/retry", end.Retry)

	r.Handle(http.MethodGet, "/events", http.HandlerFunc(end.Events))
}
