package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shandysiswandi/gouploader/internal/pkg/pkgconfig"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgrouter"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgroutine"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkguid"
	"github.com/shandysiswandi/gouploader/internal/uploader/compress"
	"github.com/shandysiswandi/gouploader/internal/uploader/event"
	"github.com/shandysiswandi/gouploader/internal/uploader/inbound"
	"github.com/shandysiswandi/gouploader/internal/uploader/store"
	"github.com/shandysiswandi/gouploader/internal/uploader/transport"
	"github.com/shandysiswandi/gouploader/internal/uploader/usecase"
)

const defaultEventsBuffer = 64

type Dependency struct {
	Config    pkgconfig.Config
	Goroutine *pkgroutine.Manager
	Router    *pkgrouter.Router
	Context   context.Context
	ID        pkguid.StringID
	RunID     pkguid.NumberID
}

func New(dep Dependency) (func(context.Context) error, error) {
	if dep.Context == nil {
		dep.Context = context.Background()
	}
	if dep.ID == nil {
		dep.ID = pkguid.NewUUID()
	}
	if dep.RunID == nil {
		runID, err := pkguid.NewSnowflake()
		if err != nil {
			return nil, fmt.Errorf("init run id generator: %w", err)
		}
		dep.RunID = runID
	}

	transporter, err := newTransporter(dep.Context, dep.Config)
	if err != nil {
		return nil, err
	}

	buffer := int(dep.Config.GetInt("uploader.events_buffer"))
	if buffer <= 0 {
		buffer = defaultEventsBuffer
	}
	bus := event.NewBus(buffer)

	uc := usecase.New(usecase.Dependency{
		Store: store.NewInMemoryStore(bus),
		Compressor: compress.NewImageCompressor(compress.Options{
			MaxWidth:  int(dep.Config.GetInt("uploader.compress.max_width")),
			MaxHeight: int(dep.Config.GetInt("uploader.compress.max_height")),
			Quality:   dep.Config.GetFloat("uploader.compress.quality"),
		}),
		Transporter: transporter,
		Events:      bus,
		Runner:      dep.Goroutine,
		ID:          dep.ID,
		RunID:       dep.RunID,
		RootCtx:     dep.Context,
	})

	inbound.RegisterHTTPEndpoint(dep.Router, uc, inbound.Options{
		MaxFileBytes: dep.Config.GetInt("uploader.max_file_bytes"),
	})

	var retrier *event.AutoRetrier
	if maxAttempts := int(dep.Config.GetInt("uploader.auto_retry.max_attempts")); maxAttempts > 1 {
		retrier = event.NewAutoRetrier(bus, uc, dep.Goroutine, event.RetryConfig{
			Workers:     int(dep.Config.GetInt("uploader.auto_retry.workers")),
			MaxAttempts: maxAttempts,
			BaseBackoff: time.Duration(dep.Config.GetInt("uploader.auto_retry.base_backoff_ms")) * time.Millisecond,
		})
		retrier.Start(dep.Context)
	}

	return func(ctx context.Context) error {
		var err error
		if retrier != nil {
			err = retrier.Stop(ctx)
		}
		bus.Close()
		return err
	}, nil
}

func newTransporter(ctx context.Context, cfg pkgconfig.Config) (usecase.Transporter, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.GetString("uploader.transport.driver")))

	switch driver {
	case "", "http":
		endpoint := cfg.GetString("uploader.transport.http.endpoint")
		if endpoint == "" {
			return nil, fmt.Errorf("uploader.transport.http.endpoint is required")
		}
		timeout := time.Duration(cfg.GetInt("uploader.transport.http.timeout_ms")) * time.Millisecond
		slog.Info("uploader transport selected", "driver", "http", "endpoint", endpoint)
		return transport.NewHTTP(endpoint, timeout), nil

	case "s3":
		slog.Info("uploader transport selected", "driver", "s3", "bucket", cfg.GetString("uploader.transport.s3.bucket"))
		return transport.NewS3(ctx, transport.S3Config{
			Bucket:    cfg.GetString("uploader.transport.s3.bucket"),
			Region:    cfg.GetString("uploader.transport.s3.region"),
			Endpoint:  cfg.GetString("uploader.transport.s3.endpoint"),
			AccessKey: cfg.GetString("uploader.transport.s3.access_key"),
			SecretKey: cfg.GetString("uploader.transport.s3.secret_key"),
			PathStyle: cfg.GetBool("uploader.transport.s3.force_path_style"),
			PublicURL: cfg.GetString("uploader.transport.s3.public_url"),
		})

	case "minio":
		slog.Info("uploader transport selected", "driver", "minio", "endpoint", cfg.GetString("uploader.transport.minio.endpoint"))
		return transport.NewMinIO(transport.MinIOConfig{
			Endpoint:  cfg.GetString("uploader.transport.minio.endpoint"),
			Bucket:    cfg.GetString("uploader.transport.minio.bucket"),
			AccessKey: cfg.GetString("uploader.transport.minio.access_key"),
			SecretKey: cfg.GetString("uploader.transport.minio.secret_key"),
			Secure:    cfg.GetBool("uploader.transport.minio.secure"),
			Region:    cfg.GetString("uploader.transport.minio.region"),
			PublicURL: cfg.GetString("uploader.transport.minio.public_url"),
		})

	default:
		return nil, fmt.Errorf("unknown uploader transport driver %q", driver)
	}
}
