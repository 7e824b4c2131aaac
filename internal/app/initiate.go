package app

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/cors"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgconfig"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkglog"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgrouter"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgroutine"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkguid"
)

const defaultMaxGoroutine = 100

func (a *App) initConfig() {
	path := "/config/config.yaml"
	if os.Getenv("LOCAL") == "true" {
		path = "./config/config.yaml"
	}

	cfg, err := pkgconfig.NewViper(path)
	if err != nil {
		slog.Error("failed to init config", "error", err)
		os.Exit(1)
	}

	//nolint:errcheck,gosec // ignore error
	os.Setenv("TZ", cfg.GetString("tz"))

	if lvl := cfg.GetString("log.level"); lvl != "" {
		pkglog.SetLevel(lvl)
	}

	a.config = cfg
}

func (a *App) initLibraries() {
	maxGoroutine := int(a.config.GetInt("goroutine.max"))
	if maxGoroutine <= 0 {
		maxGoroutine = defaultMaxGoroutine
	}
	a.goroutine = pkgroutine.NewManager(maxGoroutine)
	a.uuid = pkguid.NewUUID()

	runID, err := pkguid.NewSnowflake()
	if err != nil {
		slog.Error("failed to init snowflake", "error", err)
		os.Exit(1)
	}
	a.runID = runID
}

func (a *App) initHTTPServer() {
	a.router = pkgrouter.NewRouter(a.uuid)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{pkgrouter.HeaderCorrelationID},
		AllowCredentials: true,
	})

	// No WriteTimeout: event streams stay open for as long as the client listens.
	a.httpServer = &http.Server{
		Addr:              a.config.GetString("server.address.http"),
		Handler:           corsHandler.Handler(a.router),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return a.ctx
		},
	}
}

func (a *App) initClosers() {
	a.addCloser("Config", func(context.Context) error {
		return a.config.Close()
	})
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}
