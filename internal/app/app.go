package app

import (
	"context"
	"net/http"

	"github.com/shandysiswandi/gouploader/internal/pkg/pkgconfig"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkglog"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgrouter"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkgroutine"
	"github.com/shandysiswandi/gouploader/internal/pkg/pkguid"
)

type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	// configuration
	config pkgconfig.Config

	// libraries
	uuid      pkguid.StringID
	runID     pkguid.NumberID
	goroutine *pkgroutine.Manager

	// server
	router     *pkgrouter.Router
	httpServer *http.Server

	// closed in registration order on Stop
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

func New() *App {
	pkglog.InitLogging()

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		ctx:    ctx,
		cancel: cancel,
	}

	app.initConfig()
	app.initLibraries()
	app.initHTTPServer()
	app.initModules()
	app.initClosers()

	return app
}
