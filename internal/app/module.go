package app

import (
	"log/slog"
	"os"

	"github.com/shandysiswandi/gouploader/internal/uploader"
)

func (a *App) initModules() {
	if a.config.GetBool("modules.uploader.enabled") {
		closer, err := uploader.New(uploader.Dependency{
			Config:    a.config,
			Router:    a.router,
			Goroutine: a.goroutine,
			Context:   a.ctx,
			ID:        a.uuid,
			RunID:     a.runID,
		})
		if err != nil {
			slog.Error("failed to init module uploader", "error", err)
			os.Exit(1)
		}
		if closer != nil {
			a.addCloser("Uploader", closer)
		}
	}
}
