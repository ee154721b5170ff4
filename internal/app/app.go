package app

import (
	"context"
	"errors"
	"net/http"

	"gitlab.com/nevasik7/alerting/logger"
)

type App struct {
	log        logger.Logger
	metricsSrv *http.Server
}

func New(log logger.Logger, metricsSrv *http.Server) *App {
	return &App{log: log, metricsSrv: metricsSrv}
}

func (a *App) Start() error {
	a.log.Debug("App started begin...")

	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Fatalf("Start metrics server is error=%v", err)
			}
		}()
	}

	a.log.Info("App started")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debug("App stopped begin...")

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			return err
		}
	}

	a.log.Info("App stopped")
	return nil
}
