package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.0xdad.com/tblyler/meditime/api"
	"git.0xdad.com/tblyler/meditime/config"
	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/logx"
	"github.com/gin-gonic/gin"
	"github.com/jmhodges/clock"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// run the scheduler and HTTP API until SIGINT or SIGTERM
func run(ctx context.Context, cfg config.Config, store db.Store, logger logx.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, closeCache, err := newScheduler(ctx, cfg, store, logger, true)
	if err != nil {
		return err
	}
	defer closeCache()

	loc, err := cfg.Timezone()
	if err != nil {
		return err
	}

	addr, err := cfg.HTTPAddr()
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.New(sched, store, clock.New(), loc, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		logger.Info("http api listening", logx.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(srv.Shutdown(shutdownCtx), sched.Stop(shutdownCtx))
	})

	if file, ok := cfg.(*config.File); ok {
		g.Go(func() error {
			err := file.Watch(gctx, func(next *config.File, err error) {
				if err != nil {
					logger.Warn("config reload rejected", logx.String("path", file.Path()), logx.Err(err))
					return
				}

				if err := applyReload(logger, next); err != nil {
					logger.Warn("config reload rejected", logx.String("path", file.Path()), logx.Err(err))
					return
				}

				logger.Info("config reloaded", logx.String("path", file.Path()))
			})
			if err != nil {
				logger.Warn("config watch stopped", logx.Err(err))
			}

			return nil
		})
	}

	logger.Info("meditime running", logx.String("tz", loc.String()))

	err = g.Wait()
	logger.Info("meditime stopped")

	return err
}

// applyReload applies the settings of a reloaded config that can change
// without a restart
func applyReload(logger logx.Logger, next config.Config) error {
	level, err := next.LogLevel()
	if err != nil {
		return err
	}

	logger.SetLevel(level)

	return nil
}
