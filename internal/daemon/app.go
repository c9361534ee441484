// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// App runs the background loops of a Runtime next to the Manager's endpoints.
// The first loop to fail stops the others.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	runtime      *Runtime
	reloadSignal os.Signal
}

// NewApp reloads channels on SIGHUP.
func NewApp(logger zerolog.Logger, manager Manager, rt *Runtime) *App {
	return &App{logger: logger, manager: manager, runtime: rt, reloadSignal: syscall.SIGHUP}
}

// Run blocks until ctx ends or a loop fails. The manager's shutdown hooks
// release the runtime.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	g, ctx := errgroup.WithContext(ctx)

	if rt := a.runtime; rt != nil {
		a.watchChannels(ctx, g, rt)
		if a.reloadSignal != nil {
			g.Go(func() error { return a.reloadOnSignal(ctx, rt) })
		}
		g.Go(func() error { return rt.Intake.Run(ctx) })
		g.Go(func() error { return rt.Dispatcher.RunSweeper(ctx, rt.Config.Distribution.SweepInterval) })
		g.Go(func() error {
			rt.Ticker.Run(ctx)
			return nil
		})
	}
	g.Go(func() error { return a.manager.Start(ctx) })

	return g.Wait()
}

// watchChannels applies channel file edits to running capture workers. A
// watcher that cannot start leaves SIGHUP and the freshness window as the
// only reload paths.
func (a *App) watchChannels(ctx context.Context, g *errgroup.Group, rt *Runtime) {
	if err := rt.Store.Watch(ctx); err != nil {
		a.logger.Warn().Err(err).Str("event", "channels.watch_failed").Msg("channels file is not watched")
	}
	changed := make(chan struct{}, 1)
	rt.Store.Subscribe(changed)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
				rt.Supervisor.Reconcile(rt.Registry.Channels(), rt.Config.Capture.StopTimeout)
			}
		}
	})
}

func (a *App) reloadOnSignal(ctx context.Context, rt *Runtime) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, a.reloadSignal)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig:
			a.logger.Info().Str("event", "channels.reload_signal").Str("signal", a.reloadSignal.String()).Msg("reloading channels")
			rt.Reload()
		}
	}
}
