//go:build !windows

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WatchRefreshSignal turns SIGUSR1 into refresh requests until ctx ends.
func (a *App) WatchRefreshSignal(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				a.log.Debug().Msg("refresh requested by signal")
				a.RequestRefresh()
			}
		}
	}()
}
