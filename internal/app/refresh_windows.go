//go:build windows

package app

import "context"

// WatchRefreshSignal is a no-op; there is no user signal on windows.
func (a *App) WatchRefreshSignal(ctx context.Context) {}
