package vfs

import (
	"context"

	"github.com/kestrel-os/kestrel/internal/klock"
)

// RunSyncWorker loops yield(2000); sync() until ctx is cancelled, the Go
// translation of vfs_sync_worker. y is typically a *sched.Thread.
func RunSyncWorker(ctx context.Context, y klock.Yielder, registry *Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		y.Yield(2000)
		_ = registry.SyncAll(ctx)
	}
}
