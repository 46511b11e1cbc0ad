package vfs

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/kestrel-os/kestrel/internal/klog"
)

// Registry is the name → driver table filesystem drivers register into,
// analogous to the teacher's fs.Register backend table.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*driverAdapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]*driverAdapter)}
}

// Install registers a driver under name, wrapping any unset OpSet field with
// the ENOSYS sentinel. Installing under an already-registered name fails.
func (r *Registry) Install(name string, ops OpSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[name]; exists {
		return kerrors.ErrExists
	}
	r.drivers[name] = newDriverAdapter(name, ops)
	return nil
}

// Lookup returns the driver registered under name.
func (r *Registry) Lookup(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[name]
	return d, ok
}

// SyncAll invokes Sync concurrently on every registered driver. An
// individual driver's failure is logged and does not affect the others or
// the overall return; SyncAll only reports its own fan-out failures, none
// of which the current drivers can cause.
func (r *Registry) SyncAll(ctx context.Context) error {
	r.mu.RLock()
	drivers := make([]*driverAdapter, 0, len(r.drivers))
	for _, d := range r.drivers {
		drivers = append(drivers, d)
	}
	r.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, d := range drivers {
		d := d
		g.Go(func() error {
			if err := d.Sync(); err != nil {
				klog.Warnf(d.name, "sync failed: %v", err)
			}
			return nil
		})
	}
	return g.Wait()
}
