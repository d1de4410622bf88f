package payload

import (
	"sync"

	"github.com/osbuild/installer-core/internal/installerrors"
)

// InFlight allows at most one call per operation name at a time.
type InFlight struct {
	mu      sync.Mutex
	running map[string]bool
}

// Begin marks op as running and returns the func that ends it. It fails
// with a state error when op is already running.
func (f *InFlight) Begin(op string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == nil {
		f.running = map[string]bool{}
	}
	if f.running[op] {
		return nil, installerrors.State("%s is already in progress", op)
	}
	f.running[op] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.running, op)
	}, nil
}

// Running reports whether op is in flight.
func (f *InFlight) Running(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[op]
}
