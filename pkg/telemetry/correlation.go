package telemetry

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the side-channel mapping from in-flight frame IDs to
// telemetry correlation IDs. It is observability state only; response
// matching never consults it.
type Registry struct {
	mu        sync.Mutex
	byRequest map[string]string
}

// NewRegistry creates an empty correlation registry.
func NewRegistry() *Registry {
	return &Registry{byRequest: make(map[string]string)}
}

// Register allocates a correlation ID for a frame ID and remembers the
// mapping until Forget is called.
func (r *Registry) Register(frameID string) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRequest[frameID] = id
	return id
}

// Lookup returns the correlation ID for a frame ID, if registered.
func (r *Registry) Lookup(frameID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byRequest[frameID]
	return id, ok
}

// Forget removes the mapping for a frame ID once its flow settles.
func (r *Registry) Forget(frameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byRequest, frameID)
}
