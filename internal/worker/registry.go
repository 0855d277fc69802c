package worker

import "sync"

// Registry maps job type identifiers to handlers. Registration is
// process-lifetime; the queue engine never consults it — only the pool does.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns a Registry with the built-in handlers (ping,
// location.upsert) pre-registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register("ping", PingHandler)
	r.Register("location.upsert", LocationUpsertHandler)
	return r
}

// Register associates h with the job type. Later registrations replace
// earlier ones.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for jobType, or nil when none is registered.
func (r *Registry) Get(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}
