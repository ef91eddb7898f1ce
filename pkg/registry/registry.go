package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/log"
)

// ComponentInfo is the metadata the registry keeps per component name.
type ComponentInfo struct {
	Name         string
	InstanceID   string
	Dependencies []string
	Capabilities []string
	Status       string
	LastActive   time.Time
	CreatedAt    time.Time
}

// Registry assigns and caches a stable instance id per component name
// and records dependency relationships for shutdown ordering.
type Registry struct {
	mu           sync.RWMutex
	ids          map[string]string
	info         map[string]*ComponentInfo
	dependents   map[string]map[string]bool
	logger       zerolog.Logger
}

// New creates an empty Registry. Callers own its lifetime; there is no
// package-level singleton.
func New() *Registry {
	return &Registry{
		ids:        make(map[string]string),
		info:       make(map[string]*ComponentInfo),
		dependents: make(map[string]map[string]bool),
		logger:     log.WithComponent("registry"),
	}
}

// GetID returns the existing instance id for name, allocating one on
// first call. Safe for concurrent use.
func (r *Registry) GetID(name string) string {
	r.mu.RLock()
	if id, ok := r.ids[name]; ok {
		r.mu.RUnlock()
		return id
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock in case another goroutine won the race.
	if id, ok := r.ids[name]; ok {
		return id
	}

	id := uuid.NewString()
	r.ids[name] = id
	if _, ok := r.info[name]; !ok {
		r.info[name] = &ComponentInfo{
			Name:       name,
			InstanceID: id,
			Status:     "active",
			CreatedAt:  time.Now(),
			LastActive: time.Now(),
		}
	}
	r.logger.Debug().Str("component", name).Str("instance_id", id).Msg("assigned instance id")
	return id
}

// Register records dependency/capability metadata for name, allocating
// an instance id if one does not already exist. Idempotent.
func (r *Registry) Register(name string, dependencies, capabilities []string) string {
	id := r.GetID(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	meta := r.info[name]
	meta.Dependencies = dependencies
	meta.Capabilities = capabilities
	meta.LastActive = time.Now()

	for _, dep := range dependencies {
		if r.dependents[dep] == nil {
			r.dependents[dep] = make(map[string]bool)
		}
		r.dependents[dep][name] = true
	}

	return id
}

// Touch updates a component's last-active timestamp, e.g. on every
// broker dispatch to it.
func (r *Registry) Touch(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.info[name]; ok {
		meta.LastActive = time.Now()
	}
}

// Info returns a copy of the registered metadata for name, if any.
func (r *Registry) Info(name string) (ComponentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.info[name]
	if !ok {
		return ComponentInfo{}, false
	}
	return *meta, true
}

// Dependents returns the set of component names that declared a
// dependency on name, used to compute shutdown ordering (dependents
// must stop before their dependencies).
func (r *Registry) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deps := r.dependents[name]
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	return out
}
