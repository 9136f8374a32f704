package backend

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Observer is notified of registry changes. Callbacks run synchronously
// after the registry lock is released.
type Observer interface {
	OnServiceRegistered(desc *ServiceDescriptor)
	OnServiceRemoved(name string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Registered func(desc *ServiceDescriptor)
	Removed    func(name string)
}

// OnServiceRegistered implements Observer.
func (o ObserverFuncs) OnServiceRegistered(desc *ServiceDescriptor) {
	if o.Registered != nil {
		o.Registered(desc)
	}
}

// OnServiceRemoved implements Observer.
func (o ObserverFuncs) OnServiceRemoved(name string) {
	if o.Removed != nil {
		o.Removed(name)
	}
}

type serviceEntry struct {
	desc      *ServiceDescriptor
	instances []*Instance

	// Balancer state. rr is shared by every rotation-based strategy; wrrMu
	// guards Instance.currentWeight for smooth weighted round robin.
	rr    atomic.Uint64
	wrrMu sync.Mutex
}

// Registry holds the registered services keyed by name.
type Registry struct {
	mu        sync.RWMutex
	services  map[string]*serviceEntry
	observers []Observer
	logger    *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		services: make(map[string]*serviceEntry),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver subscribes o to registry changes.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Register validates desc, applies defaults and inserts or replaces the
// service. Instances whose URL is unchanged keep their health and counters.
func (r *Registry) Register(desc ServiceDescriptor) error {
	d := desc.Clone()
	if err := d.normalize(); err != nil {
		return err
	}

	r.mu.Lock()
	previous := r.services[d.Name]
	entry, err := newServiceEntry(d, previous)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.services[d.Name] = entry
	observers := r.observers
	r.mu.Unlock()

	r.logger.Info("service registered",
		zap.String("service", d.Name),
		zap.String("pathPrefix", d.PathPrefix),
		zap.Int("instances", len(entry.instances)),
		zap.Bool("replaced", previous != nil),
	)

	for _, o := range observers {
		o.OnServiceRegistered(d.Clone())
	}
	return nil
}

func newServiceEntry(d *ServiceDescriptor, previous *serviceEntry) (*serviceEntry, error) {
	existing := make(map[string]*Instance)
	if previous != nil {
		for _, inst := range previous.instances {
			existing[inst.String()] = inst
		}
	}

	configs := d.instanceConfigs()
	instances := make([]*Instance, 0, len(configs))
	for _, ic := range configs {
		weight := ic.Weight
		if weight < 1 {
			weight = d.Weight
		}
		inst, err := NewInstance(ic.URL, weight)
		if err != nil {
			return nil, err
		}
		if old, ok := existing[inst.String()]; ok && old.weight == inst.weight {
			inst = old
		}
		instances = append(instances, inst)
	}

	return &serviceEntry{desc: d, instances: instances}, nil
}

// Update merges patch into the named service and re-registers it.
func (r *Registry) Update(name string, patch ServicePatch) (*ServiceDescriptor, error) {
	r.mu.RLock()
	entry, ok := r.services[name]
	var d *ServiceDescriptor
	if ok {
		d = entry.desc.Clone()
	}
	r.mu.RUnlock()
	if !ok {
		return nil, ErrServiceNotFound
	}

	patch.apply(d)
	if err := r.Register(*d); err != nil {
		return nil, err
	}
	updated, _ := r.Get(name)
	return updated, nil
}

// Remove deletes the named service and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	_, ok := r.services[name]
	delete(r.services, name)
	observers := r.observers
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Info("service removed", zap.String("service", name))
	for _, o := range observers {
		o.OnServiceRemoved(name)
	}
	return true
}

// Get returns a copy of the named service.
func (r *Registry) Get(name string) (*ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[name]
	if !ok {
		return nil, false
	}
	return entry.desc.Clone(), true
}

// List returns copies of all services sorted by name.
func (r *Registry) List() []*ServiceDescriptor {
	r.mu.RLock()
	out := make([]*ServiceDescriptor, 0, len(r.services))
	for _, entry := range r.services {
		out = append(out, entry.desc.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered service names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Match returns the active service with the longest path prefix covering
// path. A prefix covers a path when it equals it or is followed by "/".
func (r *Registry) Match(path string) (*ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *serviceEntry
	for _, entry := range r.services {
		if !entry.desc.Active() || !prefixCovers(entry.desc.PathPrefix, path) {
			continue
		}
		if best == nil || len(entry.desc.PathPrefix) > len(best.desc.PathPrefix) {
			best = entry
		}
	}
	if best == nil {
		return nil, false
	}
	return best.desc.Clone(), true
}

func prefixCovers(prefix, path string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Instances returns the live instances of the named service.
func (r *Registry) Instances(name string) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[name]
	if !ok {
		return nil
	}
	out := make([]*Instance, len(entry.instances))
	copy(out, entry.instances)
	return out
}

func (r *Registry) entry(name string) (*serviceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[name]
	return entry, ok
}

// activeEntries returns the entries of active services.
func (r *Registry) activeEntries() []*serviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*serviceEntry, 0, len(r.services))
	for _, entry := range r.services {
		if entry.desc.Active() {
			out = append(out, entry)
		}
	}
	return out
}
