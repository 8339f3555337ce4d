// Package plugin provides the opaque instrument/effect loader registries
// the spec places at the system boundary (§1: "plugin hosting ... treated
// as opaque instantiators"; §5: "Plugin loader registries ... are shared
// read-mostly maps protected by a mutex; load operations are infrequent").
// Nothing in this package knows how to actually make sound; it only
// resolves a PluginDescriptor's name to a constructor and records load
// failures as non-fatal (spec §7).
package plugin

import (
	"fmt"
	"sync"

	"github.com/schollz/riffengine/internal/model"
)

// Instance is whatever a registered constructor returns: an opaque,
// already-initialized plugin. The Track Processor owns it once
// instantiated and releases it by calling Close, when the instance is
// replaced or the Processor is closed (spec §5: "releasing a track
// releases its plugins").
type Instance interface {
	// Name reports the plugin's registered name, for logging.
	Name() string
	// Close releases any resources the instance holds.
	Close() error
}

// Constructor instantiates a plugin from its preset blob.
type Constructor func(desc model.PluginDescriptor) (Instance, error)

// Registry is a read-mostly, mutex-guarded map of plugin name to
// Constructor. One Registry is shared process-wide for instruments and
// another for effects (spec §5).
type Registry struct {
	mu           sync.Mutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds (or replaces) the constructor for a plugin name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Names returns the registered plugin names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.constructors))
	for n := range r.constructors {
		names = append(names, n)
	}
	return names
}

// Load instantiates the plugin named in desc. A missing constructor or a
// constructor error is reported back, never panics: callers (the Track
// Processor) treat this as non-fatal per spec §7 ("PluginLoad: logged;
// track continues without the plugin; outward notification emitted").
func (r *Registry) Load(desc model.PluginDescriptor) (Instance, error) {
	r.mu.Lock()
	ctor, ok := r.constructors[desc.Name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("plugin %q is not registered", desc.Name)
	}
	return ctor(desc)
}
