package preset

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

// Registry holds presets by name.
type Registry struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

// Global default registry
var defaultRegistry = NewRegistry()

// NewRegistry creates a registry holding the builtin presets.
func NewRegistry() *Registry {
	r := &Registry{presets: make(map[string]Preset)}
	for _, p := range Builtin() {
		r.presets[p.Name] = p
	}
	return r
}

// Register adds or replaces a preset after validating it.
func (r *Registry) Register(p Preset) error {
	if err := p.Validate(); err != nil {
		return svcerr.Wrap(err, svcerr.CodeInvalidParams, "invalid preset")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[p.Name] = p
	return nil
}

// Get returns a preset by name.
func (r *Registry) Get(name string) (Preset, error) {
	r.mu.RLock()
	p, ok := r.presets[name]
	r.mu.RUnlock()

	if !ok {
		return Preset{}, svcerr.InvalidParams(fmt.Sprintf("unknown preset: %s", name)).
			WithContext("available", r.Names())
	}
	return p, nil
}

// Names returns the registered preset names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all presets sorted by name.
func (r *Registry) List() []Preset {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Preset, 0, len(names))
	for _, n := range names {
		out = append(out, r.presets[n])
	}
	return out
}

// File is the on-disk preset document.
type File struct {
	Presets []Preset `yaml:"presets"`
}

// Parse decodes a preset document.
func Parse(data []byte) ([]Preset, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, svcerr.Wrap(err, svcerr.CodeParseFailed, "failed to parse presets")
	}
	return f.Presets, nil
}

// LoadFile registers every preset in a YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return svcerr.FileNotFound(path)
		}
		return svcerr.Wrap(err, svcerr.CodeFilePermission, "failed to read presets").
			WithContext("path", path)
	}
	presets, err := Parse(data)
	if err != nil {
		return err
	}
	return r.RegisterAll(presets)
}

// RegisterAll registers presets, collecting every failure.
func (r *Registry) RegisterAll(presets []Preset) error {
	var errs svcerr.MultiError
	for _, p := range presets {
		errs.Add(r.Register(p))
	}
	return errs.Combined()
}

// --- Global registry functions ---

// Register adds a preset to the default registry.
func Register(p Preset) error {
	return defaultRegistry.Register(p)
}

// Get returns a preset from the default registry.
func Get(name string) (Preset, error) {
	return defaultRegistry.Get(name)
}

// Names lists the default registry.
func Names() []string {
	return defaultRegistry.Names()
}

// Default returns the default registry.
func Default() *Registry {
	return defaultRegistry
}
