// Package catalog holds the set of event types webhooks can subscribe to.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrInvalidName is returned when a definition name is malformed.
var ErrInvalidName = errors.New("catalog: invalid event type name")

// Catalog is a concurrency-safe name → definition registry.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// New creates a catalog holding the given definitions.
func New(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Default returns a catalog with the built-in event types.
func Default() *Catalog {
	c, err := New(builtin...)
	if err != nil {
		panic(err)
	}
	return c
}

// Register adds or replaces a definition.
func (c *Catalog) Register(def Definition) error {
	if !ValidName(def.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, def.Name)
	}

	c.mu.Lock()
	c.defs[def.Name] = def
	c.mu.Unlock()
	return nil
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Known reports whether name is registered.
func (c *Catalog) Known(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// List returns all definitions sorted by name.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Descriptions returns the name → description mapping.
func (c *Catalog) Descriptions() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.defs))
	for name, d := range c.defs {
		out[name] = d.Description
	}
	return out
}

// yamlFile is the on-disk layout accepted by LoadYAML.
type yamlFile struct {
	EventTypes []Definition `yaml:"event_types"`
}

// LoadYAML registers every definition listed under "event_types" in r.
// Nothing is registered if any entry is invalid.
func (c *Catalog) LoadYAML(r io.Reader) (int, error) {
	var f yamlFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("catalog: decode yaml: %w", err)
	}

	for _, d := range f.EventTypes {
		if !ValidName(d.Name) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidName, d.Name)
		}
	}

	for _, d := range f.EventTypes {
		_ = c.Register(d)
	}
	return len(f.EventTypes), nil
}
