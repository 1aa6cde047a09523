// Package source keeps the mail source strategies known to the application.
package source

import (
	"fmt"
	"slices"

	"MailPrompter/internal/ports"
)

// Registry keeps a mapping from source names to their implementations.
type Registry struct {
	sources map[string]ports.MailSource
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]ports.MailSource{}}
}

// Register adds or replaces a source implementation.
func (r *Registry) Register(src ports.MailSource) {
	if r.sources == nil {
		r.sources = map[string]ports.MailSource{}
	}
	r.sources[src.Name()] = src
}

// Resolve returns a source by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.MailSource, error) {
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("mail source %s is not registered (known: %v)", name, r.Names())
}

// Names lists the registered sources alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
