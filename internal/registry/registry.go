package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/node"
)

// Module is the interface that all built-in modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the libraries and models available to one application instance.
type Registry struct {
	libraries map[string]abi.Plugin
	models    map[string]node.Model
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		libraries: make(map[string]abi.Plugin),
		models:    make(map[string]node.Model),
	}
}

// RegisterLibrary registers a plugin under name for custom nodes.
func (r *Registry) RegisterLibrary(name string, lib abi.Plugin) {
	if _, exists := r.libraries[name]; exists {
		panic(fmt.Sprintf("library with name '%s' already registered", name))
	}
	slog.Debug("Registering library.", "name", name)
	r.libraries[name] = lib
}

// RegisterModel registers a model under name for model nodes.
func (r *Registry) RegisterModel(name string, m node.Model) {
	if _, exists := r.models[name]; exists {
		panic(fmt.Sprintf("model with name '%s' already registered", name))
	}
	slog.Debug("Registering model.", "name", name)
	r.models[name] = m
}

// Library returns the plugin registered under name.
func (r *Registry) Library(name string) (abi.Plugin, bool) {
	lib, ok := r.libraries[name]
	return lib, ok
}

// Model returns the model registered under name.
func (r *Registry) Model(name string) (node.Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Libraries returns the registered library names in ascending order.
func (r *Registry) Libraries() []string {
	names := make([]string, 0, len(r.libraries))
	for name := range r.libraries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns the registered model names in ascending order.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
