package mcp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Registry holds the tools and resources a server exposes.
//
// Tools are keyed by name and resources by URI. Upserting an existing key replaces the entry in
// place, so listings keep the order in which keys were first registered. Each successful upsert
// raises a change event for the owning Server, which turns it into a list_changed notification
// once the server has started.
type Registry struct {
	scheme string

	mu            sync.RWMutex
	tools         []Tool
	toolIndex     map[string]int
	resources     []Resource
	resourceIndex map[string]int

	onChange func(ListKind)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// ListKind identifies which listing a registry change affects.
type ListKind int

const (
	// ListTools is raised when a tool was registered or replaced.
	ListTools ListKind = iota + 1
	// ListResources is raised when a resource was registered or replaced.
	ListResources
)

// DefaultResourceScheme is prepended to resource URIs registered without a scheme.
const DefaultResourceScheme = "device"

var (
	// ErrEmptyToolName is returned when upserting a tool without a name.
	ErrEmptyToolName = errors.New("tool name is empty")
	// ErrEmptyResourceURI is returned when upserting a resource without a URI.
	ErrEmptyResourceURI = errors.New("resource uri is empty")
	// ErrNilHandler is returned when upserting a tool or resource without a handler.
	ErrNilHandler = errors.New("handler is nil")
	// ErrUnknownPropertyType is returned when a tool argument declares a type outside PropertyType.
	ErrUnknownPropertyType = errors.New("unknown property type")
)

// NewRegistry creates an empty Registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		scheme:        DefaultResourceScheme,
		toolIndex:     make(map[string]int),
		resourceIndex: make(map[string]int),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// WithRegistryScheme sets the scheme prepended to resource URIs that carry none. The value
// is given without the "://" separator.
func WithRegistryScheme(scheme string) RegistryOption {
	return func(r *Registry) {
		scheme = strings.TrimSuffix(scheme, "://")
		if scheme != "" {
			r.scheme = scheme
		}
	}
}

// Scheme returns the default resource scheme.
func (r *Registry) Scheme() string {
	return r.scheme
}

// UpsertTool registers tool, replacing any tool with the same name.
func (r *Registry) UpsertTool(tool Tool) error {
	if err := validateTool(tool); err != nil {
		return err
	}
	tool.InputSchema = normalizeSchema(tool.InputSchema)
	validator, err := compileInputSchema(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
	}
	tool.validator = validator

	r.mu.Lock()
	if idx, ok := r.toolIndex[tool.Name]; ok {
		r.tools[idx] = tool
	} else {
		r.toolIndex[tool.Name] = len(r.tools)
		r.tools = append(r.tools, tool)
	}
	r.mu.Unlock()

	r.changed(ListTools)
	return nil
}

// UpsertResource registers resource, replacing any resource with the same URI. A URI without
// a scheme is prefixed with the registry scheme.
func (r *Registry) UpsertResource(resource Resource) error {
	if err := validateResource(resource); err != nil {
		return err
	}
	resource.URI = r.NormalizeURI(resource.URI)
	if resource.Name == "" {
		resource.Name = resource.URI
	}

	r.mu.Lock()
	if idx, ok := r.resourceIndex[resource.URI]; ok {
		r.resources[idx] = resource
	} else {
		r.resourceIndex[resource.URI] = len(r.resources)
		r.resources = append(r.resources, resource)
	}
	r.mu.Unlock()

	r.changed(ListResources)
	return nil
}

// FindTool returns the tool registered under name.
func (r *Registry) FindTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.toolIndex[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[idx], true
}

// FindResource returns the resource registered under uri. The uri is normalized the same way
// UpsertResource normalizes it.
func (r *Registry) FindResource(uri string) (Resource, bool) {
	uri = r.NormalizeURI(uri)

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.resourceIndex[uri]
	if !ok {
		return Resource{}, false
	}
	return r.resources[idx], true
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, len(r.tools))
	copy(tools, r.tools)
	return tools
}

// Resources returns the registered resources in registration order.
func (r *Registry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]Resource, len(r.resources))
	copy(resources, r.resources)
	return resources
}

// Len returns the number of registered tools and resources.
func (r *Registry) Len() (tools int, resources int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools), len(r.resources)
}

// NormalizeURI prefixes uri with the registry scheme when it has none.
func (r *Registry) NormalizeURI(uri string) string {
	if uri == "" || strings.Contains(uri, "://") {
		return uri
	}
	return r.scheme + "://" + uri
}

func (r *Registry) setOnChange(fn func(ListKind)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Registry) changed(kind ListKind) {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn(kind)
	}
}

func (k ListKind) String() string {
	switch k {
	case ListTools:
		return "tools"
	case ListResources:
		return "resources"
	default:
		return "unknown"
	}
}

func validateTool(tool Tool) error {
	if tool.Name == "" {
		return ErrEmptyToolName
	}
	if tool.Handler == nil {
		return fmt.Errorf("failed to register tool %s: %w", tool.Name, ErrNilHandler)
	}
	for name, prop := range tool.InputSchema.Properties {
		switch prop.Type {
		case "", PropertyTypeString, PropertyTypeNumber, PropertyTypeInteger,
			PropertyTypeBoolean, PropertyTypeObject, PropertyTypeArray:
		default:
			return fmt.Errorf("failed to register tool %s: argument %s: %w %q",
				tool.Name, name, ErrUnknownPropertyType, prop.Type)
		}
	}
	return nil
}

func validateResource(resource Resource) error {
	if resource.URI == "" {
		return ErrEmptyResourceURI
	}
	if resource.Handler == nil {
		return fmt.Errorf("failed to register resource %s: %w", resource.URI, ErrNilHandler)
	}
	return nil
}

func normalizeSchema(schema InputSchema) InputSchema {
	if schema.Type == "" {
		schema.Type = string(PropertyTypeObject)
	}
	if schema.Properties == nil {
		schema.Properties = map[string]Property{}
	}
	if schema.Required == nil {
		schema.Required = []string{}
	}
	return schema
}
