// Package tools provides the tool registry consulted by the agent loop and built-in tools.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrToolNotFound is returned by Get for names that were never registered.
var ErrToolNotFound = errors.New("tool not found")

// ToolMeta contains metadata about a tool for documentation and discovery.
type ToolMeta struct {
	Name        string
	Description string
	InputSchema InputSchema
}

// ToolRegistry maps tool names to executable tools. Safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry pre-populated with the given tools.
func NewRegistry(initial ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool, len(initial))}
	for _, t := range initial {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds or replaces a tool under its own name.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	return nil
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Contains reports whether name is registered.
func (r *ToolRegistry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Remove unregisters name and reports whether it was present.
func (r *ToolRegistry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns metadata for every registered tool, sorted by name.
func (r *ToolRegistry) List() []ToolMeta {
	defs := r.Definitions()
	result := make([]ToolMeta, len(defs))
	for i := range defs {
		result[i] = ToolMeta{
			Name:        defs[i].Name,
			Description: defs[i].Description,
			InputSchema: defs[i].InputSchema,
		}
	}
	return result
}

// Definitions returns the definitions sent to the decision-maker, sorted by name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// GenerateToolDocumentation renders a markdown list of the registered tools.
func (r *ToolRegistry) GenerateToolDocumentation() string {
	metas := r.List()
	if len(metas) == 0 {
		return "No tools available"
	}

	var doc strings.Builder
	doc.WriteString("## Available Tools\n\n")
	for i := range metas {
		fmt.Fprintf(&doc, "- **%s** - %s\n", metas[i].Name, metas[i].Description)
	}
	return doc.String()
}
