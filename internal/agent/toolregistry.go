package agent

import (
	"sort"
	"sync"
)

// TrustCeiling is the maximum skill authority level active in the current
// turn. Tools whose MinTrust exceeds the ceiling are attenuated out of the
// catalog before the model ever sees them -- the model cannot "decide" to
// call a tool it was never shown, regardless of what a Community skill's
// prompt content asks for.
type TrustCeiling int

const (
	// CeilingCommunity is the default: only tools with no elevated trust
	// requirement are shown.
	CeilingCommunity TrustCeiling = iota
	CeilingVerified
	CeilingLocal
)

// registeredTool pairs a Tool implementation with the minimum skill trust
// required to surface it.
type registeredTool struct {
	tool     Tool
	minTrust TrustCeiling
}

// ToolRegistry holds every Tool implementation IronClaw knows how to
// dispatch and produces the attenuated catalog a given turn's reasoning
// loop is allowed to offer the model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register adds tool to the registry, gated behind minTrust.
func (r *ToolRegistry) Register(tool Tool, minTrust TrustCeiling) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = registeredTool{tool: tool, minTrust: minTrust}
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the Tool implementation for name, if dispatchable at all
// (regardless of trust ceiling -- dispatch-time lookup happens after the
// catalog has already been attenuated for the model, so any tool that was
// registered can be invoked once the loop decides to call it).
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Catalog returns every tool whose minTrust does not exceed ceiling,
// sorted by name for a stable prompt.
func (r *ToolRegistry) Catalog(ceiling TrustCeiling) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, rt := range r.tools {
		if rt.minTrust <= ceiling {
			tools = append(tools, rt.tool)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Definitions renders the attenuated catalog as ToolDefinitions for a
// ToolCompletionRequest.
func (r *ToolRegistry) Definitions(ceiling TrustCeiling) []ToolDefinition {
	catalog := r.Catalog(ceiling)
	defs := make([]ToolDefinition, len(catalog))
	for i, t := range catalog {
		defs[i] = ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		}
	}
	return defs
}

// Names returns every registered tool name regardless of trust ceiling,
// sorted.
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
