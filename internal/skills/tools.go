package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ironclaw/ironclaw/internal/agent"
	exectools "github.com/ironclaw/ironclaw/internal/tools/exec"
)

// SkillToolSpec is one [[tools]] entry of a skill manifest: a command or
// script the skill exposes to the model as a callable tool.
type SkillToolSpec struct {
	Name           string         `toml:"name" json:"name"`
	Description    string         `toml:"description" json:"description"`
	Schema         map[string]any `toml:"schema" json:"schema"`
	Command        string         `toml:"command" json:"command"`
	Script         string         `toml:"script" json:"script"`
	TimeoutSeconds int            `toml:"timeout_seconds" json:"timeout_seconds"`
	WorkingDir     string         `toml:"cwd" json:"cwd"`
}

// ToolCeiling maps a skill's trust onto the agent-side attenuation ceiling
// its tools are registered at: a tool declared by a Community skill is only
// surfaced when the turn's ceiling admits Community-level tools, and so on.
func ToolCeiling(trust SkillTrust) agent.TrustCeiling {
	switch trust {
	case TrustLocal:
		return agent.CeilingLocal
	case TrustVerified:
		return agent.CeilingVerified
	default:
		return agent.CeilingCommunity
	}
}

// ActiveCeiling computes the turn's attenuation ceiling from the skills
// active in context: the least-trusted active skill bounds the whole
// catalog, so a Community skill in context can never coax the model into a
// Local-only tool it was never shown.
func ActiveCeiling(active []*LoadedSkill) agent.TrustCeiling {
	ceiling := agent.CeilingLocal
	for _, skill := range active {
		if c := ToolCeiling(skill.Trust); c < ceiling {
			ceiling = c
		}
	}
	return ceiling
}

// BuildSkillTools creates executable tools from a skill's manifest.
func BuildSkillTools(skill *LoadedSkill, execManager *exectools.Manager) []agent.Tool {
	if skill == nil || skill.Manifest == nil || len(skill.Manifest.Tools) == 0 || execManager == nil {
		return nil
	}

	tools := make([]agent.Tool, 0, len(skill.Manifest.Tools))
	for _, spec := range skill.Manifest.Tools {
		if strings.TrimSpace(spec.Name) == "" {
			continue
		}
		tools = append(tools, &skillTool{
			skill:   skill,
			spec:    spec,
			manager: execManager,
		})
	}
	return tools
}

type skillTool struct {
	skill   *LoadedSkill
	spec    SkillToolSpec
	manager *exectools.Manager
}

func (t *skillTool) Name() string {
	return t.spec.Name
}

func (t *skillTool) Description() string {
	if t.spec.Description != "" {
		return t.spec.Description
	}
	return "Skill tool: " + t.spec.Name
}

func (t *skillTool) Schema() json.RawMessage {
	if t.spec.Schema == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	payload, err := json.Marshal(t.spec.Schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *skillTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return &agent.ToolResult{Content: "exec manager unavailable", IsError: true}, nil
	}
	command := strings.TrimSpace(t.spec.Command)
	script := strings.TrimSpace(t.spec.Script)
	if command == "" {
		command = "bash"
	}

	input := string(params)
	if script != "" {
		scriptPath := filepath.Join(t.skill.Path, script)
		content, err := os.ReadFile(scriptPath)
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("read script: %v", err), IsError: true}, nil
		}
		input = string(content)
	}

	env := map[string]string{
		"IRONCLAW_TOOL_INPUT": string(params),
		"IRONCLAW_TOOL_NAME":  t.spec.Name,
	}
	if t.skill != nil {
		env["IRONCLAW_SKILL_NAME"] = t.skill.Manifest.Skill.Name
		env["IRONCLAW_SKILL_DIR"] = t.skill.Path
	}

	cwd := strings.TrimSpace(t.spec.WorkingDir)
	if cwd == "" {
		cwd = t.skill.Path
	}
	timeout := time.Duration(t.spec.TimeoutSeconds) * time.Second

	result, err := t.manager.RunCommand(ctx, command, cwd, env, input, timeout)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("encode result: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
