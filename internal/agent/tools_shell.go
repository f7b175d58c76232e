package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	execsafety "github.com/ironclaw/ironclaw/internal/exec"
	"github.com/ironclaw/ironclaw/internal/ratelimit"
	execmgr "github.com/ironclaw/ironclaw/internal/tools/exec"
)

const shellToolSchema = `{
  "type": "object",
  "properties": {
    "command": {"type": "string"},
    "cwd": {"type": "string"},
    "timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 600}
  },
  "required": ["command"],
  "additionalProperties": false
}`

type shellToolParams struct {
	Command        string `json:"command"`
	Cwd            string `json:"cwd"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ShellTool runs shell commands through internal/tools/exec.Manager,
// jailed to a workspace root, after checking the command against active
// skills' HTTP scope (a curl/wget to a non-allowlisted host is denied
// before it ever runs) and a dual-window rate limiter.
type ShellTool struct {
	Manager *execmgr.Manager
	Scopes  ScopePolicy
	Limiter *ratelimit.MultiLimiter
	User    string
}

// NewShellTool builds a ShellTool with the default 20/min + 200/hour rate limit.
func NewShellTool(manager *execmgr.Manager, scopes ScopePolicy, user string) *ShellTool {
	perMinute := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 20.0 / 60.0, BurstSize: 20, Enabled: true})
	perHour := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 200.0 / 3600.0, BurstSize: 200, Enabled: true})
	return &ShellTool{
		Manager: manager,
		Scopes:  scopes,
		User:    user,
		Limiter: ratelimit.NewMultiLimiter(perMinute, perHour),
	}
}

func (t *ShellTool) Name() string            { return "shell" }
func (t *ShellTool) Description() string     { return "Run a shell command in the workspace." }
func (t *ShellTool) Schema() json.RawMessage { return json.RawMessage(shellToolSchema) }

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var p shellToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid shell tool parameters: %w", err)
	}
	if p.Command == "" {
		return nil, fmt.Errorf("shell tool requires a command")
	}

	key := ratelimit.CompositeKey("shell", t.User)
	if t.Limiter != nil && !t.Limiter.Allow(key) {
		return nil, fmt.Errorf("rate limited: too many shell calls, retry in %.0fs", t.Limiter.WaitTime(key).Seconds())
	}

	if t.Scopes != nil {
		if err := t.Scopes.ValidateShellCommand(p.Command); err != nil {
			return nil, err
		}
	}

	if p.Cwd != "" {
		cwd, err := execsafety.SanitizeExecutableValue(p.Cwd)
		if err != nil {
			return nil, fmt.Errorf("unsafe cwd: %w", err)
		}
		p.Cwd = cwd
	}

	timeout := 30 * time.Second
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}

	result, err := t.Manager.RunCommand(ctx, p.Command, p.Cwd, nil, "", timeout)
	if err != nil {
		return nil, fmt.Errorf("shell execution failed: %w", err)
	}
	if result.Unsafe {
		return &ToolResult{Content: fmt.Sprintf("command rejected: %s", result.Reason), IsError: true}, nil
	}

	content := result.Stdout
	if result.Stderr != "" {
		content += "\n[stderr]\n" + result.Stderr
	}
	return &ToolResult{Content: content, IsError: result.ExitCode != 0}, nil
}
