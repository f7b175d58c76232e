package config

import "time"

// ToolsConfig configures the tool registry and its execution limits.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
	Jobs      ToolJobsConfig      `yaml:"jobs"`
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	// MaxIterations caps the reasoning loop's tool-call rounds per turn.
	MaxIterations int `yaml:"max_iterations"`

	// Timeout bounds a single tool call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts and RetryBackoff control tool-level retries.
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// RequireApproval lists tool names for a human-in-the-loop gate. It is
	// parsed and stored only; neither the tool registry nor the reasoning
	// loop reads it.
	RequireApproval []string `yaml:"require_approval"`
}

// ToolJobsConfig controls background tool job persistence.
type ToolJobsConfig struct {
	// Retention is how long to keep completed jobs. Default: 24h.
	Retention time.Duration `yaml:"retention"`
	// PruneInterval is how often to prune old jobs. Default: 1h.
	PruneInterval time.Duration `yaml:"prune_interval"`
}
