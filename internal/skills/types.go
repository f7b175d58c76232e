// Package skills loads prompt-document skills with TOML manifests,
// scans them for manipulation attempts, and aggregates their declared
// HTTP scopes into the enforcement surface the agent's http/shell tools
// consult.
package skills

import (
	"time"
)

// SourceType indicates where a skill was discovered from. The source
// determines the trust a skill is loaded at; see TrustForSource.
type SourceType string

const (
	SourceBundled   SourceType = "bundled"   // Shipped with the ironclaw binary
	SourceLocal     SourceType = "local"     // ~/.ironclaw/skills/
	SourceWorkspace SourceType = "workspace" // <workspace>/skills/
	SourceExtra     SourceType = "extra"     // skills.load.extraDirs
	SourceGit       SourceType = "git"       // Git repository
	SourceRegistry  SourceType = "registry"  // HTTP registry
)

// TrustForSource maps a discovery source onto the trust a skill from that
// source is loaded at: anything on the user's own disk is Local, the
// signature-checked registry is Verified, and a bare git clone is
// Community (its [http] declaration is discarded by SkillHttpScopes).
func TrustForSource(source SourceType) SkillTrust {
	switch source {
	case SourceRegistry:
		return TrustVerified
	case SourceGit:
		return TrustCommunity
	default:
		return TrustLocal
	}
}

// SkillConfig provides per-skill configuration overrides.
type SkillConfig struct {
	// Enabled controls whether the skill is active.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled"`

	// APIKey is a convenience for skills that declare a primary_env.
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey"`

	// Env provides environment variable overrides.
	Env map[string]string `json:"env,omitempty" yaml:"env"`

	// Config provides custom skill configuration.
	Config map[string]any `json:"config,omitempty" yaml:"config"`
}

// SkillSnapshot is a lightweight representation for session storage.
type SkillSnapshot struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
	Trust       string `json:"trust"`
}

// SourceConfig configures a skill discovery source.
type SourceConfig struct {
	// Type is the source type: local, git, registry.
	Type SourceType `json:"type" yaml:"type"`

	// Path is the directory path for local sources.
	Path string `json:"path,omitempty" yaml:"path"`

	// URL is the repository/registry URL for git/registry sources.
	URL string `json:"url,omitempty" yaml:"url"`

	// Branch is the git branch to use.
	Branch string `json:"branch,omitempty" yaml:"branch"`

	// SubPath is a subdirectory within a git repository.
	SubPath string `json:"subPath,omitempty" yaml:"subPath"`

	// Refresh is the auto-pull interval for git sources.
	Refresh time.Duration `json:"refresh,omitempty" yaml:"refresh"`

	// Auth is the authentication token for registry sources.
	Auth string `json:"auth,omitempty" yaml:"auth"`
}

// LoadConfig configures skill loading behavior.
type LoadConfig struct {
	// ExtraDirs are additional directories to scan for skills.
	ExtraDirs []string `json:"extraDirs,omitempty" yaml:"extraDirs"`

	// Watch enables file watching for skill changes.
	Watch bool `json:"watch,omitempty" yaml:"watch"`

	// WatchDebounceMs is the debounce delay for the watcher.
	WatchDebounceMs int `json:"watchDebounceMs,omitempty" yaml:"watchDebounceMs"`
}

// SkillsConfig is the top-level skills configuration.
type SkillsConfig struct {
	// Sources are additional discovery sources beyond defaults.
	Sources []SourceConfig `json:"sources,omitempty" yaml:"sources"`

	// Load configures loading behavior.
	Load *LoadConfig `json:"load,omitempty" yaml:"load"`

	// Entries provides per-skill configuration.
	Entries map[string]*SkillConfig `json:"entries,omitempty" yaml:"entries"`
}

// ConfigKey returns the configuration key for this skill.
func (ls *LoadedSkill) ConfigKey() string {
	return ls.Manifest.Skill.Name
}

// IsEnabled checks if the skill is enabled based on config overrides.
func (ls *LoadedSkill) IsEnabled(overrides map[string]*SkillConfig) bool {
	cfg, ok := overrides[ls.ConfigKey()]
	if !ok || cfg.Enabled == nil {
		return true // Enabled by default
	}
	return *cfg.Enabled
}

// ToSnapshot creates a lightweight snapshot for session storage.
func (ls *LoadedSkill) ToSnapshot() *SkillSnapshot {
	return &SkillSnapshot{
		Name:        ls.Manifest.Skill.Name,
		Description: ls.Manifest.Skill.Description,
		Path:        ls.Path,
		Trust:       string(ls.Trust),
	}
}
