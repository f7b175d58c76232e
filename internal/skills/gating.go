package skills

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// GatingContext provides context for skill eligibility checks.
type GatingContext struct {
	// OS is the current operating system (darwin, linux, windows).
	OS string

	// PathBins maps binary names to whether they exist on PATH.
	PathBins map[string]bool

	// EnvVars maps environment variable names to whether they are set.
	EnvVars map[string]bool

	// ConfigValues maps config paths to their values for truthiness checks.
	ConfigValues map[string]any

	// Overrides provides per-skill configuration.
	Overrides map[string]*SkillConfig
}

// NewGatingContext creates a GatingContext with the current environment.
func NewGatingContext(overrides map[string]*SkillConfig, configValues map[string]any) *GatingContext {
	return &GatingContext{
		OS:           runtime.GOOS,
		PathBins:     make(map[string]bool),
		EnvVars:      make(map[string]bool),
		ConfigValues: configValues,
		Overrides:    overrides,
	}
}

// CheckBinary checks if a binary exists on PATH and caches the result.
func (c *GatingContext) CheckBinary(name string) bool {
	if exists, ok := c.PathBins[name]; ok {
		return exists
	}
	_, err := exec.LookPath(name)
	exists := err == nil
	c.PathBins[name] = exists
	return exists
}

// CheckEnv checks if an environment variable is set and caches the result.
func (c *GatingContext) CheckEnv(name string) bool {
	if set, ok := c.EnvVars[name]; ok {
		return set
	}
	_, set := os.LookupEnv(name)
	c.EnvVars[name] = set
	return set
}

// CheckEnvOrConfig checks if an env var is set directly or provided via
// skill config (apiKey or env overrides).
func (c *GatingContext) CheckEnvOrConfig(skillKey, envVar string) bool {
	if c.CheckEnv(envVar) {
		return true
	}
	cfg, ok := c.Overrides[skillKey]
	if !ok {
		return false
	}
	if cfg.APIKey != "" {
		return true
	}
	if _, ok := cfg.Env[envVar]; ok {
		return true
	}
	return false
}

// CheckConfig checks if a config path has a truthy value.
func (c *GatingContext) CheckConfig(path string) bool {
	if c.ConfigValues == nil {
		return false
	}
	val, ok := c.ConfigValues[path]
	if !ok {
		return false
	}
	return isTruthy(val)
}

// isTruthy determines if a value counts as "set" for gating purposes.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return strings.TrimSpace(val) != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

// EligibilityResult contains the result of an eligibility check.
type EligibilityResult struct {
	Eligible bool
	Reason   string
}

// CheckEligibility checks whether this machine satisfies the skill's
// [requires] declaration and the skill is not disabled in config. A skill
// that fails eligibility is never surfaced, regardless of activation.
func (ls *LoadedSkill) CheckEligibility(ctx *GatingContext) EligibilityResult {
	if !ls.IsEnabled(ctx.Overrides) {
		return EligibilityResult{false, "disabled in config"}
	}

	req := ls.Manifest.Requires
	if req == nil {
		return EligibilityResult{true, ""}
	}

	if len(req.OS) > 0 {
		found := false
		for _, os := range req.OS {
			if os == ctx.OS {
				found = true
				break
			}
		}
		if !found {
			return EligibilityResult{
				false,
				fmt.Sprintf("requires OS %v, have %s", req.OS, ctx.OS),
			}
		}
	}

	for _, bin := range req.Bins {
		if !ctx.CheckBinary(bin) {
			return EligibilityResult{
				false,
				fmt.Sprintf("missing required binary: %s", bin),
			}
		}
	}

	if len(req.AnyBins) > 0 {
		found := false
		for _, bin := range req.AnyBins {
			if ctx.CheckBinary(bin) {
				found = true
				break
			}
		}
		if !found {
			return EligibilityResult{
				false,
				fmt.Sprintf("requires one of: %v", req.AnyBins),
			}
		}
	}

	for _, env := range req.Env {
		if !ctx.CheckEnvOrConfig(ls.ConfigKey(), env) {
			return EligibilityResult{
				false,
				fmt.Sprintf("missing environment variable: %s", env),
			}
		}
	}

	for _, path := range req.Config {
		if !ctx.CheckConfig(path) {
			return EligibilityResult{
				false,
				fmt.Sprintf("config not truthy: %s", path),
			}
		}
	}

	return EligibilityResult{true, ""}
}

// FilterEligible filters skills to only those that are eligible.
func FilterEligible(skills []*LoadedSkill, ctx *GatingContext) []*LoadedSkill {
	var eligible []*LoadedSkill
	for _, skill := range skills {
		result := skill.CheckEligibility(ctx)
		if result.Eligible {
			eligible = append(eligible, skill)
		}
	}
	return eligible
}

// GetIneligibleReasons returns reasons for all ineligible skills.
func GetIneligibleReasons(skills []*LoadedSkill, ctx *GatingContext) map[string]string {
	reasons := make(map[string]string)
	for _, skill := range skills {
		result := skill.CheckEligibility(ctx)
		if !result.Eligible {
			reasons[skill.ConfigKey()] = result.Reason
		}
	}
	return reasons
}
