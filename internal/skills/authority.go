package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// SkillTrust is the authority level a loaded skill carries. It gates what a
// skill's own manifest is permitted to declare (HTTP scopes, credential
// access) and feeds the tool-catalog attenuation ceiling in internal/agent.
type SkillTrust string

const (
	// TrustLocal is a skill read from the user's own skills directory.
	TrustLocal SkillTrust = "local"
	// TrustVerified is a bundled or signed-registry skill.
	TrustVerified SkillTrust = "verified"
	// TrustCommunity is a skill pulled from an untrusted source (git clone,
	// unsigned registry entry). Its HTTP/credential declarations are
	// ignored entirely by SkillHttpScopes regardless of what the manifest
	// asks for.
	TrustCommunity SkillTrust = "community"
)

// SkillMeta is the [skill] table of a skill manifest.
type SkillMeta struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Description string   `toml:"description"`
	Author      string   `toml:"author"`
	Tags        []string `toml:"tags"`

	// PrimaryEnv is the main API key environment variable for this skill;
	// Manager.InjectEnv maps a configured apiKey onto it per session.
	PrimaryEnv string `toml:"primary_env"`
}

// ActivationCriteria is the [activation] table: when the skill's prompt
// content should be surfaced to the model at all. Orthogonal to the
// eligibility gating in gating.go, which asks "can this run on this
// machine" rather than "is this task a fit".
type ActivationCriteria struct {
	// Keywords activate the skill when any appears (case-insensitively) in
	// the user message.
	Keywords []string `toml:"keywords"`

	// Patterns are regular expressions compiled at load time and matched
	// against the user message.
	Patterns []string `toml:"patterns"`

	AlwaysLoad  bool   `toml:"always_load"`
	Description string `toml:"description"`
}

// PermissionsDecl is the [permissions] table. The http/reason fields record
// why a skill wants network access; SkillHttpScopes decides whether it
// actually gets it, based on Trust.
type PermissionsDecl struct {
	HTTP       bool   `toml:"http"`
	HTTPReason string `toml:"http_reason"`
	Shell      bool   `toml:"shell"`
}

// RequiresDecl is the [requires] table: machine-level prerequisites the
// eligibility gate checks before a skill is surfaced at all.
type RequiresDecl struct {
	// OS restricts the skill to specific platforms (darwin, linux, windows).
	OS []string `toml:"os"`

	// Bins requires all listed binaries to exist on PATH.
	Bins []string `toml:"bins"`

	// AnyBins requires at least one of the listed binaries to exist.
	AnyBins []string `toml:"any_bins"`

	// Env requires all listed environment variables to be set (or in config).
	Env []string `toml:"env"`

	// Config requires all listed config paths to be truthy.
	Config []string `toml:"config"`
}

// IntegrityInfo records the content hash a manifest was loaded at, computed
// before Trust is assigned so a later trust downgrade can't be disguised as
// a content change.
type IntegrityInfo struct {
	ContentHash string    `toml:"-"`
	HashedAt    time.Time `toml:"-"`
}

// SkillManifest is the full skill.toml document, including the optional
// [http] declaration SkillHttpScopes consumes and the [[tools]] the skill
// exposes to the agent's tool registry.
type SkillManifest struct {
	Skill       SkillMeta             `toml:"skill"`
	Activation  ActivationCriteria    `toml:"activation"`
	Permissions PermissionsDecl       `toml:"permissions"`
	Requires    *RequiresDecl         `toml:"requires"`
	HTTP        *SkillHttpDeclaration `toml:"http"`
	Tools       []SkillToolSpec       `toml:"tools"`
}

// ParseManifest decodes a skill.toml document's bytes.
func ParseManifest(data []byte) (*SkillManifest, error) {
	var m SkillManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse skill manifest: %w", err)
	}
	if m.Skill.Name == "" {
		return nil, fmt.Errorf("skill manifest missing [skill].name")
	}
	return &m, nil
}

// LoadedSkill is a fully resolved skill ready to be surfaced to the
// reasoning loop: its manifest, its prompt body, the trust it was loaded
// at, the scan it was run through before activation, and its compiled
// activation patterns.
type LoadedSkill struct {
	Manifest      *SkillManifest
	PromptContent string
	Trust         SkillTrust
	Source        SourceType
	Path          string
	Priority      int
	ContentHash   string
	ScanResult    *SkillScanResult

	activationRes []*regexp.Regexp
}

// ContentHash returns the sha256 hex digest of promptContent, computed over
// the canonical bytes before any trust label is attached. Two skills with
// identical content hash identically regardless of where they were sourced
// from or what trust they were assigned.
func ContentHash(promptContent string) string {
	sum := sha256.Sum256([]byte(promptContent))
	return hex.EncodeToString(sum[:])
}

// NewLoadedSkill builds a LoadedSkill, scanning promptContent, computing
// its content hash, and compiling the manifest's activation patterns
// (entries that fail to compile are dropped; keyword activation still
// applies). It does not decide whether the scan result should block
// loading -- callers apply that policy.
func NewLoadedSkill(manifest *SkillManifest, promptContent string, trust SkillTrust, source SourceType, scanner *SkillScanner) *LoadedSkill {
	ls := &LoadedSkill{
		Manifest:      manifest,
		PromptContent: promptContent,
		Trust:         trust,
		Source:        source,
		ContentHash:   ContentHash(promptContent),
	}
	for _, pattern := range manifest.Activation.Patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		ls.activationRes = append(ls.activationRes, re)
	}
	if scanner != nil {
		ls.ScanResult = scanner.Scan(promptContent)
		if manifest.HTTP != nil {
			httpWarnings := scanner.ScanHttpDeclaration(manifest.HTTP)
			if len(httpWarnings) > 0 {
				ls.ScanResult.Warnings = append(ls.ScanResult.Warnings, httpWarnings...)
				for _, w := range httpWarnings {
					if w.Severity == SeverityCritical {
						ls.ScanResult.Blocked = true
					}
				}
			}
		}
	}
	return ls
}

// Blocked reports whether this skill must not be loaded: any trust level
// refuses to load content with a Critical scan warning.
func (ls *LoadedSkill) Blocked() bool {
	return ls.ScanResult != nil && ls.ScanResult.Blocked
}

// ActiveFor reports whether this skill should contribute its prompt (and
// HTTP declaration) to the turn driven by message: always_load skills are
// always in, otherwise any keyword or compiled pattern match activates.
func (ls *LoadedSkill) ActiveFor(message string) bool {
	act := ls.Manifest.Activation
	if act.AlwaysLoad {
		return true
	}
	lower := strings.ToLower(message)
	for _, kw := range act.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	for _, re := range ls.activationRes {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
