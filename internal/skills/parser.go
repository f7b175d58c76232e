package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ManifestFilename is the manifest every skill directory must carry.
	ManifestFilename = "skill.toml"

	// PromptFilename is the prompt document surfaced to the model when the
	// skill activates.
	PromptFilename = "SKILL.md"
)

// LoadSkillDir reads one skill directory: its skill.toml manifest and its
// SKILL.md prompt document. The prompt is scanned and hashed, the trust is
// derived from the discovery source, and compiled activation patterns are
// attached. The caller decides what to do with a Blocked() result.
func LoadSkillDir(dir string, source SourceType, priority int, scanner *SkillScanner) (*LoadedSkill, error) {
	manifestData, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := ParseManifest(manifestData)
	if err != nil {
		return nil, err
	}
	if err := ValidateSkillName(manifest.Skill.Name); err != nil {
		return nil, err
	}

	promptData, err := os.ReadFile(filepath.Join(dir, PromptFilename))
	if err != nil {
		return nil, fmt.Errorf("read prompt document: %w", err)
	}
	prompt := ExpandBaseDir(strings.TrimSpace(string(promptData)), dir)

	ls := NewLoadedSkill(manifest, prompt, TrustForSource(source), source, scanner)
	ls.Path = dir
	ls.Priority = priority
	return ls, nil
}

// ValidateSkillName enforces the lowercase-alphanumeric-with-hyphens naming
// rule skill registries and config keys rely on.
func ValidateSkillName(name string) error {
	if name == "" {
		return fmt.Errorf("skill name is required")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("skill name must be lowercase alphanumeric with hyphens: got %q", name)
		}
	}
	return nil
}

// ExpandBaseDir replaces {baseDir} placeholders in skill content.
func ExpandBaseDir(content string, baseDir string) string {
	return strings.ReplaceAll(content, "{baseDir}", baseDir)
}
