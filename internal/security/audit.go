// Package security audits the runtime's on-disk state and configuration:
// the ~/.ironclaw state directory holds OAuth tokens, the secrets vault,
// the machine key, signing-key backups, and the spend ledger, and a skill
// directory another user can write to is a prompt-injection vector.
package security

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ironclaw/ironclaw/internal/config"
)

// AuditSeverity represents the severity level of a security finding.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarn     AuditSeverity = "warn"
	SeverityCritical AuditSeverity = "critical"
)

// AuditFinding represents a single security audit finding.
type AuditFinding struct {
	CheckID     string        `json:"check_id"`
	Severity    AuditSeverity `json:"severity"`
	Title       string        `json:"title"`
	Detail      string        `json:"detail"`
	Remediation string        `json:"remediation,omitempty"`
}

// AuditSummary contains counts of findings by severity.
type AuditSummary struct {
	Critical int `json:"critical"`
	Warn     int `json:"warn"`
	Info     int `json:"info"`
}

// AuditReport contains all findings from a security audit.
type AuditReport struct {
	Timestamp time.Time      `json:"timestamp"`
	Summary   AuditSummary   `json:"summary"`
	Findings  []AuditFinding `json:"findings"`
}

// HasCritical returns true if any findings are critical severity.
func (r *AuditReport) HasCritical() bool {
	return r.Summary.Critical > 0
}

// CountBySeverity returns the number of findings for each severity level.
func (r *AuditReport) CountBySeverity() map[AuditSeverity]int {
	counts := make(map[AuditSeverity]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

// AuditOptions configures which checks to run.
type AuditOptions struct {
	// StateDir is the ~/.ironclaw state directory.
	StateDir string

	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// Config is the loaded configuration (optional, will load from
	// ConfigPath if nil).
	Config *config.Config

	// SkillDirs are directories skills are loaded from; a writable one lets
	// another local user plant prompt content.
	SkillDirs []string

	// IncludeFilesystem enables filesystem permission checks.
	IncludeFilesystem bool

	// IncludeConfig enables configuration content checks.
	IncludeConfig bool

	// CheckSymlinks enables symlink detection.
	CheckSymlinks bool

	// AllowGroupReadable allows group-readable permissions on sensitive files.
	AllowGroupReadable bool
}

// RunAudit performs a security audit based on the provided options.
func RunAudit(opts AuditOptions) (*AuditReport, error) {
	report := &AuditReport{
		Timestamp: time.Now(),
		Findings:  make([]AuditFinding, 0),
	}

	if opts.IncludeFilesystem {
		fsFindings, err := auditFilesystem(opts)
		if err != nil {
			return nil, fmt.Errorf("filesystem audit failed: %w", err)
		}
		report.Findings = append(report.Findings, fsFindings...)
		report.Findings = append(report.Findings, auditSkillDirs(opts)...)
	}

	if opts.IncludeConfig {
		cfg := opts.Config
		if cfg == nil && opts.ConfigPath != "" {
			loaded, err := config.Load(opts.ConfigPath)
			if err != nil {
				report.Findings = append(report.Findings, AuditFinding{
					CheckID:  "config.load_error",
					Severity: SeverityWarn,
					Title:    "Failed to load configuration",
					Detail:   fmt.Sprintf("Could not load config from %s: %v", opts.ConfigPath, err),
				})
			} else {
				cfg = loaded
			}
		}
		if cfg != nil {
			report.Findings = append(report.Findings, auditConfigContent(cfg)...)
		}
	}

	report.Summary = computeSummary(report.Findings)
	return report, nil
}

func computeSummary(findings []AuditFinding) AuditSummary {
	summary := AuditSummary{}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			summary.Critical++
		case SeverityWarn:
			summary.Warn++
		default:
			summary.Info++
		}
	}
	return summary
}

// Permission bit constants for clarity.
const (
	worldReadable = 0004
	worldWritable = 0002
	groupReadable = 0040
	groupWritable = 0020
)

func isWorldWritable(mode fs.FileMode) bool { return mode&worldWritable != 0 }
func isGroupWritable(mode fs.FileMode) bool { return mode&groupWritable != 0 }
func isWorldReadable(mode fs.FileMode) bool { return mode&worldReadable != 0 }
func isGroupReadable(mode fs.FileMode) bool { return mode&groupReadable != 0 }

// sensitiveStateFiles are the files under the state directory whose
// exposure directly leaks credentials or key material.
var sensitiveStateFiles = []string{
	"machine.key", // secrets-vault master key
	"auth.json",   // Anthropic/Codex OAuth tokens
}

// isSensitiveFile reports whether a file under the state directory holds
// credential-grade content.
func isSensitiveFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, known := range sensitiveStateFiles {
		if base == known {
			return true
		}
	}

	for _, pattern := range []string{"key", "secret", "token", "credential", "backup", ".pem", ".p12"} {
		if strings.Contains(base, pattern) {
			return true
		}
	}
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	return false
}

// ValidatePermissions checks if a path has secure permissions.
// Returns an error if permissions are insecure.
func ValidatePermissions(path string, maxMode fs.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode&^maxMode != 0 {
		return fmt.Errorf("insecure permissions %o on %s (maximum allowed: %o)", mode, path, maxMode)
	}

	return nil
}

// SecureFileMode is the recommended permission mode for sensitive files.
const SecureFileMode fs.FileMode = 0600

// SecureDirMode is the recommended permission mode for sensitive directories.
const SecureDirMode fs.FileMode = 0700
