package security

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// auditFilesystem performs filesystem permission and symlink checks over
// the state directory and the config file.
func auditFilesystem(opts AuditOptions) ([]AuditFinding, error) {
	var findings []AuditFinding

	if opts.StateDir != "" {
		dirFindings, err := checkStateDir(opts.StateDir, opts)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		findings = append(findings, dirFindings...)
	}

	if opts.ConfigPath != "" {
		fileFindings, err := checkConfigFile(opts.ConfigPath, opts)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		findings = append(findings, fileFindings...)
	}

	return findings, nil
}

// checkStateDir audits the state directory itself and every sensitive file
// it contains (machine.key, auth.json, key backups, the secrets vault).
func checkStateDir(path string, opts AuditOptions) ([]AuditFinding, error) {
	var findings []AuditFinding

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if opts.CheckSymlinks && info.Mode()&os.ModeSymlink != 0 {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.symlink_state_dir",
			Severity:    SeverityWarn,
			Title:       "State directory is a symlink",
			Detail:      fmt.Sprintf("The state directory at %s is a symbolic link. Symlinks can cross trust boundaries.", path),
			Remediation: "Use a real directory for key material and tokens.",
		})
	}

	mode := info.Mode().Perm()
	if isWorldWritable(mode) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.state_dir_world_writable",
			Severity:    SeverityCritical,
			Title:       "State directory is world-writable",
			Detail:      fmt.Sprintf("The state directory at %s has permissions %o. Any local user can replace auth.json or the secrets vault.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 700 %s", path),
		})
	}
	if isGroupWritable(mode) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.state_dir_group_writable",
			Severity:    SeverityWarn,
			Title:       "State directory is group-writable",
			Detail:      fmt.Sprintf("The state directory at %s has permissions %o.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod g-w %s", path),
		})
	}
	if isWorldReadable(mode) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.state_dir_world_readable",
			Severity:    SeverityWarn,
			Title:       "State directory is world-readable",
			Detail:      fmt.Sprintf("The state directory at %s has permissions %o.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod o-r %s", path),
		})
	}
	if !opts.AllowGroupReadable && isGroupReadable(mode) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.state_dir_group_readable",
			Severity:    SeverityInfo,
			Title:       "State directory is group-readable",
			Detail:      fmt.Sprintf("The state directory at %s has permissions %o.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 700 %s", path),
		})
	}

	if !info.IsDir() {
		return findings, nil
	}

	err = filepath.WalkDir(path, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil || filePath == path {
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			return nil
		}

		if opts.CheckSymlinks && fileInfo.Mode()&os.ModeSymlink != 0 {
			findings = append(findings, AuditFinding{
				CheckID:     "fs.symlink_in_state",
				Severity:    SeverityInfo,
				Title:       "Symlink found in state directory",
				Detail:      fmt.Sprintf("The path %s is a symbolic link.", filePath),
				Remediation: "Review whether this symlink is necessary and trusted.",
			})
		}

		if !isSensitiveFile(filePath) {
			return nil
		}
		fileMode := fileInfo.Mode().Perm()

		if isWorldReadable(fileMode) {
			findings = append(findings, AuditFinding{
				CheckID:     "fs.sensitive_file_world_readable",
				Severity:    SeverityCritical,
				Title:       "Sensitive file is world-readable",
				Detail:      fmt.Sprintf("The file %s has permissions %o, exposing key material or tokens to all users.", filePath, fileMode),
				Remediation: fmt.Sprintf("Run: chmod 600 %s", filePath),
			})
		}
		if isWorldWritable(fileMode) {
			findings = append(findings, AuditFinding{
				CheckID:     "fs.sensitive_file_world_writable",
				Severity:    SeverityCritical,
				Title:       "Sensitive file is world-writable",
				Detail:      fmt.Sprintf("The file %s has permissions %o, allowing any user to modify it.", filePath, fileMode),
				Remediation: fmt.Sprintf("Run: chmod 600 %s", filePath),
			})
		}
		if !opts.AllowGroupReadable && isGroupReadable(fileMode) {
			findings = append(findings, AuditFinding{
				CheckID:     "fs.sensitive_file_group_readable",
				Severity:    SeverityWarn,
				Title:       "Sensitive file is group-readable",
				Detail:      fmt.Sprintf("The file %s has permissions %o.", filePath, fileMode),
				Remediation: fmt.Sprintf("Run: chmod 600 %s", filePath),
			})
		}
		return nil
	})
	return findings, err
}

// checkConfigFile audits permissions on the config file, which carries
// provider API keys in plaintext.
func checkConfigFile(path string, opts AuditOptions) ([]AuditFinding, error) {
	var findings []AuditFinding

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if opts.CheckSymlinks && info.Mode()&os.ModeSymlink != 0 {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_symlink",
			Severity:    SeverityWarn,
			Title:       "Config file is a symlink",
			Detail:      fmt.Sprintf("The configuration file at %s is a symbolic link.", path),
			Remediation: "Use a real file for the configuration.",
		})
	}

	mode := info.Mode().Perm()
	if isWorldWritable(mode) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_world_writable",
			Severity:    SeverityCritical,
			Title:       "Config file is world-writable",
			Detail:      fmt.Sprintf("The configuration file at %s has permissions %o. An attacker can point the agent at their own provider endpoint or skill source.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 600 %s", path),
		})
	}
	if isGroupWritable(mode) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_group_writable",
			Severity:    SeverityWarn,
			Title:       "Config file is group-writable",
			Detail:      fmt.Sprintf("The configuration file at %s has permissions %o.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 600 %s", path),
		})
	}
	if isWorldReadable(mode) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_world_readable",
			Severity:    SeverityCritical,
			Title:       "Config file is world-readable",
			Detail:      fmt.Sprintf("The configuration file at %s has permissions %o and carries provider API keys.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 600 %s", path),
		})
	}
	if !opts.AllowGroupReadable && isGroupReadable(mode) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_group_readable",
			Severity:    SeverityWarn,
			Title:       "Config file is group-readable",
			Detail:      fmt.Sprintf("The configuration file at %s has permissions %o.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 600 %s", path),
		})
	}

	return findings, nil
}

// auditSkillDirs flags skill directories other users can write to: a
// writable skill directory lets another local user plant prompt content
// that the scanner has already approved under a different hash.
func auditSkillDirs(opts AuditOptions) []AuditFinding {
	var findings []AuditFinding
	for _, dir := range opts.SkillDirs {
		info, err := os.Lstat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		mode := info.Mode().Perm()
		if isWorldWritable(mode) {
			findings = append(findings, AuditFinding{
				CheckID:     "fs.skill_dir_world_writable",
				Severity:    SeverityCritical,
				Title:       "Skill directory is world-writable",
				Detail:      fmt.Sprintf("The skill directory at %s has permissions %o. Any local user can replace skill prompts after they were scanned.", dir, mode),
				Remediation: fmt.Sprintf("Run: chmod o-w %s", dir),
			})
		} else if isGroupWritable(mode) {
			findings = append(findings, AuditFinding{
				CheckID:     "fs.skill_dir_group_writable",
				Severity:    SeverityWarn,
				Title:       "Skill directory is group-writable",
				Detail:      fmt.Sprintf("The skill directory at %s has permissions %o.", dir, mode),
				Remediation: fmt.Sprintf("Run: chmod g-w %s", dir),
			})
		}
	}
	return findings
}
