package security

import (
	"context"

	"github.com/ironclaw/ironclaw/internal/config"
)

// RunPostureCheck runs one security posture audit driven by cfg.Security.Posture
// and, when the report carries a critical finding and auto-remediation is
// enabled, applies the filesystem-permission fixes Fix knows how to make.
// onReport, if non-nil, receives the report regardless of outcome.
func RunPostureCheck(ctx context.Context, cfg *config.Config, onReport func(*AuditReport)) error {
	if cfg == nil {
		return nil
	}
	posture := cfg.Security.Posture

	var skillDirs []string
	if cfg.Skills.Load != nil {
		skillDirs = append(skillDirs, cfg.Skills.Load.ExtraDirs...)
	}

	opts := AuditOptions{
		StateDir:           DefaultStateDir(),
		ConfigPath:         DefaultConfigPath(),
		Config:             cfg,
		SkillDirs:          skillDirs,
		IncludeFilesystem:  boolOrDefault(posture.IncludeFilesystem, true),
		IncludeConfig:      boolOrDefault(posture.IncludeConfig, true),
		CheckSymlinks:      boolOrDefault(posture.CheckSymlinks, true),
		AllowGroupReadable: posture.AllowGroupReadable,
	}

	report, err := RunAudit(opts)
	if err != nil {
		return err
	}
	if onReport != nil {
		onReport(report)
	}

	if posture.AutoRemediation.Enabled && report.HasCritical() {
		Fix(FixOptions{
			StateDir:   opts.StateDir,
			ConfigPath: opts.ConfigPath,
			DryRun:     posture.AutoRemediation.Mode == "warn_only",
		})
	}
	return nil
}

func boolOrDefault(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}
