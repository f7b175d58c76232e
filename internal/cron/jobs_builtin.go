package cron

import (
	"context"

	"github.com/ironclaw/ironclaw/internal/config"
	"github.com/ironclaw/ironclaw/internal/keys/spend"
	"github.com/ironclaw/ironclaw/internal/security"
)

// SecurityPostureHandlerName is the config.CronCustomConfig.Handler value that
// selects NewSecurityPostureHandler when building custom jobs from config.
const SecurityPostureHandlerName = "security_posture_audit"

// SpendRolloverHandlerName is the config.CronCustomConfig.Handler value that
// selects NewSpendRolloverHandler when building custom jobs from config.
const SpendRolloverHandlerName = "spend_rollover"

// NewSecurityPostureHandler adapts security.RunPostureCheck into a
// CustomHandler so a cron job of type "custom" with
// custom.handler: security_posture_audit runs the posture audit (and, per
// cfg.Security.Posture.AutoRemediation, its filesystem fixups) on schedule.
func NewSecurityPostureHandler(cfg *config.Config, onReport func(*security.AuditReport)) CustomHandlerFunc {
	return func(ctx context.Context, job *Job, args map[string]any) error {
		return security.RunPostureCheck(ctx, cfg, onReport)
	}
}

// NewSpendRolloverHandler adapts a spend ledger Tracker's PruneOlderThan into
// a CustomHandler so a cron job of type "custom" with
// custom.handler: spend_rollover keeps the on-disk spend ledger bounded to
// retentionDays. job/args are unused: the retention window is fixed at
// registration time via config.SpendRolloverConfig.
func NewSpendRolloverHandler(tracker *spend.Tracker, retentionDays int) CustomHandlerFunc {
	return func(ctx context.Context, job *Job, args map[string]any) error {
		_, err := tracker.PruneOlderThan(retentionDays)
		return err
	}
}

// RegisterBuiltinHandlers registers the security posture and spend rollover
// custom handlers on scheduler if cfg enables them, returning the scheduler
// for chaining. It adds no jobs: a cron.jobs entry of type custom naming the
// handler schedules them, and cfg.Keys.SpendRollover.Cron is not read here.
func RegisterBuiltinHandlers(scheduler *Scheduler, cfg *config.Config, tracker *spend.Tracker) *Scheduler {
	if scheduler == nil || cfg == nil {
		return scheduler
	}
	if cfg.Security.Posture.Enabled {
		scheduler.RegisterCustomHandler(SecurityPostureHandlerName, NewSecurityPostureHandler(cfg, nil))
	}
	if tracker != nil && cfg.Keys.SpendRollover.Enabled {
		scheduler.RegisterCustomHandler(SpendRolloverHandlerName, NewSpendRolloverHandler(tracker, cfg.Keys.SpendRollover.RetentionDays))
	}
	return scheduler
}
