package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
      default_model: claude-sonnet-4-20250514
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.HTTPPort != 8080 || cfg.Server.MetricsPort != 9090 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Database.MaxConnections != 25 || cfg.Database.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("database defaults = %+v", cfg.Database)
	}
	if cfg.Auth.TokenExpiry != 24*time.Hour {
		t.Errorf("auth defaults = %+v", cfg.Auth)
	}
	if cfg.Tools.Execution.MaxIterations != 25 || cfg.Tools.Jobs.Retention != 24*time.Hour {
		t.Errorf("tools defaults = %+v", cfg.Tools)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Keys.SpendRollover.RetentionDays != 90 {
		t.Errorf("keys defaults = %+v", cfg.Keys)
	}
	if cfg.LLM.Routing.ComplexMinChars != 600 {
		t.Errorf("routing defaults = %+v", cfg.LLM.Routing)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConfig+"\nnot_a_field: true\n")); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestLoadRejectsMissingDefaultProviderEntry(t *testing.T) {
	doc := `
llm:
  default_provider: venice
  providers:
    anthropic:
      api_key: sk-test
`
	_, err := Load(writeConfig(t, doc))
	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(verr.Error(), "default_provider") {
		t.Fatalf("issues = %v", verr.Issues)
	}
}

func TestLoadRejectsRoutingWithoutCheapProvider(t *testing.T) {
	doc := `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
  routing:
    enabled: true
`
	_, err := Load(writeConfig(t, doc))
	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(verr.Error(), "cheap_provider") {
		t.Fatalf("issues = %v", verr.Issues)
	}
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	doc := minimalConfig + `
auth:
  jwt_secret: tooshort
`
	_, err := Load(writeConfig(t, doc))
	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadRejectsDuplicateAPIKeys(t *testing.T) {
	doc := minimalConfig + `
auth:
  api_keys:
    - key: k1
      user_id: a
    - key: k1
      user_id: b
`
	_, err := Load(writeConfig(t, doc))
	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadValidatesCronJobs(t *testing.T) {
	doc := minimalConfig + `
cron:
  enabled: true
  jobs:
    - id: hook
      type: webhook
      schedule:
        every: 1h
    - id: audit
      type: custom
      schedule:
        cron: "0 3 * * *"
      custom:
        handler: security_posture
`
	_, err := Load(writeConfig(t, doc))
	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for webhook without url, got %v", err)
	}
	found := false
	for _, issue := range verr.Issues {
		if strings.Contains(issue, "webhook.url") {
			found = true
		}
		if strings.Contains(issue, "custom.handler") {
			t.Errorf("custom job with handler should validate, issues = %v", verr.Issues)
		}
	}
	if !found {
		t.Fatalf("issues = %v", verr.Issues)
	}
}

func TestLoadRejectsUnknownCronJobType(t *testing.T) {
	doc := minimalConfig + `
cron:
  enabled: true
  jobs:
    - id: x
      type: message
      schedule:
        every: 1h
`
	_, err := Load(writeConfig(t, doc))
	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-from-env")
	doc := `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${TEST_ANTHROPIC_KEY}
`
	cfg, err := Load(writeConfig(t, doc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IRONCLAW_HTTP_PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://env/override")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Errorf("http port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Database.URL != "postgres://env/override" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
}
