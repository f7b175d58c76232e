package skills

import (
	"testing"
)

func gatedSkill(name string, req *RequiresDecl) *LoadedSkill {
	return &LoadedSkill{
		Manifest: &SkillManifest{
			Skill:    SkillMeta{Name: name},
			Requires: req,
		},
		Trust: TrustLocal,
	}
}

func testGatingContext() *GatingContext {
	return &GatingContext{
		OS:           "linux",
		PathBins:     map[string]bool{"git": true, "jq": false},
		EnvVars:      map[string]bool{"GITHUB_TOKEN": true, "MISSING_TOKEN": false},
		ConfigValues: map[string]any{"feature.enabled": true, "feature.disabled": false, "feature.name": "x"},
		Overrides:    map[string]*SkillConfig{},
	}
}

func TestCheckEligibilityNoRequirements(t *testing.T) {
	skill := gatedSkill("plain", nil)
	result := skill.CheckEligibility(testGatingContext())
	if !result.Eligible {
		t.Fatalf("skill with no requirements should be eligible, got reason %q", result.Reason)
	}
}

func TestCheckEligibilityDisabledInConfig(t *testing.T) {
	skill := gatedSkill("plain", nil)
	ctx := testGatingContext()
	disabled := false
	ctx.Overrides["plain"] = &SkillConfig{Enabled: &disabled}
	result := skill.CheckEligibility(ctx)
	if result.Eligible {
		t.Fatal("disabled skill should not be eligible")
	}
	if result.Reason != "disabled in config" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
}

func TestCheckEligibilityOSMismatch(t *testing.T) {
	skill := gatedSkill("mac-only", &RequiresDecl{OS: []string{"darwin"}})
	result := skill.CheckEligibility(testGatingContext())
	if result.Eligible {
		t.Fatal("darwin-only skill should not be eligible on linux")
	}
}

func TestCheckEligibilityRequiredBinaries(t *testing.T) {
	present := gatedSkill("git-skill", &RequiresDecl{Bins: []string{"git"}})
	if r := present.CheckEligibility(testGatingContext()); !r.Eligible {
		t.Fatalf("git is on PATH in the test context, got reason %q", r.Reason)
	}

	missing := gatedSkill("jq-skill", &RequiresDecl{Bins: []string{"jq"}})
	if r := missing.CheckEligibility(testGatingContext()); r.Eligible {
		t.Fatal("jq is absent in the test context; skill should be ineligible")
	}
}

func TestCheckEligibilityAnyBins(t *testing.T) {
	skill := gatedSkill("either", &RequiresDecl{AnyBins: []string{"jq", "git"}})
	if r := skill.CheckEligibility(testGatingContext()); !r.Eligible {
		t.Fatalf("one of the any_bins exists, got reason %q", r.Reason)
	}

	none := gatedSkill("neither", &RequiresDecl{AnyBins: []string{"jq", "yq"}})
	ctx := testGatingContext()
	ctx.PathBins["yq"] = false
	if r := none.CheckEligibility(ctx); r.Eligible {
		t.Fatal("no any_bins candidate exists; skill should be ineligible")
	}
}

func TestCheckEligibilityEnvVars(t *testing.T) {
	skill := gatedSkill("gh", &RequiresDecl{Env: []string{"GITHUB_TOKEN"}})
	if r := skill.CheckEligibility(testGatingContext()); !r.Eligible {
		t.Fatalf("GITHUB_TOKEN is set in the test context, got reason %q", r.Reason)
	}

	missing := gatedSkill("gh2", &RequiresDecl{Env: []string{"MISSING_TOKEN"}})
	if r := missing.CheckEligibility(testGatingContext()); r.Eligible {
		t.Fatal("MISSING_TOKEN is unset; skill should be ineligible")
	}
}

func TestCheckEligibilityEnvSatisfiedByConfigAPIKey(t *testing.T) {
	skill := gatedSkill("gh3", &RequiresDecl{Env: []string{"MISSING_TOKEN"}})
	ctx := testGatingContext()
	ctx.Overrides["gh3"] = &SkillConfig{APIKey: "tok"}
	if r := skill.CheckEligibility(ctx); !r.Eligible {
		t.Fatalf("config apiKey should satisfy env requirement, got reason %q", r.Reason)
	}
}

func TestCheckEligibilityEnvSatisfiedByConfigEnvOverride(t *testing.T) {
	skill := gatedSkill("gh4", &RequiresDecl{Env: []string{"MISSING_TOKEN"}})
	ctx := testGatingContext()
	ctx.Overrides["gh4"] = &SkillConfig{Env: map[string]string{"MISSING_TOKEN": "v"}}
	if r := skill.CheckEligibility(ctx); !r.Eligible {
		t.Fatalf("config env override should satisfy env requirement, got reason %q", r.Reason)
	}
}

func TestCheckEligibilityConfigPaths(t *testing.T) {
	on := gatedSkill("feat", &RequiresDecl{Config: []string{"feature.enabled"}})
	if r := on.CheckEligibility(testGatingContext()); !r.Eligible {
		t.Fatalf("truthy config path should pass, got reason %q", r.Reason)
	}

	off := gatedSkill("feat2", &RequiresDecl{Config: []string{"feature.disabled"}})
	if r := off.CheckEligibility(testGatingContext()); r.Eligible {
		t.Fatal("false config path should fail")
	}

	absent := gatedSkill("feat3", &RequiresDecl{Config: []string{"feature.unknown"}})
	if r := absent.CheckEligibility(testGatingContext()); r.Eligible {
		t.Fatal("absent config path should fail")
	}
}

func TestIsTruthy(t *testing.T) {
	cases := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"", false},
		{"  ", false},
		{"x", true},
		{0, false},
		{3, true},
		{int64(0), false},
		{float64(0), false},
		{float64(0.5), true},
		{[]string{"anything"}, true},
	}
	for _, tc := range cases {
		if got := isTruthy(tc.value); got != tc.want {
			t.Errorf("isTruthy(%#v) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestFilterEligible(t *testing.T) {
	skills := []*LoadedSkill{
		gatedSkill("ok", nil),
		gatedSkill("needs-jq", &RequiresDecl{Bins: []string{"jq"}}),
		gatedSkill("needs-git", &RequiresDecl{Bins: []string{"git"}}),
	}
	eligible := FilterEligible(skills, testGatingContext())
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible skills, got %d", len(eligible))
	}
}

func TestGetIneligibleReasons(t *testing.T) {
	skills := []*LoadedSkill{
		gatedSkill("ok", nil),
		gatedSkill("needs-jq", &RequiresDecl{Bins: []string{"jq"}}),
	}
	reasons := GetIneligibleReasons(skills, testGatingContext())
	if len(reasons) != 1 {
		t.Fatalf("expected 1 ineligible skill, got %d", len(reasons))
	}
	if _, ok := reasons["needs-jq"]; !ok {
		t.Fatal("expected needs-jq in ineligible reasons")
	}
}

func TestActiveForKeywords(t *testing.T) {
	skill := &LoadedSkill{
		Manifest: &SkillManifest{
			Skill:      SkillMeta{Name: "deploys"},
			Activation: ActivationCriteria{Keywords: []string{"deploy", "rollout"}},
		},
	}
	if !skill.ActiveFor("please DEPLOY the staging build") {
		t.Fatal("keyword match should be case-insensitive")
	}
	if skill.ActiveFor("what's the weather") {
		t.Fatal("no keyword present; skill should not activate")
	}
}

func TestActiveForCompiledPatterns(t *testing.T) {
	manifest := &SkillManifest{
		Skill:      SkillMeta{Name: "tickets"},
		Activation: ActivationCriteria{Patterns: []string{`(?i)\bTICKET-\d+\b`, `[`}},
	}
	skill := NewLoadedSkill(manifest, "body", TrustLocal, SourceLocal, nil)
	if !skill.ActiveFor("look at TICKET-442 for context") {
		t.Fatal("pattern should activate the skill")
	}
	if skill.ActiveFor("no identifiers here") {
		t.Fatal("non-matching message should not activate")
	}
}

func TestActiveForAlwaysLoad(t *testing.T) {
	skill := &LoadedSkill{
		Manifest: &SkillManifest{
			Skill:      SkillMeta{Name: "base"},
			Activation: ActivationCriteria{AlwaysLoad: true},
		},
	}
	if !skill.ActiveFor("") {
		t.Fatal("always_load skill should activate for any message")
	}
}
