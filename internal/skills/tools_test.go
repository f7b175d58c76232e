package skills

import (
	"testing"

	"github.com/ironclaw/ironclaw/internal/agent"
	exectools "github.com/ironclaw/ironclaw/internal/tools/exec"
)

func TestBuildSkillTools(t *testing.T) {
	skill := &LoadedSkill{
		Manifest: &SkillManifest{
			Skill: SkillMeta{Name: "gh"},
			Tools: []SkillToolSpec{
				{Name: "gh-issue-list", Description: "List open issues", Command: "bash"},
				{Name: "  ", Command: "bash"}, // blank names are skipped
			},
		},
		Trust: TrustLocal,
		Path:  t.TempDir(),
	}
	manager := exectools.NewManager(t.TempDir())

	tools := BuildSkillTools(skill, manager)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if tools[0].Name() != "gh-issue-list" {
		t.Errorf("name = %q", tools[0].Name())
	}
	if tools[0].Description() != "List open issues" {
		t.Errorf("description = %q", tools[0].Description())
	}
	if string(tools[0].Schema()) != `{"type":"object"}` {
		t.Errorf("default schema = %s", tools[0].Schema())
	}
}

func TestBuildSkillToolsNilInputs(t *testing.T) {
	manager := exectools.NewManager(t.TempDir())
	if got := BuildSkillTools(nil, manager); got != nil {
		t.Fatal("nil skill should yield no tools")
	}
	skill := &LoadedSkill{Manifest: &SkillManifest{Skill: SkillMeta{Name: "x"}}}
	if got := BuildSkillTools(skill, nil); got != nil {
		t.Fatal("nil exec manager should yield no tools")
	}
}

func TestToolCeilingMapping(t *testing.T) {
	cases := []struct {
		trust SkillTrust
		want  agent.TrustCeiling
	}{
		{TrustLocal, agent.CeilingLocal},
		{TrustVerified, agent.CeilingVerified},
		{TrustCommunity, agent.CeilingCommunity},
	}
	for _, tc := range cases {
		if got := ToolCeiling(tc.trust); got != tc.want {
			t.Errorf("ToolCeiling(%q) = %v, want %v", tc.trust, got, tc.want)
		}
	}
}

func TestActiveCeilingIsLeastTrustedActiveSkill(t *testing.T) {
	local := &LoadedSkill{Manifest: &SkillManifest{Skill: SkillMeta{Name: "a"}}, Trust: TrustLocal}
	community := &LoadedSkill{Manifest: &SkillManifest{Skill: SkillMeta{Name: "b"}}, Trust: TrustCommunity}
	verified := &LoadedSkill{Manifest: &SkillManifest{Skill: SkillMeta{Name: "c"}}, Trust: TrustVerified}

	if got := ActiveCeiling(nil); got != agent.CeilingLocal {
		t.Errorf("no active skills: ceiling = %v, want local", got)
	}
	if got := ActiveCeiling([]*LoadedSkill{local, verified}); got != agent.CeilingVerified {
		t.Errorf("local+verified: ceiling = %v, want verified", got)
	}
	if got := ActiveCeiling([]*LoadedSkill{local, verified, community}); got != agent.CeilingCommunity {
		t.Errorf("mixed: ceiling = %v, want community", got)
	}
}
