package agent

import "github.com/ironclaw/ironclaw/internal/secrets"

// ScopePolicy is the slice of the skill system the built-in http and shell
// tools consult before touching the network: an allow-list check that
// returns the credential mappings a matching skill declared for the target
// host. internal/skills.SkillHttpScopes is the production implementation;
// keeping the dependency as an interface here means the skills package can
// in turn build agent.Tool implementations from skill manifests without an
// import cycle.
type ScopePolicy interface {
	// ValidateHTTPRequest checks url/method against the active scopes,
	// returning the union of matching credential mappings on success.
	ValidateHTTPRequest(url, method string) ([]secrets.CredentialMapping, error)

	// ValidateShellCommand denies commands whose best-effort-extracted
	// curl/wget target falls outside every active scope.
	ValidateShellCommand(command string) error
}
