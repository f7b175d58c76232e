package skills

import (
	"fmt"
	"strings"

	"github.com/ironclaw/ironclaw/internal/secrets"
)

// SkillEndpointDeclaration is one entry of a skill manifest's [[http.endpoints]]
// table: a host (possibly a "*.example.com" wildcard), an optional path
// prefix, and the HTTP methods it permits (empty means all methods).
type SkillEndpointDeclaration struct {
	Host       string   `toml:"host"`
	PathPrefix string   `toml:"path_prefix"`
	Methods    []string `toml:"methods"`
}

// CredentialLocationToml is the [http.credentials.<name>.location] table,
// tagged by "type": bearer | basic | header | query_param.
type CredentialLocationToml struct {
	Type     string `toml:"type"`
	Username string `toml:"username"`
	Name     string `toml:"name"`
	Prefix   string `toml:"prefix"`
}

func (l CredentialLocationToml) toCredentialLocation() secrets.CredentialLocation {
	return secrets.CredentialLocation{
		Kind:     l.Type,
		Username: l.Username,
		Name:     l.Name,
		Prefix:   l.Prefix,
	}
}

// SkillCredentialDeclaration is one [http.credentials.<name>] table.
type SkillCredentialDeclaration struct {
	SecretName   string                 `toml:"secret_name"`
	Location     CredentialLocationToml `toml:"location"`
	HostPatterns []string               `toml:"host_patterns"`
}

func (c SkillCredentialDeclaration) toCredentialMapping() secrets.CredentialMapping {
	return secrets.CredentialMapping{
		SecretName:   c.SecretName,
		Location:     c.Location.toCredentialLocation(),
		HostPatterns: c.HostPatterns,
	}
}

// SkillHttpDeclaration is a skill manifest's [http] section.
type SkillHttpDeclaration struct {
	Endpoints   []SkillEndpointDeclaration            `toml:"endpoints"`
	Credentials map[string]SkillCredentialDeclaration `toml:"credentials"`
}

// HttpScopeErrorKind distinguishes the closed set of ways an HTTP request
// can be denied by skill scoping.
type HttpScopeErrorKind string

const (
	HttpScopeEndpointDenied    HttpScopeErrorKind = "endpoint_denied"
	HttpScopeCredentialDenied  HttpScopeErrorKind = "credential_denied"
	HttpScopeNoScopeForUrl     HttpScopeErrorKind = "no_scope_for_url"
	HttpScopeShellCommandDenied HttpScopeErrorKind = "shell_command_denied"
)

// HttpScopeError reports why an HTTP request or shell command was denied.
type HttpScopeError struct {
	Kind       HttpScopeErrorKind
	URL        string
	Method     string
	SecretName string
	Host       string
	Command    string
	Reason     string
}

func (e *HttpScopeError) Error() string {
	switch e.Kind {
	case HttpScopeEndpointDenied:
		return fmt.Sprintf("HTTP %s to %s denied by skill scoping: %s", e.Method, e.URL, e.Reason)
	case HttpScopeCredentialDenied:
		return fmt.Sprintf("Credential %q not authorized for host %q", e.SecretName, e.Host)
	case HttpScopeNoScopeForUrl:
		return fmt.Sprintf("No active skill declares HTTP scope for URL: %s", e.URL)
	case HttpScopeShellCommandDenied:
		return fmt.Sprintf("Shell command denied by HTTP scoping: %s (%s)", e.Reason, truncateCmd(e.Command, 80))
	default:
		return "denied by skill HTTP scoping"
	}
}

func truncateCmd(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// shellHTTPCommands are prefixes that indicate a shell command performs an
// HTTP request.
var shellHTTPCommands = []string{"curl ", "curl\t", "wget ", "wget\t"}

// extractURLFromShell returns (url, binary) if command invokes curl/wget
// against an http(s) URL, best-effort (whitespace-tokenized, no full shell
// parsing).
func extractURLFromShell(command string) (url, binary string, ok bool) {
	lower := strings.ToLower(command)
	for _, prefix := range shellHTTPCommands {
		if !strings.Contains(lower, prefix) {
			continue
		}
		bin := strings.TrimSpace(prefix)
		for _, token := range strings.Fields(command) {
			if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
				return token, bin, true
			}
		}
	}
	return "", "", false
}

type skillScope struct {
	skillName   string
	endpoints   []SkillEndpointDeclaration
	credentials []secrets.CredentialMapping
}

func hostMatches(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if pattern == host {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return false
}

func (s skillScope) validate(url, method string) bool {
	for _, ep := range s.endpoints {
		if !endpointMatches(ep, url, method) {
			continue
		}
		return true
	}
	return false
}

func endpointMatches(ep SkillEndpointDeclaration, url, method string) bool {
	rest := url
	rest = strings.TrimPrefix(rest, "https://")
	rest = strings.TrimPrefix(rest, "http://")
	host := rest
	path := "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host = rest[:i]
		path = rest[i:]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if !hostMatches(ep.Host, host) {
		return false
	}
	if ep.PathPrefix != "" && !strings.HasPrefix(path, ep.PathPrefix) {
		return false
	}
	if len(ep.Methods) > 0 {
		found := false
		for _, m := range ep.Methods {
			if strings.EqualFold(m, method) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SkillHttpScopes aggregates the [http] declarations of every active
// non-Community skill into a single enforcement surface, built once per
// reasoning-loop turn from the skills currently in context.
//
// Enforcement semantics: if no active skill declares [http], every request
// passes through unchanged (backward compatible with skills that have no
// opinion on networking). The moment any skill declares [http], every HTTP
// request and HTTP-shaped shell command must match at least one active
// skill's allowlist (union semantics) or it is denied.
type SkillHttpScopes struct {
	scopes    []skillScope
	hasScopes bool
}

// NewSkillHttpScopes builds aggregated scopes from the given loaded skills.
// Community-trust skills' [http] declarations are ignored entirely, even if
// present -- defense in depth against an untrusted skill granting itself
// network reach.
func NewSkillHttpScopes(skills []*LoadedSkill) *SkillHttpScopes {
	var scopes []skillScope
	for _, skill := range skills {
		if skill.Trust == TrustCommunity {
			continue
		}
		if skill.Manifest == nil || skill.Manifest.HTTP == nil {
			continue
		}
		http := skill.Manifest.HTTP
		if len(http.Endpoints) == 0 {
			continue
		}
		creds := make([]secrets.CredentialMapping, 0, len(http.Credentials))
		for _, c := range http.Credentials {
			creds = append(creds, c.toCredentialMapping())
		}
		scopes = append(scopes, skillScope{
			skillName:   skill.Manifest.Skill.Name,
			endpoints:   http.Endpoints,
			credentials: creds,
		})
	}
	return &SkillHttpScopes{scopes: scopes, hasScopes: len(scopes) > 0}
}

// ValidateHTTPRequest checks url/method against active scopes, returning
// the union of matching credential mappings on success.
func (s *SkillHttpScopes) ValidateHTTPRequest(url, method string) ([]secrets.CredentialMapping, error) {
	if s == nil || !s.hasScopes {
		return nil, nil
	}

	var matched []secrets.CredentialMapping
	anyAllowed := false
	var names []string
	for _, scope := range s.scopes {
		names = append(names, scope.skillName)
		if scope.validate(url, method) {
			anyAllowed = true
			matched = append(matched, scope.credentials...)
		}
	}
	if anyAllowed {
		return matched, nil
	}
	return nil, &HttpScopeError{
		Kind:   HttpScopeEndpointDenied,
		URL:    url,
		Method: method,
		Reason: fmt.Sprintf("not in any active skill's allowlist (skills with scopes: %s)", strings.Join(names, ", ")),
	}
}

// ValidateShellCommand best-effort-extracts a curl/wget URL from command
// and validates it as a GET request. Non-HTTP commands always pass.
func (s *SkillHttpScopes) ValidateShellCommand(command string) error {
	if s == nil || !s.hasScopes {
		return nil
	}
	url, binary, ok := extractURLFromShell(command)
	if !ok {
		return nil
	}
	if _, err := s.ValidateHTTPRequest(url, "GET"); err != nil {
		return &HttpScopeError{
			Kind:    HttpScopeShellCommandDenied,
			Command: command,
			Reason:  fmt.Sprintf("%s targets URL %s which is not in any active skill's HTTP scope", binary, url),
		}
	}
	return nil
}
