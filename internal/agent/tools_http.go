package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ironclaw/ironclaw/internal/ratelimit"
	"github.com/ironclaw/ironclaw/internal/secrets"
)

// httpToolSchema is the strict-mode JSON Schema every call to the http
// tool must validate against: method/url required, no additionalProperties.
const httpToolSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"]},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {"type": "string"}
  },
  "required": ["method", "url"],
  "additionalProperties": false
}`

type httpToolParams struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// HTTPTool is the agent's sole means of making outbound HTTP requests. It
// is gated by a per-turn ScopePolicy (endpoints and shell-command targets
// declared by active skills), a dual per-minute/per-hour rate limiter, and
// a SecretsStore for credential injection, since a skill's endpoint
// declaration may name a credential rather than expect the model to supply
// one.
type HTTPTool struct {
	Scopes  ScopePolicy
	Limiter *ratelimit.MultiLimiter
	Secrets *secrets.Store
	User    string
	Client  *http.Client
}

// NewHTTPTool builds an HTTPTool with the default 20/min + 200/hour dual
// rate limit.
func NewHTTPTool(scopes ScopePolicy, store *secrets.Store, user string) *HTTPTool {
	perMinute := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 20.0 / 60.0, BurstSize: 20, Enabled: true})
	perHour := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 200.0 / 3600.0, BurstSize: 200, Enabled: true})
	return &HTTPTool{
		Scopes:  scopes,
		Limiter: ratelimit.NewMultiLimiter(perMinute, perHour),
		Secrets: store,
		User:    user,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTool) Name() string        { return "http" }
func (t *HTTPTool) Description() string { return "Make an HTTP request to an endpoint allowed by the active skills' scope." }
func (t *HTTPTool) Schema() json.RawMessage { return json.RawMessage(httpToolSchema) }

func (t *HTTPTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var p httpToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid http tool parameters: %w", err)
	}
	if p.Method == "" || p.URL == "" {
		return nil, fmt.Errorf("http tool requires method and url")
	}

	key := ratelimit.CompositeKey("http", t.User)
	if t.Limiter != nil && !t.Limiter.Allow(key) {
		return nil, fmt.Errorf("rate limited: too many http calls, retry in %.0fs", t.Limiter.WaitTime(key).Seconds())
	}

	var creds []secrets.CredentialMapping
	if t.Scopes != nil {
		matched, err := t.Scopes.ValidateHTTPRequest(p.URL, p.Method)
		if err != nil {
			return nil, err
		}
		creds = matched
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.Method), p.URL, strings.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if err := t.injectCredentials(req, creds); err != nil {
		return nil, err
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &ToolResult{
		Content: fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, string(body)),
		IsError: resp.StatusCode >= 400,
	}, nil
}

// injectCredentials applies the first credential mapping (if any) whose
// host pattern matches req's host, in the location it declares.
func (t *HTTPTool) injectCredentials(req *http.Request, creds []secrets.CredentialMapping) error {
	if len(creds) == 0 || t.Secrets == nil {
		return nil
	}
	host := req.URL.Hostname()
	for _, cred := range creds {
		if !credentialAppliesTo(cred, host) {
			continue
		}
		secret, err := t.Secrets.GetDecrypted(t.User, cred.SecretName)
		if err != nil {
			return fmt.Errorf("resolve credential %q: %w", cred.SecretName, err)
		}
		value := secret.Expose()
		defer secret.Zero()

		switch cred.Location.Kind {
		case secrets.CredentialBearer:
			req.Header.Set("Authorization", "Bearer "+value)
		case secrets.CredentialBasic:
			req.SetBasicAuth(cred.Location.Username, value)
		case secrets.CredentialHeader:
			req.Header.Set(cred.Location.Name, cred.Location.Prefix+value)
		case secrets.CredentialQueryParam:
			q := req.URL.Query()
			q.Set(cred.Location.Name, value)
			req.URL.RawQuery = q.Encode()
		}
		return nil
	}
	return nil
}

func credentialAppliesTo(cred secrets.CredentialMapping, host string) bool {
	if len(cred.HostPatterns) == 0 {
		return true
	}
	for _, pattern := range cred.HostPatterns {
		if pattern == host {
			return true
		}
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
