package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SessionManager owns a NEAR AI session token and the single network call
// needed to mint a fresh one. Adapters never see the login flow directly:
// they call Token to get a bearer value and HandleAuthFailure once, after a
// response has been classified as a SessionExpired error.
type SessionManager struct {
	httpClient *http.Client
	loginURL   string
	accountID  string
	privateKey string

	mu      sync.RWMutex
	token   string
	expires time.Time
}

func NewSessionManager(httpClient *http.Client, loginURL, accountID, privateKey string) *SessionManager {
	return &SessionManager{httpClient: httpClient, loginURL: loginURL, accountID: accountID, privateKey: privateKey}
}

// Token returns the current session token, logging in if none is cached.
func (s *SessionManager) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()
	if tok != "" {
		return tok, nil
	}
	return s.login(ctx)
}

// HandleAuthFailure is called exactly once by the adapter after a 401 has
// been classified as SessionExpired; it clears the cached token and logs in
// again so the caller's single retry has a fresh session.
func (s *SessionManager) HandleAuthFailure(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return s.login(ctx)
}

type nearAILoginRequest struct {
	AccountID string `json:"account_id"`
}

type nearAILoginResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (s *SessionManager) login(ctx context.Context) (string, error) {
	if strings.TrimSpace(s.accountID) == "" {
		return "", errors.New("nearai: account id is required to open a session")
	}
	var resp nearAILoginResponse
	headers := map[string]string{}
	if s.privateKey != "" {
		headers["X-NEAR-Signature"] = s.privateKey
	}
	_, err := postJSON(ctx, s.httpClient, s.loginURL, headers, nearAILoginRequest{AccountID: s.accountID}, &resp)
	if err != nil {
		return "", fmt.Errorf("nearai: session login: %w", err)
	}
	if resp.SessionToken == "" {
		return "", errors.New("nearai: session login returned no token")
	}

	s.mu.Lock()
	s.token = resp.SessionToken
	if resp.ExpiresIn > 0 {
		s.expires = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	s.mu.Unlock()
	return resp.SessionToken, nil
}

// isSessionExpiredBody matches the original's lenient body sniff: a 401 only
// counts as SessionExpired if the body mentions "session" together with
// "expired" or "invalid"; anything else is a generic AuthFailed.
func isSessionExpiredBody(body string) bool {
	lower := strings.ToLower(body)
	if !strings.Contains(lower, "session") {
		return false
	}
	return strings.Contains(lower, "expired") || strings.Contains(lower, "invalid")
}
