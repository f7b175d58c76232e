package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// postOAuthRefresh performs the one documented step of the Anthropic OAuth
// refresh flow: the refresh token's acquisition flow itself is unspecified
// upstream, so this only implements "POST to the token endpoint with the
// refresh token, persist the result".
func postOAuthRefresh(ctx context.Context, tokenURL string, creds *AnthropicOAuthCredentials, authJSONPath string) error {
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": creds.RefreshToken,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")

	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("oauth refresh failed: status %d", httpResp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&body); err != nil {
		return err
	}

	creds.AccessToken = body.AccessToken
	if body.RefreshToken != "" {
		creds.RefreshToken = body.RefreshToken
	}
	if body.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}

	out, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(authJSONPath, out, 0o600)
}
