package cloud

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ServerFromToken extracts the account's API host from the cloud auth token.
// The token is a JWT whose user_api_url claim names the per-account server;
// the signature is the cloud's business, not ours, so the claims are read
// without verification.
func ServerFromToken(token string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse cloud token: %w", err)
	}
	raw, ok := claims["user_api_url"].(string)
	if !ok || raw == "" {
		return "", fmt.Errorf("cloud token carries no user_api_url claim")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse user_api_url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("user_api_url without host: %q", raw)
	}
	return u.Host, nil
}
