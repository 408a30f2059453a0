package farmcalendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Gatekeeper issues and caches access tokens.
type Gatekeeper struct {
	loginURL string
	username string
	password func() string
	ttl      time.Duration
	http     *http.Client
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewGatekeeper returns a Gatekeeper. password is called on every login so
// rotated secrets are picked up.
func NewGatekeeper(loginURL, username string, password func() string, ttl, timeout time.Duration) *Gatekeeper {
	return &Gatekeeper{
		loginURL: loginURL,
		username: username,
		password: password,
		ttl:      ttl,
		http:     &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Token returns a cached token or logs in for a new one.
func (g *Gatekeeper) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.expires) {
		return g.token, nil
	}

	body, err := json.Marshal(map[string]string{"username": g.username, "password": g.password()})
	if err != nil {
		return "", fmt.Errorf("farmcalendar: encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.loginURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("farmcalendar: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("farmcalendar: login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("farmcalendar: login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Access string `json:"access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("farmcalendar: decode login: %w", err)
	}
	if out.Access == "" {
		return "", fmt.Errorf("farmcalendar: login returned no access token")
	}

	slog.Info("farmcalendar: logged in to gatekeeper", "user", g.username)
	g.token = out.Access
	g.expires = g.now().Add(g.ttl)
	return g.token, nil
}

// Invalidate drops the cached token so the next call logs in again.
func (g *Gatekeeper) Invalidate() {
	g.mu.Lock()
	g.token = ""
	g.mu.Unlock()
}
