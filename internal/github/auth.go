package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultAPIBase = "https://api.github.com"

// tokenRefreshMargin renews installation tokens this long before expiry.
const tokenRefreshMargin = time.Minute

// AuthProvider defines the interface for GitHub authentication
type AuthProvider interface {
	GetInstallationToken(ctx context.Context, repo string) (*InstallationToken, error)
}

// AppAuth holds GitHub App authentication configuration
type AppAuth struct {
	AppID      string
	PrivateKey string
	// BaseURL overrides https://api.github.com (tests, GHES).
	BaseURL    string
	HTTPClient *http.Client
}

// InstallationToken represents a GitHub App installation access token
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be used.
func (t *InstallationToken) Valid(now time.Time) bool {
	return t != nil && t.Token != "" && now.Add(tokenRefreshMargin).Before(t.ExpiresAt)
}

func (a *AppAuth) apiBase() string {
	if a.BaseURL != "" {
		return strings.TrimRight(a.BaseURL, "/")
	}
	return defaultAPIBase
}

func (a *AppAuth) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// GenerateJWT creates a JWT token for GitHub App authentication
func (a *AppAuth) GenerateJWT() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}

	appID, err := strconv.ParseInt(a.AppID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid app ID: %w", err)
	}

	// Backdate issued-at to absorb clock drift between us and GitHub.
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(appID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return signedToken, nil
}

// GetInstallationToken gets an installation access token for a repository
func (a *AppAuth) GetInstallationToken(ctx context.Context, repo string) (*InstallationToken, error) {
	owner, name, err := ParseRepo(repo)
	if err != nil {
		return nil, err
	}

	jwtToken, err := a.GenerateJWT()
	if err != nil {
		return nil, err
	}

	installationID, err := a.getInstallationID(ctx, jwtToken, owner, name)
	if err != nil {
		return nil, err
	}

	return a.getInstallationAccessToken(ctx, jwtToken, installationID)
}

func (a *AppAuth) newRequest(ctx context.Context, method, url, jwtToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return req, nil
}

// getInstallationID retrieves the installation ID for a repository
func (a *AppAuth) getInstallationID(ctx context.Context, jwtToken, owner, repo string) (int64, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/installation", a.apiBase(), owner, repo)
	req, err := a.newRequest(ctx, http.MethodGet, url, jwtToken)
	if err != nil {
		return 0, err
	}

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to get installation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("GitHub API error: %d - %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.ID, nil
}

// getInstallationAccessToken retrieves an installation access token
func (a *AppAuth) getInstallationAccessToken(ctx context.Context, jwtToken string, installationID int64) (*InstallationToken, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.apiBase(), installationID)
	req, err := a.newRequest(ctx, http.MethodPost, url, jwtToken)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitHub API error: %d - %s", resp.StatusCode, string(body))
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &InstallationToken{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// installationTransport authenticates requests with a cached installation
// token, fetching a new one when the current token is about to expire.
type installationTransport struct {
	auth AuthProvider
	repo string
	base http.RoundTripper
	now  func() time.Time

	mu    sync.Mutex
	token *InstallationToken
}

// NewInstallationTransport returns a RoundTripper for go-github clients
// acting as a GitHub App installation on repo.
func NewInstallationTransport(auth AuthProvider, repo string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &installationTransport{auth: auth, repo: repo, base: base, now: time.Now}
}

func (t *installationTransport) currentToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token.Valid(t.now()) {
		return t.token.Token, nil
	}
	tok, err := t.auth.GetInstallationToken(ctx, t.repo)
	if err != nil {
		return "", fmt.Errorf("refresh installation token: %w", err)
	}
	t.token = tok
	return tok.Token, nil
}

func (t *installationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.currentToken(req.Context())
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "token "+token)
	return t.base.RoundTrip(r)
}
