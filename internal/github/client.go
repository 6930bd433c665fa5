package github

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
)

// Backends accepted by TrackerConfig.Backend.
const (
	BackendAPI = "api"
	BackendCLI = "gh"
)

// TrackerConfig selects and configures an IssueTracker.
type TrackerConfig struct {
	Repo    string
	Backend string

	// Token authenticates directly. When empty, AppID and PrivateKey are
	// used to mint installation tokens.
	Token      string
	AppID      string
	PrivateKey string

	// BaseURL overrides the REST endpoint (GitHub Enterprise, tests).
	BaseURL    string
	RateLimit  float64
	MaxRetries int
}

// NewTracker builds the tracker described by cfg.
func NewTracker(cfg TrackerConfig) (IssueTracker, error) {
	if _, _, err := ParseRepo(cfg.Repo); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendCLI:
		log.Printf("[GitHub] Using gh CLI backend for %s", cfg.Repo)
		return NewCLITracker(cfg.Repo, cfg.Token)
	case "", BackendAPI:
	default:
		return nil, fmt.Errorf("unknown backend %q (expected %s or %s)", cfg.Backend, BackendAPI, BackendCLI)
	}

	client, err := newRESTClient(cfg)
	if err != nil {
		return nil, err
	}

	policy := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	log.Printf("[GitHub] Using REST backend for %s (rate limit %.1f/s, retries %d)", cfg.Repo, cfg.RateLimit, policy.MaxRetries)
	return NewRESTTracker(client, cfg.Repo, WithRateLimit(cfg.RateLimit), WithRetryPolicy(policy))
}

func newRESTClient(cfg TrackerConfig) (*gh.Client, error) {
	var client *gh.Client
	switch {
	case cfg.Token != "":
		client = gh.NewClient(nil).WithAuthToken(cfg.Token)
	case cfg.AppID != "" && cfg.PrivateKey != "":
		auth := &AppAuth{AppID: cfg.AppID, PrivateKey: cfg.PrivateKey, BaseURL: cfg.BaseURL}
		httpClient := &http.Client{
			Transport: NewInstallationTransport(auth, cfg.Repo, nil),
			Timeout:   30 * time.Second,
		}
		client = gh.NewClient(httpClient)
	default:
		return nil, fmt.Errorf("no GitHub credentials: set GITHUB_TOKEN or GITHUB_APP_ID and GITHUB_PRIVATE_KEY")
	}

	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		client.BaseURL = base
	}
	return client, nil
}
