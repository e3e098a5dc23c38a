package githubapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"golang.org/x/oauth2"
)

const (
	defaultSecondaryLimitMaxWait = time.Hour
	publicAPIHost                = "https://api.github.com"
)

// AuthConfig configures the authenticated HTTP client shared by the REST and GraphQL APIs.
// Token auth is used when Token is set; otherwise GitHub App installation auth is required.
type AuthConfig struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	// APIBaseURL points installation token exchange at a GitHub Enterprise server.
	APIBaseURL string
	Timeout    time.Duration
	// SecondaryLimitMaxWait bounds a single secondary rate-limit sleep.
	SecondaryLimitMaxWait time.Duration
	RateLimit             RateLimitPolicy
	BaseTransport         http.RoundTripper
}

// NewHTTPClient builds the client chain: auth, primary rate-limit pacing, secondary rate-limit
// waiting, then the base transport.
func NewHTTPClient(cfg AuthConfig) (*http.Client, error) {
	base := cfg.BaseTransport
	if base == nil {
		base = http.DefaultTransport
	}

	maxWait := cfg.SecondaryLimitMaxWait
	if maxWait <= 0 {
		maxWait = defaultSecondaryLimitMaxWait
	}
	waiter, err := github_ratelimit.NewRateLimitWaiter(base, github_ratelimit.WithSingleSleepLimit(maxWait, nil))
	if err != nil {
		return nil, fmt.Errorf("create rate limit waiter: %w", err)
	}
	paced := NewPacingTransport(waiter, cfg.RateLimit)

	var authed http.RoundTripper
	if token := strings.TrimSpace(cfg.Token); token != "" {
		authed = &oauth2.Transport{
			Base:   paced,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		}
	} else {
		authed, err = installationTransport(paced, cfg)
		if err != nil {
			return nil, err
		}
	}
	return &http.Client{Transport: authed, Timeout: cfg.Timeout}, nil
}

// installationTransport signs requests with installation tokens of a GitHub App.
func installationTransport(base http.RoundTripper, cfg AuthConfig) (http.RoundTripper, error) {
	var problems []error
	if cfg.AppID <= 0 {
		problems = append(problems, errors.New("app id must be > 0"))
	}
	if cfg.InstallationID <= 0 {
		problems = append(problems, errors.New("installation id must be > 0"))
	}
	if strings.TrimSpace(cfg.PrivateKeyPath) == "" {
		problems = append(problems, errors.New("private key path is required"))
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("github app auth without a token: %w", errors.Join(problems...))
	}

	transport, err := ghinstallation.NewKeyFromFile(base, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("create github app transport: %w", err)
	}
	if host := strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/"); host != "" && host != publicAPIHost {
		transport.BaseURL = host
	}
	return transport, nil
}
