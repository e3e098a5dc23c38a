package githubapi

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"
)

func writePrivateKeyPEM(t *testing.T, dir string) string {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() unexpected error: %v", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	path := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("os.WriteFile() unexpected error: %v", err)
	}
	return path
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	keyPath := writePrivateKeyPEM(t, tempDir)
	garbagePath := filepath.Join(tempDir, "garbage.pem")
	if err := os.WriteFile(garbagePath, []byte("not-a-key"), 0o600); err != nil {
		t.Fatalf("os.WriteFile() unexpected error: %v", err)
	}

	testCases := []struct {
		name        string
		config      AuthConfig
		wantErr     []string
		wantOAuth   bool
		wantAppBase string
	}{
		{
			name:      "token_wins_over_app_fields",
			config:    AuthConfig{Token: "ghp_example", AppID: 7, Timeout: 10 * time.Second},
			wantOAuth: true,
		},
		{
			name:        "app_installation_public_github",
			config:      AuthConfig{AppID: 7, InstallationID: 9, PrivateKeyPath: keyPath, APIBaseURL: "https://api.github.com/", Timeout: 20 * time.Second},
			wantAppBase: "https://api.github.com",
		},
		{
			name:        "app_installation_enterprise",
			config:      AuthConfig{AppID: 7, InstallationID: 9, PrivateKeyPath: keyPath, APIBaseURL: "https://ghe.example.com/api/v3/"},
			wantAppBase: "https://ghe.example.com/api/v3",
		},
		{
			name:    "blank_token_and_no_app",
			config:  AuthConfig{Token: "   "},
			wantErr: []string{"without a token", "app id", "installation id", "private key path"},
		},
		{
			name:    "missing_installation_only",
			config:  AuthConfig{AppID: 7, PrivateKeyPath: keyPath},
			wantErr: []string{"installation id"},
		},
		{
			name:    "unreadable_private_key",
			config:  AuthConfig{AppID: 7, InstallationID: 9, PrivateKeyPath: garbagePath},
			wantErr: []string{"create github app transport"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewHTTPClient(tc.config)
			if len(tc.wantErr) > 0 {
				if err == nil {
					t.Fatalf("NewHTTPClient() expected error, got nil")
				}
				for _, part := range tc.wantErr {
					if !contains(err.Error(), part) {
						t.Fatalf("error = %q, missing %q", err.Error(), part)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("NewHTTPClient() unexpected error: %v", err)
			}
			if client.Timeout != tc.config.Timeout {
				t.Fatalf("client.Timeout = %s, want %s", client.Timeout, tc.config.Timeout)
			}
			_, isOAuth := client.Transport.(*oauth2.Transport)
			if isOAuth != tc.wantOAuth {
				t.Fatalf("transport is oauth2 = %t, want %t", isOAuth, tc.wantOAuth)
			}
			if tc.wantAppBase == "" {
				return
			}
			app, ok := client.Transport.(*ghinstallation.Transport)
			if !ok {
				t.Fatalf("transport = %T, want *ghinstallation.Transport", client.Transport)
			}
			if app.BaseURL != tc.wantAppBase {
				t.Fatalf("BaseURL = %q, want %q", app.BaseURL, tc.wantAppBase)
			}
		})
	}
}

func TestNewRESTTransport(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		apiBaseURL  string
		wantBaseURL string
		wantErr     bool
	}{
		{name: "default_base_url", wantBaseURL: "https://api.github.com/"},
		{name: "enterprise_base_url_gets_trailing_slash", apiBaseURL: "https://github.example.com/api/v3", wantBaseURL: "https://github.example.com/api/v3/"},
		{name: "missing_host", apiBaseURL: "/api/v3", wantErr: true},
		{name: "unparseable", apiBaseURL: "://bad-url", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			transport, err := NewRESTTransport(nil, tc.apiBaseURL)
			if tc.wantErr {
				if err == nil || !contains(err.Error(), "parse github api base url") {
					t.Fatalf("NewRESTTransport() error = %v, want base url error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRESTTransport() unexpected error: %v", err)
			}
			if got := transport.client.BaseURL.String(); got != tc.wantBaseURL {
				t.Fatalf("BaseURL = %q, want %q", got, tc.wantBaseURL)
			}
		})
	}
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
