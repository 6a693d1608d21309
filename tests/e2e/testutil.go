// Package e2e holds the end-to-end LTI scenarios. They drive a real browser against
// the Moodle and Pressbooks sites named in the environment.
//
// Prerequisites:
// - Install the browser: go run ./cmd/lti-e2e install
// - Check the environment: go run ./cmd/lti-e2e doctor
// - Run the scenarios with: go test -v ./tests/e2e/...
package e2e

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/lti-e2e/internal/config"
	"github.com/kuitang/lti-e2e/internal/lti"
	"github.com/kuitang/lti-e2e/internal/session"
)

var (
	configOnce   sync.Once
	sharedConfig *config.Config
	configErr    error
)

// Deep Linking parameters used when the picker is opened without Moodle.
const (
	directClientID     = "test"
	directReturnURL    = "http://example.com"
	directDeploymentID = "1"
)

// Config returns the run configuration, loaded once from the environment.
func Config(t testing.TB) *config.Config {
	t.Helper()
	configOnce.Do(func() {
		sharedConfig, configErr = config.LoadConfig()
	})
	if configErr != nil {
		t.Fatalf("load configuration: %v", configErr)
	}
	return sharedConfig
}

// RequireRoles skips t unless credentials are configured for every role.
func RequireRoles(t testing.TB, cfg *config.Config, roles ...config.Role) {
	t.Helper()
	for _, role := range roles {
		if !cfg.Credentials(role).IsSet() {
			t.Skipf("%s credentials not configured (set %s_USER and %s_PASSWORD)", role, role.EnvPrefix(), role.EnvPrefix())
		}
	}
}

// SetupE2E starts a browser session for t after checking that roles are configured.
func SetupE2E(t *testing.T, roles ...config.Role) *session.Session {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e scenario in short mode")
	}
	cfg := Config(t)
	RequireRoles(t, cfg, roles...)
	return session.Start(t, cfg)
}

// requireLaunched enforces the launch invariant on the current window.
func requireLaunched(t *testing.T, s *session.Session) {
	t.Helper()
	err := lti.CheckLaunch(s.Base.CurrentURL(), s.Config.PressbooksURL, s.Base.ConsoleLogs())
	require.NoError(t, err)
	t.Logf("launched to %s", s.Base.CurrentURL())
}

// documentHTML returns the live DOM, falling back to the page source.
func documentHTML(t *testing.T, s *session.Session) string {
	t.Helper()
	if v, err := s.Base.ExecuteScript("return document.documentElement.outerHTML"); err == nil {
		if html, ok := v.(string); ok && html != "" {
			return html
		}
	}
	source, err := s.Base.PageSource()
	require.NoError(t, err)
	return source
}

// requireResponseClaims decodes a Deep Linking response found on the page, if any,
// and checks its claims. With LTI_VERIFY_SIGNATURES the signature is checked too.
func requireResponseClaims(t *testing.T, s *session.Session, clientID string) {
	t.Helper()
	raw, ok := lti.ResponseJWT(s.Base.CurrentURL())
	if !ok {
		source, err := s.Base.PageSource()
		require.NoError(t, err)
		raw, ok = lti.ResponseJWTFromForm(source)
	}
	if !ok {
		t.Log("deep linking response carries no JWT to decode")
		return
	}

	resp, err := lti.ParseDeepLinkingResponse(raw)
	require.NoError(t, err)
	require.NoError(t, resp.Validate(clientID, time.Now()))
	t.Logf("deep linking response: kid=%s items=%d", resp.KeyID, len(resp.ContentItems))

	if s.Config.VerifySignatures {
		ctx, cancel := context.WithTimeout(s.Context(), s.Config.Timeout)
		defer cancel()
		_, err := lti.NewVerifier(ctx, s.Config.KeysetURL).Verify(ctx, raw)
		require.NoError(t, err)
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
