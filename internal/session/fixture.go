package session

import (
	"context"
	"testing"

	"github.com/kuitang/lti-e2e/internal/artifacts"
	"github.com/kuitang/lti-e2e/internal/config"
	"github.com/kuitang/lti-e2e/internal/driver"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
)

// Start launches a playwright-backed session for t and registers its teardown.
func Start(t testing.TB, cfg *config.Config) *Session {
	t.Helper()
	return StartWith(t, cfg, driver.PlaywrightLauncher{})
}

// StartWith is Start with an explicit launcher. The test is skipped when the browser
// runtime is not installed and fails immediately on configuration errors. When
// ARTIFACT_BUCKET is set, failure screenshots are also uploaded.
func StartWith(t testing.TB, cfg *config.Config, launcher driver.Launcher, opts ...Option) *Session {
	t.Helper()

	ctx := context.Background()
	if cfg.Artifacts.Enabled() {
		uploader, err := artifacts.New(ctx, cfg.Artifacts)
		if err != nil {
			obs.Pkg("session").Warn("artifact_upload_disabled", "error", err.Error())
		} else {
			opts = append([]Option{WithUploader(uploader)}, opts...)
		}
	}

	s, err := New(ctx, cfg, launcher, t.Name(), opts...)
	if err != nil {
		if errs.Is(err, errs.Unavailable) {
			t.Skipf("browser runtime unavailable (run `lti-e2e install`): %v", err)
		}
		t.Fatalf("start browser session: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Teardown(t.Failed()); err != nil {
			t.Logf("session teardown: %v", err)
		}
	})
	return s
}
