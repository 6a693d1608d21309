// Package scenario holds the step helpers end-to-end scenarios are written with.
//
// Only scenario-defining checks may fail a test. Steps against UI that a live site
// may or may not show go through Optional, which turns a failure into a skip, or
// BestEffort, which logs it and carries on.
package scenario

import (
	"time"

	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
)

// T is the part of testing.TB the helpers use.
type T interface {
	Helper()
	Name() string
	Logf(format string, args ...any)
	Skipf(format string, args ...any)
}

// Optional runs fn and skips the test when it fails.
func Optional(t T, step string, fn func() error) {
	t.Helper()
	err := fn()
	if err == nil {
		return
	}
	obs.Pkg("scenario").Info("optional_step_skipped",
		"test_id", t.Name(),
		"step", step,
		"code", string(errs.CodeOf(err)),
		"error", err.Error(),
	)
	t.Skipf("%s: %v", step, err)
}

// BestEffort runs fn and reports whether it succeeded. A failure is logged only.
func BestEffort(t T, step string, fn func() error) bool {
	t.Helper()
	err := fn()
	if err == nil {
		return true
	}
	obs.Pkg("scenario").Warn("best_effort_step_failed",
		"test_id", t.Name(),
		"step", step,
		"code", string(errs.CodeOf(err)),
		"error", err.Error(),
	)
	t.Logf("%s (continuing): %v", step, err)
	return false
}

// Settle waits d for server-side work the page gives no signal for.
func Settle(t T, reason string, d time.Duration) {
	t.Helper()
	if d <= 0 {
		return
	}
	obs.Pkg("scenario").Debug("settle", "test_id", t.Name(), "reason", reason, "duration", d.String())
	time.Sleep(d)
}
