// Package session owns the browser for one test: launch options, page-object
// construction, login helpers and the single teardown that captures a failure
// screenshot and quits the browser.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/lti-e2e/internal/artifacts"
	"github.com/kuitang/lti-e2e/internal/config"
	"github.com/kuitang/lti-e2e/internal/driver"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
	"github.com/kuitang/lti-e2e/internal/page"
	"github.com/kuitang/lti-e2e/internal/page/moodle"
	"github.com/kuitang/lti-e2e/internal/page/pressbooks"
)

const screenshotTimeFormat = "20060102_150405"

var viewport = driver.Size{Width: 1920, Height: 1080}

var (
	chromeArgs = []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--window-size=1920,1080",
		"--ignore-certificate-errors",
		"--allow-insecure-localhost",
	}
	firefoxArgs = []string{
		"--width=1920",
		"--height=1080",
	}
)

// LaunchOptionsFor resolves the browser configuration for cfg. Headless mode is passed
// as an option rather than a flag. Unsupported browsers are an InvalidConfig error.
func LaunchOptionsFor(cfg *config.Config) (driver.LaunchOptions, error) {
	opts := driver.LaunchOptions{
		Headless:          cfg.Headless,
		Viewport:          viewport,
		IgnoreHTTPSErrors: true,
		ImplicitWait:      cfg.ImplicitWait,
		PageLoadTimeout:   cfg.Timeout,
	}
	switch cfg.Browser {
	case config.BrowserChrome:
		opts.Engine = driver.EngineChromium
		opts.Args = append([]string(nil), chromeArgs...)
	case config.BrowserFirefox:
		opts.Engine = driver.EngineFirefox
		opts.Args = append([]string(nil), firefoxArgs...)
	default:
		return driver.LaunchOptions{}, errs.New(errs.InvalidConfig, fmt.Sprintf("unsupported browser: %q", cfg.Browser))
	}
	return opts, nil
}

// Session is one live browser exclusively owned by one test.
type Session struct {
	Config *config.Config
	Driver driver.Driver
	Base   *page.Base
	TestID string

	ctx      context.Context
	uploader artifacts.Uploader
	now      func() time.Time

	once        sync.Once
	teardownErr error
}

// Option customizes a session.
type Option func(*Session)

// WithUploader uploads failure screenshots through u.
func WithUploader(u artifacts.Uploader) Option {
	return func(s *Session) { s.uploader = u }
}

// WithClock replaces the clock used for screenshot names.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New launches a browser for testID.
func New(ctx context.Context, cfg *config.Config, launcher driver.Launcher, testID string, opts ...Option) (*Session, error) {
	launchOpts, err := LaunchOptionsFor(cfg)
	if err != nil {
		return nil, err
	}

	ctx = obs.WithCorrelation(ctx, obs.Correlation{
		RunID:   cfg.RunID,
		TestID:  testID,
		Browser: string(cfg.Browser),
	})

	d, err := launcher.Launch(launchOpts)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Config: cfg,
		Driver: d,
		Base:   page.NewBase(d, cfg.Timeout),
		TestID: testID,
		ctx:    ctx,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	obs.From(ctx).Info("session_started", "engine", launchOpts.Engine, "headless", launchOpts.Headless)
	return s, nil
}

// Context carries the session's correlation fields.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ScreenshotName returns "<test id>_<YYYYMMDD_HHMMSS>.png" with "/" in the test id
// replaced by "_".
func (s *Session) ScreenshotName() string {
	return strings.ReplaceAll(s.TestID, "/", "_") + "_" + s.now().Format(screenshotTimeFormat) + ".png"
}

// Teardown releases the browser. It runs at most once; later calls return the first
// result. A screenshot is taken first when failed and screenshots are enabled.
func (s *Session) Teardown(failed bool) error {
	s.once.Do(func() {
		s.teardownErr = s.teardown(failed)
	})
	return s.teardownErr
}

func (s *Session) teardown(failed bool) error {
	var errList []error
	if failed && s.Config.ScreenshotOnFailure {
		if err := s.captureFailure(); err != nil {
			errList = append(errList, err)
		}
	}
	if err := s.Driver.Quit(); err != nil {
		errList = append(errList, fmt.Errorf("quit browser: %w", err))
	}
	obs.From(s.ctx).Info("session_closed", "failed", failed)
	return errors.Join(errList...)
}

func (s *Session) captureFailure() error {
	if err := os.MkdirAll(s.Config.ScreenshotDir, 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(s.Config.ScreenshotDir, s.ScreenshotName())
	if err := s.Driver.Screenshot(path); err != nil {
		return fmt.Errorf("save screenshot: %w", err)
	}
	obs.From(s.ctx).Info("screenshot_saved", "path", path, "url", s.Driver.CurrentURL())

	if s.uploader == nil {
		return nil
	}
	key := artifacts.KeyFor(s.Config.Artifacts.Prefix, s.Config.RunID, path)
	if _, err := s.uploader.UploadFile(s.ctx, key, path); err != nil {
		return fmt.Errorf("upload screenshot: %w", err)
	}
	return nil
}

// Page objects bound to this session.

func (s *Session) MoodleLogin() *moodle.LoginPage {
	return moodle.NewLoginPage(s.Base, s.Config.MoodleURL)
}

func (s *Session) Course() *moodle.CoursePage {
	return moodle.NewCoursePage(s.Base, s.Config.MoodleURL)
}

func (s *Session) Gradebook() *moodle.GradebookPage {
	return moodle.NewGradebookPage(s.Base, s.Config.MoodleURL)
}

func (s *Session) PressbooksLogin() *pressbooks.LoginPage {
	return pressbooks.NewLoginPage(s.Base, s.Config.PressbooksURL)
}

func (s *Session) Chapter() *pressbooks.ChapterPage {
	return pressbooks.NewChapterPage(s.Base)
}

func (s *Session) ContentPicker() *pressbooks.ContentPicker {
	return pressbooks.NewContentPicker(s.Base, s.Config.PressbooksURL)
}

func (s *Session) Users() *pressbooks.UsersPage {
	return pressbooks.NewUsersPage(s.Base, s.Config.PressbooksURL)
}
