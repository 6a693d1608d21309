package session

import (
	"fmt"

	"github.com/kuitang/lti-e2e/internal/config"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
	"github.com/kuitang/lti-e2e/internal/page/pressbooks"
)

// LoginMoodle signs in through the Moodle login form and waits to land back on Moodle.
func (s *Session) LoginMoodle(creds config.Credentials) error {
	login := s.MoodleLogin()
	if err := login.Open(); err != nil {
		return fmt.Errorf("open moodle login: %w", err)
	}
	if err := login.Login(creds.Username, creds.Password); err != nil {
		return fmt.Errorf("submit moodle login: %w", err)
	}
	if err := s.Base.WaitForURLContains(s.Config.MoodleURL); err != nil {
		return fmt.Errorf("moodle login redirect: %w", err)
	}
	obs.From(s.ctx).Info("logged_in", "app", config.Moodle, "user", creds.Username)
	return nil
}

// LoginPressbooks signs in through wp-login.php and waits for the dashboard.
func (s *Session) LoginPressbooks(creds config.Credentials) error {
	login := s.PressbooksLogin()
	if err := login.Open(); err != nil {
		return fmt.Errorf("open pressbooks login: %w", err)
	}
	if err := login.Login(creds.Username, creds.Password); err != nil {
		return fmt.Errorf("submit pressbooks login: %w", err)
	}
	if err := s.Base.WaitForURLContains(pressbooks.AdminFragment); err != nil {
		return fmt.Errorf("pressbooks login redirect: %w", err)
	}
	obs.From(s.ctx).Info("logged_in", "app", config.Pressbooks, "user", creds.Username)
	return nil
}

// LoginAs signs in with the configured credentials of role.
func (s *Session) LoginAs(role config.Role) error {
	creds := s.Config.Credentials(role)
	if !creds.IsSet() {
		return errs.New(errs.InvalidConfig, fmt.Sprintf("no credentials configured for %s (set %s_USER and %s_PASSWORD)", role, role.EnvPrefix(), role.EnvPrefix()))
	}
	s.ctx = obs.WithCorrelation(s.ctx, obs.Correlation{Role: string(role)})
	if role.Application() == config.Pressbooks {
		return s.LoginPressbooks(creds)
	}
	return s.LoginMoodle(creds)
}

// LaunchFromMoodle logs in as a Moodle role, opens the configured course, clicks its
// first external tool activity and waits for the browser to reach Pressbooks. It
// returns the activity name.
func (s *Session) LaunchFromMoodle(role config.Role) (string, error) {
	if role.Application() != config.Moodle {
		return "", errs.New(errs.InvalidConfig, fmt.Sprintf("%s cannot launch from Moodle", role))
	}
	if err := s.LoginAs(role); err != nil {
		return "", err
	}

	course := s.Course()
	if err := course.Open(s.Config.CourseID); err != nil {
		return "", fmt.Errorf("open course %d: %w", s.Config.CourseID, err)
	}
	name, err := course.LTIActivityName()
	if err != nil {
		return "", fmt.Errorf("find LTI activity: %w", err)
	}
	if err := course.ClickLTIActivity(); err != nil {
		return "", fmt.Errorf("click LTI activity: %w", err)
	}
	if err := s.Base.WaitForURLContains(s.Config.PressbooksURL); err != nil {
		return "", fmt.Errorf("launch to pressbooks: %w", err)
	}

	obs.From(s.ctx).Info("lti_launched", "activity", name, "url", s.Driver.CurrentURL())
	return name, nil
}

// InSecondWindow opens a new window, runs fn there, closes it and returns to the
// original window. The original window's state and the session's log role are
// untouched.
func (s *Session) InSecondWindow(fn func() error) error {
	if err := s.Driver.OpenWindow(); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	if err := s.Driver.SwitchToWindow(s.Driver.WindowCount() - 1); err != nil {
		// A window left open here is closed with the browser at teardown.
		if back := s.Driver.SwitchToWindow(0); back != nil {
			obs.From(s.ctx).Warn("window_restore_failed", "error", back)
		}
		return fmt.Errorf("switch to second window: %w", err)
	}
	ctx := s.ctx
	defer func() { s.ctx = ctx }()

	runErr := fn()
	if err := s.Driver.CloseWindow(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close window: %w", err)
	}
	if err := s.Driver.SwitchToWindow(0); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
