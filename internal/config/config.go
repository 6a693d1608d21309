// Package config provides the run configuration for the LTI end-to-end suite.
// It is loaded once from environment variables, validated, and then treated as
// read-only for the lifetime of the test binary.
//
// Key names match the suite's historical .env files (SELENIUM_*, SCREENSHOT_*), so
// existing CI secrets keep working regardless of the browser driver in use.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kuitang/lti-e2e/internal/logutil"
	"github.com/kuitang/lti-e2e/internal/urlutil"
)

const (
	defaultMoodleURL     = "https://moodle.lti.qbnox.com"
	defaultPressbooksURL = "https://pb.lti.qbnox.com"

	// KeysetPath is the tool JWKS route registered by the Pressbooks LTI plugin.
	KeysetPath = "/wp-json/pb-lti/v1/keyset"
)

// Browser names one of the supported browser engines.
type Browser string

const (
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
)

// Application identifies a system under test.
type Application string

const (
	Moodle     Application = "moodle"
	Pressbooks Application = "pressbooks"
)

// Role is a named identity used to log in to one application.
type Role string

const (
	MoodleAdmin      Role = "moodle_admin"
	MoodleStudent    Role = "moodle_student"
	MoodleInstructor Role = "moodle_instructor"
	PressbooksAdmin  Role = "pressbooks_admin"
)

// Roles lists every role in a stable order.
var Roles = []Role{MoodleAdmin, MoodleStudent, MoodleInstructor, PressbooksAdmin}

// Application returns the application the role logs in to.
func (r Role) Application() Application {
	if strings.HasPrefix(string(r), string(Pressbooks)+"_") {
		return Pressbooks
	}
	return Moodle
}

// EnvPrefix returns the environment key prefix for the role's credentials.
func (r Role) EnvPrefix() string {
	return strings.ToUpper(string(r))
}

// Credentials is a username/password pair.
type Credentials struct {
	Username string
	Password string
}

// IsSet reports whether both halves of the pair are present.
func (c Credentials) IsSet() bool {
	return c.Username != "" && c.Password != ""
}

// ArtifactConfig configures optional upload of failure screenshots to S3.
type ArtifactConfig struct {
	Bucket          string `env:"ARTIFACT_BUCKET"`
	Prefix          string `env:"ARTIFACT_PREFIX"`
	Endpoint        string `env:"AWS_ENDPOINT_URL_S3" validate:"omitempty,url"`
	Region          string `env:"AWS_REGION"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

// Enabled reports whether screenshots should be uploaded.
func (a ArtifactConfig) Enabled() bool {
	return a.Bucket != ""
}

// Config holds the Session Configuration for one run.
type Config struct {
	// Systems under test
	MoodleURL     string `env:"MOODLE_URL" validate:"required,url"`
	PressbooksURL string `env:"PRESSBOOKS_URL" validate:"required,url"`
	CourseID      int    `env:"MOODLE_COURSE_ID" validate:"gt=0"`

	credentials map[Role]Credentials

	// Browser
	Browser             Browser       `env:"SELENIUM_BROWSER" validate:"required"`
	Headless            bool          `env:"SELENIUM_HEADLESS"`
	Timeout             time.Duration `env:"SELENIUM_TIMEOUT" validate:"gt=0"`
	ImplicitWait        time.Duration `env:"SELENIUM_IMPLICIT_WAIT" validate:"gte=0"`
	ScreenshotDir       string        `env:"SCREENSHOT_DIR" validate:"required"`
	ScreenshotOnFailure bool          `env:"SCREENSHOT_ON_FAILURE"`

	// Settle waits for asynchronous server work the UI cannot observe
	H5PSaveWait        time.Duration `env:"H5P_SAVE_WAIT" validate:"gte=0"`
	GradeSyncWait      time.Duration `env:"GRADE_SYNC_WAIT" validate:"gte=0"`
	SessionPersistWait time.Duration `env:"SESSION_PERSIST_WAIT" validate:"gte=0"`

	// LTI
	KeysetURL        string `env:"LTI_KEYSET_URL" validate:"omitempty,url"`
	VerifySignatures bool   `env:"LTI_VERIFY_SIGNATURES"`

	Artifacts ArtifactConfig

	RunID string `env:"E2E_RUN_ID" validate:"required"`
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadConfig loads configuration from the process environment.
func LoadConfig() (*Config, error) {
	return loadFrom(os.Getenv)
}

// LoadConfigFrom loads configuration through a custom lookup, mainly for tests and tools.
func LoadConfigFrom(getenv func(string) string) (*Config, error) {
	return loadFrom(getenv)
}

func loadFrom(getenv func(string) string) (*Config, error) {
	e := envReader{getenv: getenv}
	cfg := &Config{}

	cfg.MoodleURL = urlutil.NormalizeBaseURL(e.str("MOODLE_URL", defaultMoodleURL))
	cfg.PressbooksURL = urlutil.NormalizeBaseURL(e.str("PRESSBOOKS_URL", defaultPressbooksURL))
	cfg.CourseID = e.integer("MOODLE_COURSE_ID", 2)

	cfg.credentials = make(map[Role]Credentials, len(Roles))
	for _, role := range Roles {
		cfg.credentials[role] = Credentials{
			Username: strings.TrimSpace(getenv(role.EnvPrefix() + "_USER")),
			Password: getenv(role.EnvPrefix() + "_PASSWORD"),
		}
	}

	cfg.Browser = Browser(strings.ToLower(e.str("SELENIUM_BROWSER", string(BrowserChrome))))
	cfg.Headless = e.boolean("SELENIUM_HEADLESS", true)
	cfg.Timeout = e.seconds("SELENIUM_TIMEOUT", 30*time.Second)
	cfg.ImplicitWait = e.seconds("SELENIUM_IMPLICIT_WAIT", 10*time.Second)
	cfg.ScreenshotDir = e.str("SCREENSHOT_DIR", "./screenshots")
	cfg.ScreenshotOnFailure = e.boolean("SCREENSHOT_ON_FAILURE", true)

	cfg.H5PSaveWait = e.seconds("H5P_SAVE_WAIT", 3*time.Second)
	cfg.GradeSyncWait = e.seconds("GRADE_SYNC_WAIT", 5*time.Second)
	cfg.SessionPersistWait = e.seconds("SESSION_PERSIST_WAIT", 10*time.Second)

	cfg.KeysetURL = e.str("LTI_KEYSET_URL", urlutil.BuildAbsolute(cfg.PressbooksURL, KeysetPath))
	cfg.VerifySignatures = e.boolean("LTI_VERIFY_SIGNATURES", false)

	cfg.Artifacts = ArtifactConfig{
		Bucket:          e.str("ARTIFACT_BUCKET", ""),
		Prefix:          e.str("ARTIFACT_PREFIX", "screenshots"),
		Endpoint:        e.str("AWS_ENDPOINT_URL_S3", ""),
		Region:          e.str("AWS_REGION", "us-east-1"),
		AccessKeyID:     e.str("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY"),
	}

	cfg.RunID = e.str("E2E_RUN_ID", "")
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("env"); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

// Validate checks field constraints. The browser choice is checked when a session
// starts, so an unsupported value fails the first test rather than the whole package.
func (c *Config) Validate() error {
	var msgs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			msgs = append(msgs, describeFieldError(fe))
		}
	}

	for _, role := range Roles {
		creds := c.credentials[role]
		if (creds.Username == "") != (creds.Password == "") {
			msgs = append(msgs, fmt.Sprintf("%s_USER and %s_PASSWORD must be set together", role.EnvPrefix(), role.EnvPrefix()))
		}
	}

	if len(msgs) > 0 {
		sort.Strings(msgs)
		return &ValidationError{Errors: msgs}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "url":
		return fmt.Sprintf("%s must be an absolute URL (got %q)", fe.Field(), fe.Value())
	case "gt":
		return fe.Field() + " must be positive"
	case "gte":
		return fe.Field() + " must not be negative"
	default:
		return fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag())
	}
}

// Credentials returns the configured pair for role; the zero value when unset.
func (c *Config) Credentials(role Role) Credentials {
	return c.credentials[role]
}

// WithCredentials returns a copy of c with role's credentials replaced.
func (c *Config) WithCredentials(role Role, creds Credentials) *Config {
	clone := *c
	clone.credentials = make(map[Role]Credentials, len(c.credentials)+1)
	for k, v := range c.credentials {
		clone.credentials[k] = v
	}
	clone.credentials[role] = creds
	return &clone
}

// BaseURL returns the base URL of an application.
func (c *Config) BaseURL(app Application) string {
	if app == Pressbooks {
		return c.PressbooksURL
	}
	return c.MoodleURL
}

// Summary returns the effective configuration as redacted key/value text.
func (c *Config) Summary() string {
	fields := map[string]string{
		"MOODLE_URL":             c.MoodleURL,
		"PRESSBOOKS_URL":         c.PressbooksURL,
		"MOODLE_COURSE_ID":       strconv.Itoa(c.CourseID),
		"SELENIUM_BROWSER":       string(c.Browser),
		"SELENIUM_HEADLESS":      strconv.FormatBool(c.Headless),
		"SELENIUM_TIMEOUT":       c.Timeout.String(),
		"SELENIUM_IMPLICIT_WAIT": c.ImplicitWait.String(),
		"SCREENSHOT_DIR":         c.ScreenshotDir,
		"SCREENSHOT_ON_FAILURE":  strconv.FormatBool(c.ScreenshotOnFailure),
		"LTI_KEYSET_URL":         c.KeysetURL,
		"LTI_VERIFY_SIGNATURES":  strconv.FormatBool(c.VerifySignatures),
		"ARTIFACT_BUCKET":        c.Artifacts.Bucket,
		"AWS_SECRET_ACCESS_KEY":  c.Artifacts.SecretAccessKey,
		"E2E_RUN_ID":             c.RunID,
	}
	for _, role := range Roles {
		creds := c.credentials[role]
		fields[role.EnvPrefix()+"_USER"] = creds.Username
		fields[role.EnvPrefix()+"_PASSWORD"] = creds.Password
	}
	return logutil.FormatFieldsForLog(fields)
}

// PrintSummary writes a human-readable summary of the configuration.
func (c *Config) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "lti-e2e configuration")
	for _, part := range strings.Split(c.Summary(), "; ") {
		fmt.Fprintf(w, "  %s\n", part)
	}
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

type envReader struct {
	getenv func(string) string
}

func (e envReader) str(key, defaultValue string) string {
	value := strings.TrimSpace(e.getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func (e envReader) integer(key string, defaultValue int) int {
	value := strings.TrimSpace(e.getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// boolean treats only "true" (any case) as true, matching the historical .env semantics.
func (e envReader) boolean(key string, defaultValue bool) bool {
	value := strings.TrimSpace(e.getenv(key))
	if value == "" {
		return defaultValue
	}
	return strings.EqualFold(value, "true")
}

// seconds accepts a bare integer number of seconds or a Go duration string.
func (e envReader) seconds(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(e.getenv(key))
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
