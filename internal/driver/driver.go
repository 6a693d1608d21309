// Package driver defines the narrow browser-automation surface the suite depends on.
//
// Page objects never talk to playwright directly. They go through Driver and Element,
// whose queries are immediate snapshots; all waiting lives in the page package. This
// keeps the wait semantics identical across engines and lets unit tests run against
// drivertest.Fake without a browser.
package driver

import (
	"time"
)

// Level is the severity of a console log entry.
type Level string

const (
	LevelSevere  Level = "SEVERE"
	LevelWarning Level = "WARNING"
	LevelInfo    Level = "INFO"
)

// LogEntry is one structured browser console message.
type LogEntry struct {
	Level     Level
	Message   string
	Source    string
	Timestamp time.Time
}

// Element is a handle to one DOM element captured by a query.
type Element interface {
	Text() (string, error)
	Attribute(name string) (string, error)
	Displayed() (bool, error)
	Enabled() (bool, error)
	Selected() (bool, error)
	Click() error
	Clear() error
	SendKeys(text string) error
	// Submit submits the form enclosing the element.
	Submit() error
	FindAll(selector string) ([]Element, error)
}

// Driver is one live browser window set owned by a single test.
type Driver interface {
	Navigate(url string) error
	Reload() error
	CurrentURL() string
	// FindAll returns the elements matching a CSS selector right now, possibly none.
	FindAll(selector string) ([]Element, error)
	// Execute runs a function body in the page, e.g. "return document.title".
	Execute(script string, args ...any) (any, error)
	PageSource() (string, error)
	Screenshot(path string) error
	// Logs returns the console buffer of the current window without consuming it.
	Logs() []LogEntry

	SwitchToFrame(frame Element) error
	SwitchToDefault() error

	OpenWindow() error
	WindowCount() int
	SwitchToWindow(index int) error
	// CloseWindow closes the current window and makes window 0 current.
	CloseWindow() error

	Quit() error
}

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  int
	Height int
}

// LaunchOptions is the fully resolved browser configuration for one session.
type LaunchOptions struct {
	// Engine is "chromium" or "firefox".
	Engine            string
	Headless          bool
	Args              []string
	Viewport          Size
	IgnoreHTTPSErrors bool
	ImplicitWait      time.Duration
	PageLoadTimeout   time.Duration
}

// Launcher starts a browser and returns its driver.
type Launcher interface {
	Launch(opts LaunchOptions) (Driver, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(opts LaunchOptions) (Driver, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(opts LaunchOptions) (Driver, error) {
	return f(opts)
}

// Severe filters entries to the SEVERE level.
func Severe(entries []LogEntry) []LogEntry {
	var out []LogEntry
	for _, e := range entries {
		if e.Level == LevelSevere {
			out = append(out, e)
		}
	}
	return out
}

// LevelForConsoleType maps a console API message type to a log level.
func LevelForConsoleType(kind string) Level {
	switch kind {
	case "error", "assert":
		return LevelSevere
	case "warning", "warn":
		return LevelWarning
	default:
		return LevelInfo
	}
}
