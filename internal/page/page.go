// Package page is the base for all page objects: locators, bounded waits and the
// small set of interactions page objects are built from.
//
// Every wait polls the driver's immediate queries at PollInterval until the condition
// holds or Timeout elapses. A wait never reports a timeout before its deadline and
// always checks once more at the deadline.
package page

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/lti-e2e/internal/driver"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/logutil"
	"github.com/kuitang/lti-e2e/internal/obs"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 250 * time.Millisecond

	sourcePreviewChars = 500
)

// By is a locator strategy.
type By string

const (
	ByID        By = "id"
	ByCSS       By = "css selector"
	ByClassName By = "class name"
	ByTagName   By = "tag name"
)

// Locator finds zero or more elements on a page.
type Locator struct {
	By    By
	Value string
}

func ID(id string) Locator          { return Locator{By: ByID, Value: id} }
func CSS(selector string) Locator   { return Locator{By: ByCSS, Value: selector} }
func ClassName(name string) Locator { return Locator{By: ByClassName, Value: name} }
func TagName(name string) Locator   { return Locator{By: ByTagName, Value: name} }

// Selector renders the locator as a CSS selector.
func (l Locator) Selector() string {
	switch l.By {
	case ByID:
		return fmt.Sprintf("[id=%q]", l.Value)
	case ByClassName:
		return "." + l.Value
	default:
		return l.Value
	}
}

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.By, l.Value)
}

// Base carries the driver and wait settings shared by every page object.
type Base struct {
	Driver       driver.Driver
	Timeout      time.Duration
	PollInterval time.Duration
}

// NewBase returns a Base bound to d. A non-positive timeout selects DefaultTimeout.
func NewBase(d driver.Driver, timeout time.Duration) *Base {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Base{Driver: d, Timeout: timeout, PollInterval: DefaultPollInterval}
}

func (b *Base) pollInterval() time.Duration {
	if b.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return b.PollInterval
}

// poll runs check until it reports true or timeout elapses.
func (b *Base) poll(timeout time.Duration, what string, check func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(b.pollInterval()), 1)
	var lastErr error
	for {
		if err := limiter.Wait(ctx); err != nil {
			// The next tick would land past the deadline: sit out the remainder,
			// then take the final look.
			<-ctx.Done()
			ok, err := check()
			if ok {
				return nil
			}
			if err != nil {
				lastErr = err
			}
			return b.timeoutError(timeout, what, lastErr)
		}
		ok, err := check()
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
	}
}

func (b *Base) timeoutError(timeout time.Duration, what string, cause error) error {
	source, _ := b.Driver.PageSource()
	obs.Pkg("page").Warn("wait_timeout",
		"waiting_for", what,
		"timeout", timeout.String(),
		"url", b.Driver.CurrentURL(),
		"page_source", logutil.TruncateForLog(source, sourcePreviewChars),
	)
	msg := fmt.Sprintf("timed out after %s waiting for %s", timeout, what)
	if cause != nil {
		return errs.Wrap(errs.Timeout, msg, cause)
	}
	return errs.New(errs.Timeout, msg)
}

// WaitUntil polls cond for the page timeout.
func (b *Base) WaitUntil(what string, cond func() (bool, error)) error {
	return b.poll(b.Timeout, what, cond)
}

// FindElement waits for the locator to match and returns the first match.
func (b *Base) FindElement(loc Locator) (driver.Element, error) {
	els, err := b.FindElements(loc)
	if err != nil {
		return nil, err
	}
	return els[0], nil
}

// FindElements waits for at least one match and returns all matches at that moment.
func (b *Base) FindElements(loc Locator) ([]driver.Element, error) {
	var found []driver.Element
	err := b.poll(b.Timeout, "presence of "+loc.String(), func() (bool, error) {
		els, err := b.Driver.FindAll(loc.Selector())
		if err != nil {
			return false, err
		}
		found = els
		return len(els) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Query returns the current matches without waiting.
func (b *Base) Query(loc Locator) ([]driver.Element, error) {
	return b.Driver.FindAll(loc.Selector())
}

// Click waits until the first match is displayed and enabled, then clicks it.
func (b *Base) Click(loc Locator) error {
	var target driver.Element
	err := b.poll(b.Timeout, loc.String()+" to be clickable", func() (bool, error) {
		els, err := b.Driver.FindAll(loc.Selector())
		if err != nil || len(els) == 0 {
			return false, err
		}
		ok, err := clickable(els[0])
		if ok {
			target = els[0]
		}
		return ok, err
	})
	if err != nil {
		return err
	}
	if err := target.Click(); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

func clickable(el driver.Element) (bool, error) {
	shown, err := el.Displayed()
	if err != nil || !shown {
		return false, err
	}
	return el.Enabled()
}

// InputText clears the first match and types text into it.
func (b *Base) InputText(loc Locator, text string) error {
	el, err := b.FindElement(loc)
	if err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return fmt.Errorf("clear %s: %w", loc, err)
	}
	if err := el.SendKeys(text); err != nil {
		return fmt.Errorf("type into %s: %w", loc, err)
	}
	return nil
}

// GetText returns the rendered text of the first match.
func (b *Base) GetText(loc Locator) (string, error) {
	el, err := b.FindElement(loc)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("read text of %s: %w", loc, err)
	}
	return text, nil
}

// IsElementVisible reports whether the first match becomes displayed within the page
// timeout, or within timeout[0] when it is positive. It never returns an error.
func (b *Base) IsElementVisible(loc Locator, timeout ...time.Duration) bool {
	window := b.Timeout
	if len(timeout) > 0 && timeout[0] > 0 {
		window = timeout[0]
	}
	err := b.poll(window, "visibility of "+loc.String(), func() (bool, error) {
		els, err := b.Driver.FindAll(loc.Selector())
		if err != nil || len(els) == 0 {
			return false, err
		}
		return els[0].Displayed()
	})
	return err == nil
}

// WaitForURLContains waits until the current URL contains fragment.
func (b *Base) WaitForURLContains(fragment string) error {
	return b.poll(b.Timeout, fmt.Sprintf("URL to contain %q", fragment), func() (bool, error) {
		return strings.Contains(b.Driver.CurrentURL(), fragment), nil
	})
}

func (b *Base) CurrentURL() string {
	return b.Driver.CurrentURL()
}

func (b *Base) NavigateTo(url string) error {
	obs.Pkg("page").Debug("navigate", "url", url)
	return b.Driver.Navigate(url)
}

func (b *Base) Refresh() error {
	return b.Driver.Reload()
}

// TakeScreenshot writes a PNG of the current window to path.
func (b *Base) TakeScreenshot(path string) error {
	return b.Driver.Screenshot(path)
}

// ExecuteScript runs a function body in the page and returns its result.
func (b *Base) ExecuteScript(script string, args ...any) (any, error) {
	return b.Driver.Execute(script, args...)
}

func (b *Base) PageSource() (string, error) {
	return b.Driver.PageSource()
}

// ConsoleLogs returns the current window's console entries without consuming them.
func (b *Base) ConsoleLogs() []driver.LogEntry {
	return b.Driver.Logs()
}

// SevereErrors returns the SEVERE console entries.
func (b *Base) SevereErrors() []driver.LogEntry {
	return driver.Severe(b.Driver.Logs())
}

// ErrIndexOutOfRange is returned by page objects addressing the nth card or row.
var ErrIndexOutOfRange = errors.New("index out of range")

// Nth returns els[i] or a NotFound error naming what was addressed.
func Nth(els []driver.Element, i int, what string) (driver.Element, error) {
	if i < 0 || i >= len(els) {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("%s %d of %d", what, i, len(els)), ErrIndexOutOfRange)
	}
	return els[i], nil
}
