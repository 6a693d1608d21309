package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
)

const (
	EngineChromium = "chromium"
	EngineFirefox  = "firefox"
)

// PlaywrightLauncher launches Chromium or Firefox through playwright-go.
type PlaywrightLauncher struct {
	RunOptions *playwright.RunOptions
}

// Launch starts the playwright driver, the browser, one context and one page.
func (l PlaywrightLauncher) Launch(opts LaunchOptions) (Driver, error) {
	var runOpts []*playwright.RunOptions
	if l.RunOptions != nil {
		runOpts = append(runOpts, l.RunOptions)
	}
	pw, err := playwright.Run(runOpts...)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "playwright not available", err)
	}

	var browserType playwright.BrowserType
	switch opts.Engine {
	case EngineChromium:
		browserType = pw.Chromium
	case EngineFirefox:
		browserType = pw.Firefox
	default:
		_ = pw.Stop()
		return nil, errs.New(errs.InvalidConfig, fmt.Sprintf("unsupported browser engine: %q", opts.Engine))
	}

	browser, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "could not launch "+opts.Engine, err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
		IgnoreHttpsErrors: playwright.Bool(opts.IgnoreHTTPSErrors),
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	bctx.SetDefaultTimeout(float64(opts.ImplicitWait.Milliseconds()))
	bctx.SetDefaultNavigationTimeout(float64(opts.PageLoadTimeout.Milliseconds()))

	d := &Playwright{
		pw:      pw,
		browser: browser,
		bctx:    bctx,
		logs:    make(map[playwright.Page][]LogEntry),
	}
	if err := d.OpenWindow(); err != nil {
		_ = d.Quit()
		return nil, err
	}

	obs.Pkg("driver").Debug("browser_launched", "engine", opts.Engine, "headless", opts.Headless, "args", opts.Args)
	return d, nil
}

// Playwright implements Driver on top of a playwright browser context.
type Playwright struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext

	mu      sync.Mutex
	pages   []playwright.Page
	current int
	frame   playwright.Frame
	logs    map[playwright.Page][]LogEntry
}

var _ Driver = (*Playwright)(nil)

func (d *Playwright) page() playwright.Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages[d.current]
}

func (d *Playwright) record(p playwright.Page, entry LogEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logs[p] = append(d.logs[p], entry)
}

func (d *Playwright) Navigate(url string) error {
	d.SwitchToDefault()
	if _, err := d.page().Goto(url); err != nil {
		return translate(err, "navigate to "+url)
	}
	return nil
}

func (d *Playwright) Reload() error {
	d.SwitchToDefault()
	if _, err := d.page().Reload(); err != nil {
		return translate(err, "reload")
	}
	return nil
}

func (d *Playwright) CurrentURL() string {
	return d.page().URL()
}

func (d *Playwright) currentFrame() playwright.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

func (d *Playwright) FindAll(selector string) ([]Element, error) {
	var (
		handles []playwright.ElementHandle
		err     error
	)
	if f := d.currentFrame(); f != nil {
		handles, err = f.QuerySelectorAll(selector)
	} else {
		handles, err = d.page().QuerySelectorAll(selector)
	}
	if err != nil {
		return nil, translate(err, "query "+selector)
	}
	return wrapHandles(handles), nil
}

func (d *Playwright) Execute(script string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	expr := "(args) => (function() { " + script + " }).apply(null, args)"
	var (
		result any
		err    error
	)
	if f := d.currentFrame(); f != nil {
		result, err = f.Evaluate(expr, args)
	} else {
		result, err = d.page().Evaluate(expr, args)
	}
	if err != nil {
		return nil, translate(err, "execute script")
	}
	return result, nil
}

func (d *Playwright) PageSource() (string, error) {
	var (
		html string
		err  error
	)
	if f := d.currentFrame(); f != nil {
		html, err = f.Content()
	} else {
		html, err = d.page().Content()
	}
	if err != nil {
		return "", translate(err, "read page source")
	}
	return html, nil
}

func (d *Playwright) Screenshot(path string) error {
	_, err := d.page().Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return translate(err, "screenshot")
	}
	return nil
}

func (d *Playwright) Logs() []LogEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.logs[d.pages[d.current]]
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out
}

func (d *Playwright) SwitchToFrame(frame Element) error {
	el, ok := frame.(*pwElement)
	if !ok {
		return fmt.Errorf("switch to frame: element %T does not belong to this driver", frame)
	}
	f, err := el.handle.ContentFrame()
	if err != nil {
		return translate(err, "switch to frame")
	}
	if f == nil {
		return errs.New(errs.NotFound, "switch to frame: element is not an iframe")
	}
	d.mu.Lock()
	d.frame = f
	d.mu.Unlock()
	return nil
}

func (d *Playwright) SwitchToDefault() error {
	d.mu.Lock()
	d.frame = nil
	d.mu.Unlock()
	return nil
}

func (d *Playwright) OpenWindow() error {
	p, err := d.bctx.NewPage()
	if err != nil {
		return translate(err, "open window")
	}
	p.OnConsole(func(msg playwright.ConsoleMessage) {
		d.record(p, LogEntry{
			Level:     LevelForConsoleType(msg.Type()),
			Message:   msg.Text(),
			Source:    "console-api",
			Timestamp: time.Now(),
		})
	})
	p.OnPageError(func(err error) {
		d.record(p, LogEntry{
			Level:     LevelSevere,
			Message:   err.Error(),
			Source:    "javascript",
			Timestamp: time.Now(),
		})
	})

	d.mu.Lock()
	d.pages = append(d.pages, p)
	d.mu.Unlock()
	return nil
}

func (d *Playwright) WindowCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pages)
}

func (d *Playwright) SwitchToWindow(index int) error {
	d.mu.Lock()
	if index < 0 || index >= len(d.pages) {
		n := len(d.pages)
		d.mu.Unlock()
		return errs.New(errs.NotFound, fmt.Sprintf("switch to window %d: only %d open", index, n))
	}
	d.current = index
	d.frame = nil
	p := d.pages[index]
	d.mu.Unlock()

	if err := p.BringToFront(); err != nil {
		return translate(err, "bring window to front")
	}
	return nil
}

func (d *Playwright) CloseWindow() error {
	d.mu.Lock()
	if len(d.pages) == 1 {
		d.mu.Unlock()
		return errs.New(errs.NotFound, "close window: refusing to close the last window, use Quit")
	}
	p := d.pages[d.current]
	d.pages = append(d.pages[:d.current], d.pages[d.current+1:]...)
	delete(d.logs, p)
	d.current = 0
	d.frame = nil
	d.mu.Unlock()

	if err := p.Close(); err != nil {
		return translate(err, "close window")
	}
	return nil
}

func (d *Playwright) Quit() error {
	var errList []error
	if d.bctx != nil {
		if err := d.bctx.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close context: %w", err))
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close browser: %w", err))
		}
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			errList = append(errList, fmt.Errorf("stop playwright: %w", err))
		}
	}
	return errors.Join(errList...)
}

type pwElement struct {
	handle playwright.ElementHandle
}

func wrapHandles(handles []playwright.ElementHandle) []Element {
	out := make([]Element, 0, len(handles))
	for _, h := range handles {
		out = append(out, &pwElement{handle: h})
	}
	return out
}

func (e *pwElement) Text() (string, error) {
	text, err := e.handle.InnerText()
	if err != nil {
		return "", translate(err, "read text")
	}
	return text, nil
}

func (e *pwElement) Attribute(name string) (string, error) {
	value, err := e.handle.GetAttribute(name)
	if err != nil {
		return "", translate(err, "read attribute "+name)
	}
	return value, nil
}

func (e *pwElement) Displayed() (bool, error) {
	visible, err := e.handle.IsVisible()
	if err != nil {
		return false, translate(err, "check visibility")
	}
	return visible, nil
}

func (e *pwElement) Enabled() (bool, error) {
	enabled, err := e.handle.IsEnabled()
	if err != nil {
		return false, translate(err, "check enabled")
	}
	return enabled, nil
}

// Selected mirrors WebDriver semantics: false for elements that cannot be checked.
func (e *pwElement) Selected() (bool, error) {
	v, err := e.handle.Evaluate("e => !!(e.checked || e.selected)")
	if err != nil {
		return false, translate(err, "check selected")
	}
	selected, _ := v.(bool)
	return selected, nil
}

func (e *pwElement) Click() error {
	if err := e.handle.Click(); err != nil {
		return translate(err, "click")
	}
	return nil
}

func (e *pwElement) Clear() error {
	if err := e.handle.Fill(""); err != nil {
		return translate(err, "clear")
	}
	return nil
}

func (e *pwElement) SendKeys(text string) error {
	if err := e.handle.Type(text); err != nil {
		return translate(err, "type")
	}
	return nil
}

func (e *pwElement) Submit() error {
	_, err := e.handle.Evaluate(`e => {
		const form = e.form || e.closest('form');
		if (!form) { throw new Error('element is not inside a form'); }
		form.requestSubmit ? form.requestSubmit() : form.submit();
	}`)
	if err != nil {
		return translate(err, "submit")
	}
	return nil
}

func (e *pwElement) FindAll(selector string) ([]Element, error) {
	handles, err := e.handle.QuerySelectorAll(selector)
	if err != nil {
		return nil, translate(err, "query "+selector)
	}
	return wrapHandles(handles), nil
}

// translate maps playwright timeouts onto the suite's timeout code.
func translate(err error, what string) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return errs.Wrap(errs.Timeout, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
