// Package drivertest provides an in-memory driver.Driver for unit tests.
//
// The fake holds each window's DOM as a goquery document. Tests script behavior with
// routes (URL → HTML), click handlers, and delayed changes that become visible on the
// first driver call after their due time.
package drivertest

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/kuitang/lti-e2e/internal/driver"
	"github.com/kuitang/lti-e2e/internal/errs"
)

const blankPage = "<html><head></head><body></body></html>"

// pngHeader is written by Screenshot so artifacts look like images to callers.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type window struct {
	url  string
	doc  *goquery.Document
	logs []driver.LogEntry
}

type delayed struct {
	at time.Time
	fn func(*Fake)
}

type clickHandler struct {
	selector string
	fn       func(*Fake)
}

// Fake is a scriptable driver.Driver. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	windows []*window
	current int
	frame   *goquery.Document

	routes   map[string]string
	frames   map[string]string
	handlers []clickHandler
	pending  []delayed

	clicked     []*html.Node
	navigations []string
	scripts     []string
	screenshots []string
	reloads     int
	quits       int

	// ExecuteFunc answers Execute calls; nil returns (nil, nil).
	ExecuteFunc func(script string, args []any) (any, error)

	// SwitchToWindowFunc, when set, runs before every window switch. A non-nil error
	// fails the switch and leaves the current window unchanged.
	SwitchToWindowFunc func(index int) error
}

var _ driver.Driver = (*Fake)(nil)

// New returns a fake with one blank window at about:blank.
func New() *Fake {
	f := &Fake{
		routes: make(map[string]string),
		frames: make(map[string]string),
	}
	f.windows = []*window{{url: "about:blank", doc: mustParse(blankPage)}}
	return f
}

func mustParse(source string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		panic(fmt.Sprintf("drivertest: parse html: %v", err))
	}
	return doc
}

// SetHTML replaces the current window's document.
func (f *Fake) SetHTML(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[f.current].doc = mustParse(source)
	f.frame = nil
}

// SetURL changes the current window's URL without touching the document.
func (f *Fake) SetURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[f.current].url = url
}

// Route serves source whenever url is navigated to or reloaded.
func (f *Fake) Route(url, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[url] = source
}

// Frame registers the document loaded when switching into an iframe matching selector.
// Iframes without a registered document fall back to their srcdoc attribute.
func (f *Fake) Frame(selector, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[selector] = source
}

// OnClick runs fn after every click on an element matching selector. Submitting a form
// counts as a click on the form element.
func (f *Fake) OnClick(selector string, fn func(*Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, clickHandler{selector: selector, fn: fn})
}

// After runs fn on the first driver call made at least d from now.
func (f *Fake) After(d time.Duration, fn func(*Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, delayed{at: time.Now().Add(d), fn: fn})
}

// ScheduleHTML replaces the current document after d.
func (f *Fake) ScheduleHTML(d time.Duration, source string) {
	f.After(d, func(f *Fake) { f.SetHTML(source) })
}

// ScheduleURL changes the current URL after d.
func (f *Fake) ScheduleURL(d time.Duration, url string) {
	f.After(d, func(f *Fake) { f.SetURL(url) })
}

// AddLog appends a console entry to the current window.
func (f *Fake) AddLog(level driver.Level, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.windows[f.current]
	w.logs = append(w.logs, driver.LogEntry{
		Level:     level,
		Message:   message,
		Source:    "console-api",
		Timestamp: time.Now(),
	})
}

// ClickCount returns how many clicks landed on elements matching selector.
func (f *Fake) ClickCount(selector string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, node := range f.clicked {
		if matches(node, selector) {
			n++
		}
	}
	return n
}

// Navigations returns every URL passed to Navigate, in order.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Scripts returns every script passed to Execute, in order.
func (f *Fake) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

// Screenshots returns every path written by Screenshot.
func (f *Fake) Screenshots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.screenshots...)
}

// Reloads returns the number of Reload calls.
func (f *Fake) Reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

// Quits returns the number of Quit calls.
func (f *Fake) Quits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quits
}

// Value returns the value attribute of the first element matching selector.
func (f *Fake) Value(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, _ := f.doc().Find(selector).First().Attr("value")
	return v
}

// tick runs due delayed changes outside the lock so they can call exported setters.
func (f *Fake) tick() {
	f.mu.Lock()
	now := time.Now()
	var due []func(*Fake)
	kept := f.pending[:0]
	for _, p := range f.pending {
		if !now.Before(p.at) {
			due = append(due, p.fn)
		} else {
			kept = append(kept, p)
		}
	}
	f.pending = kept
	f.mu.Unlock()

	for _, fn := range due {
		fn(f)
	}
}

// doc returns the document queries run against. Callers hold f.mu.
func (f *Fake) doc() *goquery.Document {
	if f.frame != nil {
		return f.frame
	}
	return f.windows[f.current].doc
}

func (f *Fake) Navigate(url string) error {
	f.tick()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	w := f.windows[f.current]
	w.url = url
	if source, ok := f.routes[url]; ok {
		w.doc = mustParse(source)
	}
	f.frame = nil
	return nil
}

func (f *Fake) Reload() error {
	f.tick()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	w := f.windows[f.current]
	if source, ok := f.routes[w.url]; ok {
		w.doc = mustParse(source)
	}
	f.frame = nil
	return nil
}

func (f *Fake) CurrentURL() string {
	f.tick()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windows[f.current].url
}

func (f *Fake) FindAll(selector string) ([]driver.Element, error) {
	f.tick()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wrap(f.doc().Find(selector)), nil
}

func (f *Fake) wrap(sel *goquery.Selection) []driver.Element {
	out := make([]driver.Element, 0, sel.Length())
	for _, node := range sel.Nodes {
		out = append(out, &element{f: f, node: node})
	}
	return out
}

func (f *Fake) Execute(script string, args ...any) (any, error) {
	f.tick()
	f.mu.Lock()
	f.scripts = append(f.scripts, script)
	fn := f.ExecuteFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(script, args)
}

func (f *Fake) PageSource() (string, error) {
	f.tick()
	f.mu.Lock()
	defer f.mu.Unlock()
	return goquery.OuterHtml(f.doc().Selection)
}

func (f *Fake) Screenshot(path string) error {
	f.tick()
	if err := os.WriteFile(path, pngHeader, 0o644); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, path)
	return nil
}

func (f *Fake) Logs() []driver.LogEntry {
	f.tick()
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.LogEntry(nil), f.windows[f.current].logs...)
}

func (f *Fake) SwitchToFrame(frame driver.Element) error {
	f.tick()
	el, ok := frame.(*element)
	if !ok {
		return fmt.Errorf("switch to frame: element %T does not belong to this fake", frame)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if el.node.Data != "iframe" {
		return errs.New(errs.NotFound, "switch to frame: element is not an iframe")
	}
	for selector, source := range f.frames {
		if matches(el.node, selector) {
			f.frame = mustParse(source)
			return nil
		}
	}
	if srcdoc, ok := attr(el.node, "srcdoc"); ok {
		f.frame = mustParse(srcdoc)
		return nil
	}
	return errs.New(errs.NotFound, "switch to frame: no document registered for iframe")
}

func (f *Fake) SwitchToDefault() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame = nil
	return nil
}

func (f *Fake) OpenWindow() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, &window{url: "about:blank", doc: mustParse(blankPage)})
	return nil
}

func (f *Fake) WindowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

func (f *Fake) SwitchToWindow(index int) error {
	f.mu.Lock()
	hook := f.SwitchToWindowFunc
	f.mu.Unlock()
	if hook != nil {
		if err := hook(index); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.windows) {
		return errs.New(errs.NotFound, fmt.Sprintf("switch to window %d: only %d open", index, len(f.windows)))
	}
	f.current = index
	f.frame = nil
	return nil
}

func (f *Fake) CloseWindow() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.windows) == 1 {
		return errs.New(errs.NotFound, "close window: refusing to close the last window, use Quit")
	}
	f.windows = append(f.windows[:f.current], f.windows[f.current+1:]...)
	f.current = 0
	f.frame = nil
	return nil
}

func (f *Fake) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	return nil
}

// click records the click, applies checkbox toggling and runs matching handlers.
func (f *Fake) click(node *html.Node) {
	f.mu.Lock()
	f.clicked = append(f.clicked, node)
	if node.Data == "input" {
		if kind, _ := attr(node, "type"); kind == "checkbox" {
			toggleAttr(node, "checked")
		}
	}
	var fns []func(*Fake)
	for _, h := range f.handlers {
		if matches(node, h.selector) {
			fns = append(fns, h.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(f)
	}
}

type element struct {
	f    *Fake
	node *html.Node
}

func (e *element) sel() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.node).Selection
}

func (e *element) Text() (string, error) {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	if !displayed(e.node) {
		return "", nil
	}
	return strings.TrimSpace(e.sel().Text()), nil
}

func (e *element) Attribute(name string) (string, error) {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	v, _ := attr(e.node, name)
	return v, nil
}

func (e *element) Displayed() (bool, error) {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	return displayed(e.node), nil
}

func (e *element) Enabled() (bool, error) {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	_, disabled := attr(e.node, "disabled")
	return !disabled, nil
}

func (e *element) Selected() (bool, error) {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	_, checked := attr(e.node, "checked")
	_, selected := attr(e.node, "selected")
	return checked || selected, nil
}

func (e *element) Click() error {
	e.f.tick()
	e.f.click(e.node)
	return nil
}

func (e *element) Clear() error {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	setAttr(e.node, "value", "")
	return nil
}

func (e *element) SendKeys(text string) error {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	v, _ := attr(e.node, "value")
	setAttr(e.node, "value", v+text)
	return nil
}

func (e *element) Submit() error {
	e.f.tick()
	e.f.mu.Lock()
	form := e.node
	for form != nil && !(form.Type == html.ElementNode && form.Data == "form") {
		form = form.Parent
	}
	e.f.mu.Unlock()
	if form == nil {
		return errors.New("submit: element is not inside a form")
	}
	e.f.click(form)
	return nil
}

func (e *element) FindAll(selector string) ([]driver.Element, error) {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	return e.f.wrap(e.sel().Find(selector)), nil
}

func matches(node *html.Node, selector string) bool {
	return goquery.NewDocumentFromNode(node).Is(selector)
}

func attr(node *html.Node, name string) (string, bool) {
	for _, a := range node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(node *html.Node, name, value string) {
	for i := range node.Attr {
		if node.Attr[i].Key == name {
			node.Attr[i].Val = value
			return
		}
	}
	node.Attr = append(node.Attr, html.Attribute{Key: name, Val: value})
}

func toggleAttr(node *html.Node, name string) {
	for i, a := range node.Attr {
		if a.Key == name {
			node.Attr = append(node.Attr[:i], node.Attr[i+1:]...)
			return
		}
	}
	node.Attr = append(node.Attr, html.Attribute{Key: name})
}

// displayed approximates rendering: hidden attributes, inline display/visibility
// styles and hidden inputs hide an element and everything inside it.
func displayed(node *html.Node) bool {
	for n := node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if _, hidden := attr(n, "hidden"); hidden {
			return false
		}
		if kind, _ := attr(n, "type"); n.Data == "input" && kind == "hidden" {
			return false
		}
		style, _ := attr(n, "style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}
