// Command lti-e2e prepares and checks the environment the end-to-end scenarios run in.
//
// Usage:
//
//	lti-e2e install [--all]   install the playwright driver and browser
//	lti-e2e config            print the effective configuration, redacted
//	lti-e2e doctor            probe Moodle, Pressbooks and the tool key set
//
// The scenarios themselves run with go test ./tests/e2e/...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-jose/go-jose/v3"
	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/lti-e2e/internal/config"
	"github.com/kuitang/lti-e2e/internal/driver"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
	"github.com/kuitang/lti-e2e/internal/page/moodle"
	"github.com/kuitang/lti-e2e/internal/page/pressbooks"
	"github.com/kuitang/lti-e2e/internal/urlutil"
)

const probeTimeout = 10 * time.Second

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	infoColor = color.New(color.Faint)
)

// installer is playwright.Install, replaced in tests.
type installer func(...*playwright.RunOptions) error

type app struct {
	stdout  io.Writer
	stderr  io.Writer
	getenv  func(string) string
	install installer
	client  *http.Client
}

func main() {
	obs.Init()
	a := &app{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		getenv:  os.Getenv,
		install: playwright.Install,
		client:  obs.NewHTTPClient("doctor", probeTimeout),
	}
	os.Exit(a.run(context.Background(), os.Args[1:]))
}

func (a *app) usage() {
	fmt.Fprintln(a.stderr, "usage: lti-e2e <install|config|doctor> [flags]")
}

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		a.usage()
		return 2
	}
	var err error
	switch args[0] {
	case "install":
		err = a.runInstall(args[1:])
	case "config":
		err = a.runConfig()
	case "doctor":
		err = a.runDoctor(ctx)
	case "help", "-h", "--help":
		a.usage()
		return 0
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n", args[0])
		a.usage()
		return 2
	}
	if err != nil {
		a.printError(err)
		return errs.ExitCode(errs.CodeOf(err))
	}
	return 0
}

// printError writes the coded message as the headline and the cause chain below it.
func (a *app) printError(err error) {
	msg := errs.MessageOf(err)
	failColor.Fprintf(a.stderr, "error: %s\n", msg)
	if full := err.Error(); full != msg {
		infoColor.Fprintf(a.stderr, "  caused by: %s\n", strings.TrimPrefix(full, msg+": "))
	}
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigFrom(a.getenv)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidConfig, "invalid configuration", err)
	}
	return cfg, nil
}

// browsersFor maps a configured browser to the playwright browser to install.
func browsersFor(b config.Browser, all bool) ([]string, error) {
	if all {
		return []string{driver.EngineChromium, driver.EngineFirefox}, nil
	}
	switch b {
	case config.BrowserChrome:
		return []string{driver.EngineChromium}, nil
	case config.BrowserFirefox:
		return []string{driver.EngineFirefox}, nil
	default:
		return nil, errs.New(errs.InvalidConfig, fmt.Sprintf("unsupported browser: %q", b))
	}
}

func (a *app) runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	all := fs.Bool("all", false, "install every supported browser")
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.InvalidConfig, "parse install flags", err)
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	browsers, err := browsersFor(cfg.Browser, *all)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "installing playwright driver and %v\n", browsers)
	if err := a.install(&playwright.RunOptions{Browsers: browsers, Verbose: true}); err != nil {
		return errs.Wrap(errs.Unavailable, "install playwright", err)
	}
	okColor.Fprintln(a.stdout, "installed")
	return nil
}

func (a *app) runConfig() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	cfg.PrintSummary(a.stdout)
	return nil
}

// probe is one doctor check.
type probe struct {
	name  string
	url   string
	check func(*http.Response) error
}

func reachable(resp *http.Response) error {
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func keySet(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}
	if len(jwks.Keys) == 0 {
		return errors.New("key set is empty")
	}
	return nil
}

func (a *app) runDoctor(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	probes := []probe{
		{"moodle login", urlutil.BuildAbsolute(cfg.MoodleURL, moodle.LoginPath), reachable},
		{"pressbooks login", urlutil.BuildAbsolute(cfg.PressbooksURL, pressbooks.LoginPath), reachable},
		{"tool key set", cfg.KeysetURL, keySet},
	}

	failed := 0
	for _, p := range probes {
		if err := a.probe(ctx, p); err != nil {
			failed++
			failColor.Fprintf(a.stdout, "FAIL  ")
			fmt.Fprintf(a.stdout, "%-17s %s: %v\n", p.name, p.url, err)
			continue
		}
		okColor.Fprintf(a.stdout, "ok    ")
		fmt.Fprintf(a.stdout, "%-17s %s\n", p.name, p.url)
	}

	for _, role := range config.Roles {
		if !cfg.Credentials(role).IsSet() {
			infoColor.Fprintf(a.stdout, "skip  %-17s credentials not set; scenarios needing it will skip\n", role)
		}
	}

	if failed > 0 {
		return errs.New(errs.Unavailable, fmt.Sprintf("%d of %d probes failed", failed, len(probes)))
	}
	return nil
}

func (a *app) probe(ctx context.Context, p probe) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return p.check(resp)
}
