// Package lti holds the LTI-specific checks scenarios assert on: the launch invariant,
// console-log filters, page-source inspection and Deep Linking response tokens.
package lti

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kuitang/lti-e2e/internal/driver"
	"github.com/kuitang/lti-e2e/internal/errs"
)

const (
	// LaunchMarker is appended by the tool to every URL it redirects to after a launch.
	LaunchMarker = "lti_launch=1"

	// NoUserLoggedIn is the failure text of a lost tool session.
	NoUserLoggedIn = "no user logged in"

	// SessionMonitorInitialized is logged into the page by the tool's session monitor,
	// which must stay disabled for LTI launches.
	SessionMonitorInitialized = "[LTI Session Monitor] Initialized"
)

var chapterPath = regexp.MustCompile(`/chapter/([^/]+)`)

// CheckLaunch enforces the launch invariant: the browser is on the destination, the
// URL carries LaunchMarker, and no SEVERE console entry mentions NoUserLoggedIn.
func CheckLaunch(currentURL, destinationBase string, logs []driver.LogEntry) error {
	if !strings.Contains(currentURL, destinationBase) {
		return errs.New(errs.AssertionFailed, fmt.Sprintf("launch did not reach %s: at %s", destinationBase, currentURL))
	}
	if !strings.Contains(currentURL, LaunchMarker) {
		return errs.New(errs.AssertionFailed, fmt.Sprintf("launch URL %s lacks %s", currentURL, LaunchMarker))
	}
	if critical := CriticalErrors(logs, NoUserLoggedIn); len(critical) > 0 {
		return errs.New(errs.AssertionFailed, fmt.Sprintf("found %d %q console errors: %s", len(critical), NoUserLoggedIn, critical[0].Message))
	}
	return nil
}

// CriticalErrors returns the SEVERE entries whose message contains needle, ignoring case.
func CriticalErrors(logs []driver.LogEntry, needle string) []driver.LogEntry {
	needle = strings.ToLower(needle)
	var out []driver.LogEntry
	for _, e := range driver.Severe(logs) {
		if strings.Contains(strings.ToLower(e.Message), needle) {
			out = append(out, e)
		}
	}
	return out
}

// SessionMonitorRan reports whether the session monitor announced itself in the page.
func SessionMonitorRan(html string) bool {
	return strings.Contains(html, SessionMonitorInitialized)
}

// MentionsNoUserLoggedIn reports whether the page text shows a lost tool session.
func MentionsNoUserLoggedIn(html string) bool {
	return strings.Contains(strings.ToLower(html), NoUserLoggedIn)
}

// HasH5P reports whether the page source references an H5P iframe or container.
func HasH5P(html string) bool {
	return strings.Contains(html, "h5p-iframe") || strings.Contains(html, "h5p-container")
}

// CountH5P returns the number of embedded H5P activities in the page.
func CountH5P(html string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("parse page source: %w", err)
	}
	return doc.Find("iframe.h5p-iframe, .h5p-container").Length(), nil
}

// ChapterSlug extracts the chapter slug from a Pressbooks URL path.
func ChapterSlug(rawURL string) (string, bool) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	m := chapterPath.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}
