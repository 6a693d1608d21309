// Package moodle holds page objects for the Moodle LMS.
package moodle

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kuitang/lti-e2e/internal/obs"
	"github.com/kuitang/lti-e2e/internal/page"
	"github.com/kuitang/lti-e2e/internal/urlutil"
)

const (
	LoginPath     = "/login/index.php"
	CoursePath    = "/course/view.php"
	GradebookPath = "/grade/report/user/index.php"
)

var (
	usernameField = page.ID("username")
	passwordField = page.ID("password")
	loginButton   = page.ID("loginbtn")

	ltiActivityLink   = page.CSS("a[href*='mod/lti/view.php']")
	editModeToggle    = page.CSS("input[name='setmode']")
	addActivityButton = page.CSS("a[data-action='open-chooser']")
	externalToolItem  = page.CSS("a[data-internal='lti']")
	selectContentBtn  = page.ID("id_selectcontent")

	gradebookTable = page.ClassName("generaltable")
	gradeItems     = page.CSS(".gradeitemheader")
	gradeCells     = page.CSS(".grade")
)

// LoginPage is /login/index.php.
type LoginPage struct {
	*page.Base
	baseURL string
}

func NewLoginPage(b *page.Base, baseURL string) *LoginPage {
	return &LoginPage{Base: b, baseURL: baseURL}
}

// Open navigates to the login form and waits for it.
func (p *LoginPage) Open() error {
	if err := p.NavigateTo(urlutil.BuildAbsolute(p.baseURL, LoginPath)); err != nil {
		return err
	}
	_, err := p.FindElement(usernameField)
	return err
}

// Login fills the form and submits it. It does not wait for the redirect.
func (p *LoginPage) Login(username, password string) error {
	if err := p.InputText(usernameField, username); err != nil {
		return err
	}
	if err := p.InputText(passwordField, password); err != nil {
		return err
	}
	return p.Click(loginButton)
}

// CoursePage is /course/view.php for one course.
type CoursePage struct {
	*page.Base
	baseURL string
}

func NewCoursePage(b *page.Base, baseURL string) *CoursePage {
	return &CoursePage{Base: b, baseURL: baseURL}
}

// URL returns the course view URL.
func (p *CoursePage) URL(courseID int) string {
	return urlutil.WithQuery(p.baseURL, CoursePath, url.Values{"id": {strconv.Itoa(courseID)}})
}

func (p *CoursePage) Open(courseID int) error {
	return p.NavigateTo(p.URL(courseID))
}

// ClickLTIActivity clicks the first external tool activity, starting an LTI launch.
func (p *CoursePage) ClickLTIActivity() error {
	return p.Click(ltiActivityLink)
}

// LTIActivityName returns the link text of the first external tool activity.
func (p *CoursePage) LTIActivityName() (string, error) {
	return p.GetText(ltiActivityLink)
}

// EnableEditing turns edit mode on when it is off. The toggle's value is "1" while
// editing is off. It reports whether a click was made.
func (p *CoursePage) EnableEditing() (bool, error) {
	toggle, err := p.FindElement(editModeToggle)
	if err != nil {
		return false, err
	}
	value, err := toggle.Attribute("value")
	if err != nil {
		return false, fmt.Errorf("read edit mode: %w", err)
	}
	if value != "1" {
		return false, nil
	}
	if err := p.Click(editModeToggle); err != nil {
		return false, err
	}
	obs.Pkg("moodle").Debug("editing_enabled", "url", p.CurrentURL())
	return true, nil
}

// AddActivity opens the activity chooser.
func (p *CoursePage) AddActivity() error {
	return p.Click(addActivityButton)
}

// ChooseExternalTool picks "External tool" in the open activity chooser.
func (p *CoursePage) ChooseExternalTool() error {
	return p.Click(externalToolItem)
}

// SelectContent presses "Select content" on the external tool form, which starts a
// Deep Linking request to the tool.
func (p *CoursePage) SelectContent() error {
	return p.Click(selectContentBtn)
}

// GradebookPage is the user grade report of one course.
type GradebookPage struct {
	*page.Base
	baseURL string
}

func NewGradebookPage(b *page.Base, baseURL string) *GradebookPage {
	return &GradebookPage{Base: b, baseURL: baseURL}
}

func (p *GradebookPage) Open(courseID int) error {
	return p.NavigateTo(urlutil.WithQuery(p.baseURL, GradebookPath, url.Values{"id": {strconv.Itoa(courseID)}}))
}

// WaitForTable waits for the report table to render.
func (p *GradebookPage) WaitForTable() error {
	_, err := p.FindElement(gradebookTable)
	return err
}

// ActivityListed reports whether any grade item header currently contains name.
func (p *GradebookPage) ActivityListed(name string) (bool, error) {
	headers, err := p.Query(gradeItems)
	if err != nil {
		return false, err
	}
	for _, h := range headers {
		text, err := h.Text()
		if err != nil {
			return false, err
		}
		if strings.Contains(text, name) {
			return true, nil
		}
	}
	return false, nil
}

// GradeForActivity returns a grade once some item header contains name.
//
// The match is weak: the grade is the first populated, non-"-" grade cell
// anywhere on the report, not the cell in the matched row. A report with several graded
// items may therefore attribute another item's grade to name.
func (p *GradebookPage) GradeForActivity(name string) (string, bool, error) {
	headers, err := p.FindElements(gradeItems)
	if err != nil {
		return "", false, err
	}
	for _, h := range headers {
		text, err := h.Text()
		if err != nil {
			return "", false, err
		}
		if !strings.Contains(text, name) {
			continue
		}
		cells, err := p.FindElements(gradeCells)
		if err != nil {
			return "", false, err
		}
		for _, c := range cells {
			grade, err := c.Text()
			if err != nil {
				return "", false, err
			}
			grade = strings.TrimSpace(grade)
			if grade != "" && grade != "-" {
				return grade, true, nil
			}
		}
	}
	return "", false, nil
}

// HasGradeForActivity reports whether GradeForActivity finds a grade.
func (p *GradebookPage) HasGradeForActivity(name string) (bool, error) {
	_, ok, err := p.GradeForActivity(name)
	return ok, err
}
