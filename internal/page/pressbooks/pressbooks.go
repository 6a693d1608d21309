// Package pressbooks holds page objects for Pressbooks: login, chapters with embedded
// H5P, the Deep Linking content picker and the network users screen.
package pressbooks

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/lti-e2e/internal/driver"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/lti"
	"github.com/kuitang/lti-e2e/internal/page"
	"github.com/kuitang/lti-e2e/internal/urlutil"
)

const (
	LoginPath    = "/wp-login.php"
	UsersPath    = "/wp-admin/users.php"
	DeepLinkPath = "/wp-json/pb-lti/v1/deep-link"

	// AdminFragment appears in every wp-admin URL, including the post-login dashboard.
	AdminFragment = "wp-admin"

	h5pProbeWindow   = 5 * time.Second
	modalProbeWindow = 5 * time.Second
)

var (
	usernameField = page.ID("user_login")
	passwordField = page.ID("user_pass")
	loginButton   = page.ID("wp-submit")

	h5pIframe       = page.CSS("iframe.h5p-iframe")
	h5pContent      = page.ClassName("h5p-content")
	h5pAnswerButton = page.CSS(".h5p-joubelui-button")
	h5pCheckButton  = page.CSS(".h5p-question-check-answer")

	bookCards       = page.ClassName("book-card")
	chapterItems    = page.ClassName("chapter-item")
	chapterModal    = page.ID("chapter-selection-modal")
	selectAllButton = page.ID("select-all-chapters")
	deselectAllBtn  = page.ID("deselect-all-chapters")
	confirmButton   = page.ID("confirm-chapter-selection")
	selectedCount   = page.ID("selected-count")
	anyForm         = page.TagName("form")
	userSearchInput = page.ID("user-search-input")
	usernameCells   = page.ClassName("username")
)

// Selectors scoped to a single book card or chapter row.
const (
	bookTitleSelector     = ".book-title"
	selectContentSelector = ".select-content-btn"
	expandSelector        = ".expand-chapters"
	chapterTitleSelector  = ".chapter-title"
	selectChapterSelector = ".select-chapter"
	checkboxSelector      = "input[type='checkbox']"
)

// LoginPage is /wp-login.php.
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

func (p *LoginPage) Login(username, password string) error {
	if err := p.InputText(usernameField, username); err != nil {
		return err
	}
	if err := p.InputText(passwordField, password); err != nil {
		return err
	}
	return p.Click(loginButton)
}

// ChapterPage is a book chapter, usually reached through an LTI launch.
type ChapterPage struct {
	*page.Base
}

func NewChapterPage(b *page.Base) *ChapterPage {
	return &ChapterPage{Base: b}
}

// HasH5PActivity reports whether an H5P iframe becomes visible within five seconds.
func (p *ChapterPage) HasH5PActivity() bool {
	return p.IsElementVisible(h5pIframe, h5pProbeWindow)
}

// IsLTILaunch reports whether the current URL carries the launch marker.
func (p *ChapterPage) IsLTILaunch() bool {
	return strings.Contains(p.CurrentURL(), lti.LaunchMarker)
}

// ChapterSlug returns the chapter slug of the current URL, if any.
func (p *ChapterPage) ChapterSlug() (string, bool) {
	return lti.ChapterSlug(p.CurrentURL())
}

// SwitchToH5PIframe waits for the H5P iframe and moves queries into it.
func (p *ChapterPage) SwitchToH5PIframe() error {
	frame, err := p.FindElement(h5pIframe)
	if err != nil {
		return err
	}
	if err := p.Driver.SwitchToFrame(frame); err != nil {
		return fmt.Errorf("switch to h5p iframe: %w", err)
	}
	return nil
}

func (p *ChapterPage) SwitchToDefaultContent() error {
	return p.Driver.SwitchToDefault()
}

// WaitForH5PContent waits for the H5P runtime to render inside the current frame.
func (p *ChapterPage) WaitForH5PContent() error {
	_, err := p.FindElement(h5pContent)
	return err
}

// AnswerH5P picks the first answer and presses "Check". Only choice-style content
// types have these controls; others return a timeout.
func (p *ChapterPage) AnswerH5P() error {
	if err := p.Click(h5pAnswerButton); err != nil {
		return err
	}
	return p.Click(h5pCheckButton)
}

// Book is one card in the content picker.
type Book struct {
	Title         string
	SelectVisible bool
}

// Chapter is one row of an expanded book.
type Chapter struct {
	Title string
}

// ContentPicker is the tool's Deep Linking selection UI.
type ContentPicker struct {
	*page.Base
	baseURL string
}

func NewContentPicker(b *page.Base, baseURL string) *ContentPicker {
	return &ContentPicker{Base: b, baseURL: baseURL}
}

// DeepLinkURL returns the picker URL for a direct, Moodle-less request.
func (p *ContentPicker) DeepLinkURL(clientID, returnURL, deploymentID string) string {
	return urlutil.WithQuery(p.baseURL, DeepLinkPath, url.Values{
		"client_id":            {clientID},
		"deep_link_return_url": {returnURL},
		"deployment_id":        {deploymentID},
	})
}

// OpenDeepLink navigates straight to the picker.
func (p *ContentPicker) OpenDeepLink(clientID, returnURL, deploymentID string) error {
	return p.NavigateTo(p.DeepLinkURL(clientID, returnURL, deploymentID))
}

// BookCount waits for at least one book card and returns the number shown.
func (p *ContentPicker) BookCount() (int, error) {
	cards, err := p.FindElements(bookCards)
	if err != nil {
		return 0, err
	}
	return len(cards), nil
}

// Books describes every card shown. A card without a title or select button is an error.
func (p *ContentPicker) Books() ([]Book, error) {
	cards, err := p.FindElements(bookCards)
	if err != nil {
		return nil, err
	}
	books := make([]Book, 0, len(cards))
	for i, card := range cards {
		title, err := child(card, bookTitleSelector, fmt.Sprintf("book %d title", i))
		if err != nil {
			return nil, err
		}
		text, err := title.Text()
		if err != nil {
			return nil, err
		}
		btn, err := child(card, selectContentSelector, fmt.Sprintf("book %d select button", i))
		if err != nil {
			return nil, err
		}
		visible, err := btn.Displayed()
		if err != nil {
			return nil, err
		}
		books = append(books, Book{Title: strings.TrimSpace(text), SelectVisible: visible})
	}
	return books, nil
}

// SelectBook presses "Select This Content" on the i-th card, selecting the whole book.
func (p *ContentPicker) SelectBook(i int) error {
	return p.clickInCard(i, selectContentSelector, "select button")
}

// ExpandBookChapters expands the chapter list of the i-th card.
func (p *ContentPicker) ExpandBookChapters(i int) error {
	return p.clickInCard(i, expandSelector, "expand button")
}

func (p *ContentPicker) clickInCard(i int, selector, what string) error {
	cards, err := p.FindElements(bookCards)
	if err != nil {
		return err
	}
	card, err := page.Nth(cards, i, "book")
	if err != nil {
		return err
	}
	btn, err := child(card, selector, fmt.Sprintf("book %d %s", i, what))
	if err != nil {
		return err
	}
	return btn.Click()
}

// Chapters waits for chapter rows and returns their titles.
func (p *ContentPicker) Chapters() ([]Chapter, error) {
	rows, err := p.FindElements(chapterItems)
	if err != nil {
		return nil, err
	}
	chapters := make([]Chapter, 0, len(rows))
	for i, row := range rows {
		title, err := child(row, chapterTitleSelector, fmt.Sprintf("chapter %d title", i))
		if err != nil {
			return nil, err
		}
		text, err := title.Text()
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, Chapter{Title: strings.TrimSpace(text)})
	}
	return chapters, nil
}

// SelectChapter presses the select button of the i-th chapter row.
func (p *ContentPicker) SelectChapter(i int) error {
	rows, err := p.FindElements(chapterItems)
	if err != nil {
		return err
	}
	row, err := page.Nth(rows, i, "chapter")
	if err != nil {
		return err
	}
	btn, err := child(row, selectChapterSelector, fmt.Sprintf("chapter %d select button", i))
	if err != nil {
		return err
	}
	return btn.Click()
}

// IsModalVisible reports whether the whole-book modal shows within five seconds.
func (p *ContentPicker) IsModalVisible() bool {
	return p.IsElementVisible(chapterModal, modalProbeWindow)
}

// ModalCheckboxes returns the chapter checkboxes inside the modal.
func (p *ContentPicker) ModalCheckboxes() ([]driver.Element, error) {
	modal, err := p.FindElement(chapterModal)
	if err != nil {
		return nil, err
	}
	return modal.FindAll(checkboxSelector)
}

// BulkButtonsVisible reports whether both select-all and deselect-all are shown.
func (p *ContentPicker) BulkButtonsVisible() (bool, error) {
	modal, err := p.FindElement(chapterModal)
	if err != nil {
		return false, err
	}
	for _, loc := range []page.Locator{selectAllButton, deselectAllBtn} {
		btn, err := child(modal, loc.Selector(), loc.Value)
		if err != nil {
			return false, err
		}
		shown, err := btn.Displayed()
		if err != nil || !shown {
			return false, err
		}
	}
	return true, nil
}

func (p *ContentPicker) SelectAllChapters() error {
	return p.Click(selectAllButton)
}

func (p *ContentPicker) DeselectAllChapters() error {
	return p.Click(deselectAllBtn)
}

func (p *ContentPicker) ConfirmSelection() error {
	return p.Click(confirmButton)
}

// SelectedCount returns the modal's "N selected" text.
func (p *ContentPicker) SelectedCount() (string, error) {
	return p.GetText(selectedCount)
}

// WaitForModalHidden waits until the modal is hidden or gone from the page.
func (p *ContentPicker) WaitForModalHidden() error {
	return p.WaitUntil("chapter selection modal to close", func() (bool, error) {
		els, err := p.Query(chapterModal)
		if err != nil {
			return false, err
		}
		if len(els) == 0 {
			return true, nil
		}
		shown, err := els[0].Displayed()
		return !shown, err
	})
}

// WaitForResponse waits for the Deep Linking response: an auto-submitting form on the
// page, or a redirect that carries the response token or mentions "return".
func (p *ContentPicker) WaitForResponse() error {
	return p.WaitUntil("deep linking response", func() (bool, error) {
		current := p.CurrentURL()
		if _, ok := lti.ResponseJWT(current); ok {
			return true, nil
		}
		if strings.Contains(strings.ToLower(current), "return") {
			return true, nil
		}
		forms, err := p.Query(anyForm)
		return len(forms) > 0, err
	})
}

// UsersPage is the network admin user list.
type UsersPage struct {
	*page.Base
	baseURL string
}

func NewUsersPage(b *page.Base, baseURL string) *UsersPage {
	return &UsersPage{Base: b, baseURL: baseURL}
}

func (p *UsersPage) Open() error {
	return p.NavigateTo(urlutil.BuildAbsolute(p.baseURL, UsersPath))
}

// Search submits the user search form.
func (p *UsersPage) Search(username string) error {
	input, err := p.FindElement(userSearchInput)
	if err != nil {
		return err
	}
	if err := input.SendKeys(username); err != nil {
		return fmt.Errorf("type search: %w", err)
	}
	if err := input.Submit(); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	return nil
}

// Usernames waits for the result list and returns the username cells' text.
func (p *UsersPage) Usernames() ([]string, error) {
	cells, err := p.FindElements(usernameCells)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cells))
	for _, c := range cells {
		text, err := c.Text()
		if err != nil {
			return nil, err
		}
		names = append(names, strings.TrimSpace(text))
	}
	return names, nil
}

// HasUser reports whether any result contains username.
func (p *UsersPage) HasUser(username string) (bool, error) {
	names, err := p.Usernames()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if strings.Contains(n, username) {
			return true, nil
		}
	}
	return false, nil
}

func child(parent driver.Element, selector, what string) (driver.Element, error) {
	els, err := parent.FindAll(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, errs.New(errs.NotFound, what+" not found")
	}
	return els[0], nil
}
