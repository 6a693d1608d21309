package pressbooks

import (
	"bytes"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/lti-e2e/internal/driver/drivertest"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
	"github.com/kuitang/lti-e2e/internal/page"
)

const baseURL = "https://pb.example"

func newBase(f *drivertest.Fake) *page.Base {
	b := page.NewBase(f, time.Second)
	b.PollInterval = 5 * time.Millisecond
	return b
}

const pickerHTML = `<main>
  <div class="book-card">
    <h3 class="book-title"> Biology 101 </h3>
    <button class="select-content-btn">Select This Content</button>
    <button class="expand-chapters">Show chapters</button>
    <ul>
      <li class="chapter-item"><span class="chapter-title">Cells</span><button class="select-chapter">Select</button></li>
      <li class="chapter-item"><span class="chapter-title">Genetics</span><button class="select-chapter">Select</button></li>
    </ul>
  </div>
  <div class="book-card">
    <h3 class="book-title">Chemistry</h3>
    <button class="select-content-btn" style="display:none">Select This Content</button>
    <button class="expand-chapters">Show chapters</button>
  </div>
  <div id="chapter-selection-modal" style="display:none">
    <button id="select-all-chapters">Select all</button>
    <button id="deselect-all-chapters">Deselect all</button>
    <label><input type="checkbox" name="chapters[]" value="1"> Cells</label>
    <label><input type="checkbox" name="chapters[]" value="2"> Genetics</label>
    <span id="selected-count">0 selected</span>
    <button id="confirm-chapter-selection">Confirm</button>
  </div>
</main>`

const modalShownHTML = `<div id="chapter-selection-modal">
    <button id="select-all-chapters">Select all</button>
    <button id="deselect-all-chapters">Deselect all</button>
    <label><input type="checkbox" name="chapters[]" value="1"> Cells</label>
    <label><input type="checkbox" name="chapters[]" value="2"> Genetics</label>
    <span id="selected-count">0 selected</span>
    <button id="confirm-chapter-selection">Confirm</button>
  </div>`

func TestLoginPage(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.Route(baseURL+LoginPath, `<form><input id="user_login"><input id="user_pass" type="password"><input type="submit" id="wp-submit"></form>`)
	p := NewLoginPage(newBase(f), baseURL)

	require.NoError(t, p.Open())
	require.NoError(t, p.Login("admin", "secret"))
	assert.Equal(t, "admin", f.Value("#user_login"))
	assert.Equal(t, "secret", f.Value("#user_pass"))
	assert.Equal(t, 1, f.ClickCount("#wp-submit"))
	assert.Equal(t, []string{baseURL + LoginPath}, f.Navigations())
}

func TestChapterPage_H5PIframe(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetURL(baseURL + "/biology/chapter/cells/?lti_launch=1")
	f.SetHTML(`<h1>Cells</h1><iframe class="h5p-iframe" id="h5p-iframe-3"></iframe>`)
	f.Frame("iframe.h5p-iframe", `<div class="h5p-content">
		<button class="h5p-joubelui-button">A</button>
		<button class="h5p-question-check-answer">Check</button></div>`)
	p := NewChapterPage(newBase(f))

	assert.True(t, p.IsLTILaunch())
	slug, ok := p.ChapterSlug()
	require.True(t, ok)
	assert.Equal(t, "cells", slug)
	assert.True(t, p.HasH5PActivity())

	require.NoError(t, p.SwitchToH5PIframe())
	require.NoError(t, p.WaitForH5PContent())
	require.NoError(t, p.AnswerH5P())
	assert.Equal(t, 1, f.ClickCount(".h5p-joubelui-button"))
	assert.Equal(t, 1, f.ClickCount(".h5p-question-check-answer"))

	require.NoError(t, p.SwitchToDefaultContent())
	els, err := p.Query(page.TagName("h1"))
	require.NoError(t, err)
	assert.Len(t, els, 1, "queries are back in the top document")
}

func TestChapterPage_AnswerWithoutControlsTimesOut(t *testing.T) {
	restore := obs.SetOutputForTests(&bytes.Buffer{})
	defer restore()

	f := drivertest.New()
	f.SetHTML(`<div class="h5p-content"><p>Interactive video</p></div>`)
	b := newBase(f)
	b.Timeout = 30 * time.Millisecond
	p := NewChapterPage(b)

	require.NoError(t, p.WaitForH5PContent())
	assert.True(t, errs.IsTimeout(p.AnswerH5P()))
}

func TestContentPicker_DeepLinkURL(t *testing.T) {
	t.Parallel()

	p := NewContentPicker(newBase(drivertest.New()), baseURL+"/")
	raw := p.DeepLinkURL("client-1", "https://lms.example/mod/lti/contentitem_return.php?course=2", "1")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "pb.example", u.Host)
	assert.Equal(t, DeepLinkPath, u.Path)
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
	assert.Equal(t, "https://lms.example/mod/lti/contentitem_return.php?course=2", u.Query().Get("deep_link_return_url"))
	assert.Equal(t, "1", u.Query().Get("deployment_id"))
}

func TestContentPicker_BooksAndChapters(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	p := NewContentPicker(newBase(f), baseURL)
	f.Route(p.DeepLinkURL("c", "r", "d"), pickerHTML)

	require.NoError(t, p.OpenDeepLink("c", "r", "d"))
	n, err := p.BookCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	books, err := p.Books()
	require.NoError(t, err)
	assert.Equal(t, []Book{{Title: "Biology 101", SelectVisible: true}, {Title: "Chemistry", SelectVisible: false}}, books)

	require.NoError(t, p.ExpandBookChapters(0))
	assert.Equal(t, 1, f.ClickCount(".expand-chapters"))

	chapters, err := p.Chapters()
	require.NoError(t, err)
	assert.Equal(t, []Chapter{{Title: "Cells"}, {Title: "Genetics"}}, chapters)

	require.NoError(t, p.SelectChapter(1))
	assert.Equal(t, 1, f.ClickCount(".select-chapter"))
}

func TestContentPicker_OutOfRange(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(pickerHTML)
	p := NewContentPicker(newBase(f), baseURL)

	for name, err := range map[string]error{
		"select book":    p.SelectBook(2),
		"expand":         p.ExpandBookChapters(-1),
		"select chapter": p.SelectChapter(5),
	} {
		assert.True(t, errs.Is(err, errs.NotFound), name)
		assert.ErrorIs(t, err, page.ErrIndexOutOfRange, name)
	}
	assert.Equal(t, 0, f.ClickCount("button"))
}

func TestContentPicker_WholeBookModal(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(`<div class="book-card"><h3 class="book-title">Biology</h3>
		<button class="select-content-btn">Select This Content</button></div>`)
	f.OnClick(".select-content-btn", func(f *drivertest.Fake) { f.SetHTML(modalShownHTML) })
	f.OnClick("#select-all-chapters", func(f *drivertest.Fake) {
		f.SetHTML(`<div id="chapter-selection-modal">
			<button id="select-all-chapters">Select all</button>
			<button id="deselect-all-chapters">Deselect all</button>
			<input type="checkbox" checked><input type="checkbox" checked>
			<span id="selected-count">2 selected</span>
			<button id="confirm-chapter-selection">Confirm</button></div>`)
	})
	f.OnClick("#confirm-chapter-selection", func(f *drivertest.Fake) {
		f.SetHTML(`<form method="post" action="https://lms.example/mod/lti/contentitem_return.php">
			<input type="hidden" name="JWT" value="a.b.c"></form>`)
	})
	p := NewContentPicker(newBase(f), baseURL)

	require.NoError(t, p.SelectBook(0))
	assert.True(t, p.IsModalVisible())

	boxes, err := p.ModalCheckboxes()
	require.NoError(t, err)
	assert.Len(t, boxes, 2)

	shown, err := p.BulkButtonsVisible()
	require.NoError(t, err)
	assert.True(t, shown)

	require.NoError(t, p.SelectAllChapters())
	count, err := p.SelectedCount()
	require.NoError(t, err)
	assert.Equal(t, "2 selected", count)
	boxes, err = p.ModalCheckboxes()
	require.NoError(t, err)
	for _, b := range boxes {
		sel, err := b.Selected()
		require.NoError(t, err)
		assert.True(t, sel)
	}

	require.NoError(t, p.ConfirmSelection())
	require.NoError(t, p.WaitForModalHidden(), "a removed modal counts as hidden")
	require.NoError(t, p.WaitForResponse())
}

func TestContentPicker_ModalCheckboxToggle(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(modalShownHTML)
	p := NewContentPicker(newBase(f), baseURL)

	boxes, err := p.ModalCheckboxes()
	require.NoError(t, err)
	require.NoError(t, boxes[0].Click())
	sel, err := boxes[0].Selected()
	require.NoError(t, err)
	assert.True(t, sel)
	sel, err = boxes[1].Selected()
	require.NoError(t, err)
	assert.False(t, sel)
}

func TestContentPicker_WaitForModalHidden(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(modalShownHTML)
	f.ScheduleHTML(30*time.Millisecond, `<div id="chapter-selection-modal" style="display:none"></div>`)
	p := NewContentPicker(newBase(f), baseURL)

	require.NoError(t, p.WaitForModalHidden())
}

func TestContentPicker_WaitForResponseOnRedirect(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(`<p>Redirecting</p>`)
	f.ScheduleURL(20*time.Millisecond, "https://lms.example/mod/lti/contentitem_return.php?JWT=a.b.c")
	p := NewContentPicker(newBase(f), baseURL)

	require.NoError(t, p.WaitForResponse())
}

func TestContentPicker_WaitForResponseOnTokenRedirect(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(`<p>Example Domain</p>`)
	f.ScheduleURL(20*time.Millisecond, "http://example.com?JWT=a.b.c")
	p := NewContentPicker(newBase(f), baseURL)

	require.NoError(t, p.WaitForResponse())
}

func TestUsersPage_Search(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.Route(baseURL+UsersPath, `<form id="search"><input id="user-search-input"></form>`)
	f.OnClick("form#search", func(f *drivertest.Fake) {
		f.SetHTML(`<table><tr><td class="username"> moodle_student_1 </td></tr>
			<tr><td class="username">moodle_instructor</td></tr></table>`)
	})
	p := NewUsersPage(newBase(f), baseURL)

	require.NoError(t, p.Open())
	require.NoError(t, p.Search("student"))
	assert.Equal(t, 1, f.ClickCount("form#search"))

	names, err := p.Usernames()
	require.NoError(t, err)
	assert.Equal(t, []string{"moodle_student_1", "moodle_instructor"}, names)

	ok, err := p.HasUser("student")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.HasUser("nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}
