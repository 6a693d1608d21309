package page

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/lti-e2e/internal/driver"
	"github.com/kuitang/lti-e2e/internal/driver/drivertest"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
)

func newBase(f *drivertest.Fake, timeout time.Duration) *Base {
	b := NewBase(f, timeout)
	b.PollInterval = 10 * time.Millisecond
	return b
}

func TestLocator_Selector(t *testing.T) {
	t.Parallel()

	cases := []struct {
		loc  Locator
		want string
	}{
		{ID("username"), `[id="username"]`},
		{CSS("a[data-internal='lti']"), "a[data-internal='lti']"},
		{ClassName("h5p-iframe"), ".h5p-iframe"},
		{TagName("iframe"), "iframe"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.loc.Selector(), tc.loc.String())
	}
}

func TestNewBase_DefaultsTimeout(t *testing.T) {
	t.Parallel()

	b := NewBase(drivertest.New(), 0)
	assert.Equal(t, DefaultTimeout, b.Timeout)
	assert.Equal(t, DefaultPollInterval, b.PollInterval)
}

func TestFindElement_WaitsForLateElement(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.ScheduleHTML(60*time.Millisecond, `<div id="late" class="first">one</div><div class="first">two</div>`)
	b := newBase(f, 2*time.Second)

	start := time.Now()
	el, err := b.FindElement(ClassName("first"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "returned before the element existed")

	text, err := el.Text()
	require.NoError(t, err)
	assert.Equal(t, "one", text, "first match is returned")
}

func testFindElement_TimeoutIsNeverEarly(t *rapid.T) {
	timeout := time.Duration(rapid.IntRange(20, 80).Draw(t, "timeoutMs")) * time.Millisecond
	interval := time.Duration(rapid.IntRange(1, 40).Draw(t, "intervalMs")) * time.Millisecond

	b := NewBase(drivertest.New(), timeout)
	b.PollInterval = interval

	start := time.Now()
	_, err := b.FindElement(ID("never"))
	elapsed := time.Since(start)
	if !errs.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed < timeout {
		t.Fatalf("timed out after %s, before the %s deadline", elapsed, timeout)
	}
}

func TestFindElement_TimeoutIsNeverEarly(t *testing.T) {
	restore := obs.SetOutputForTests(&bytes.Buffer{})
	defer restore()
	rapid.Check(t, testFindElement_TimeoutIsNeverEarly)
}

func TestFindElement_FinalCheckAtDeadline(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	// Appears between the last paced poll and the deadline.
	f.ScheduleHTML(90*time.Millisecond, `<p id="edge"></p>`)
	b := NewBase(f, 100*time.Millisecond)
	b.PollInterval = 80 * time.Millisecond

	_, err := b.FindElement(ID("edge"))
	require.NoError(t, err)
}

func TestTimeout_LogsURLAndSourcePreview(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	f := drivertest.New()
	f.SetURL("https://lms.example/course/view.php?id=2")
	f.SetHTML(`<body>` + strings.Repeat("x", 2000) + `</body>`)
	b := newBase(f, 30*time.Millisecond)

	err := b.WaitForURLContains("lti_launch=1")
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.Contains(t, err.Error(), `URL to contain "lti_launch=1"`)

	logged := buf.String()
	assert.Contains(t, logged, `"msg":"wait_timeout"`)
	assert.Contains(t, logged, "course/view.php?id=2")
	assert.Contains(t, logged, "[truncated]")
}

func TestClick_WaitsForDisplayedAndEnabled(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(`<button id="go" disabled>Go</button>`)
	f.ScheduleHTML(50*time.Millisecond, `<button id="go">Go</button>`)
	b := newBase(f, time.Second)

	require.NoError(t, b.Click(ID("go")))
	assert.Equal(t, 1, f.ClickCount("#go"))
}

func TestClick_HiddenElementTimesOut(t *testing.T) {
	restore := obs.SetOutputForTests(&bytes.Buffer{})
	defer restore()

	f := drivertest.New()
	f.SetHTML(`<button id="go" style="display:none">Go</button>`)
	b := newBase(f, 40*time.Millisecond)

	err := b.Click(ID("go"))
	assert.True(t, errs.IsTimeout(err))
	assert.Equal(t, 0, f.ClickCount("#go"))
}

func TestInputTextAndGetText(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(`<input id="username" value="stale"><h1 class="title">  Chapter 1  </h1>`)
	b := newBase(f, time.Second)

	require.NoError(t, b.InputText(ID("username"), "student"))
	assert.Equal(t, "student", f.Value("#username"))

	text, err := b.GetText(ClassName("title"))
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1", text)
}

func TestIsElementVisible(t *testing.T) {
	restore := obs.SetOutputForTests(&bytes.Buffer{})
	defer restore()

	f := drivertest.New()
	f.SetHTML(`<div class="h5p-iframe" hidden></div><div id="shown"></div>`)
	b := newBase(f, 5*time.Second)

	assert.True(t, b.IsElementVisible(ID("shown")))
	assert.False(t, b.IsElementVisible(ClassName("h5p-iframe"), 30*time.Millisecond))

	start := time.Now()
	assert.False(t, b.IsElementVisible(ID("absent"), 40*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second, "override window must replace the page timeout")

	f.ScheduleHTML(30*time.Millisecond, `<div class="h5p-iframe"></div>`)
	assert.True(t, b.IsElementVisible(ClassName("h5p-iframe"), time.Second))

	f.ScheduleHTML(30*time.Millisecond, `<div class="h5p-content"></div>`)
	assert.True(t, b.IsElementVisible(ClassName("h5p-content"), 0), "zero window falls back to the page timeout")
}

func TestWaitUntil_PropagatesLastErrorOnTimeout(t *testing.T) {
	restore := obs.SetOutputForTests(&bytes.Buffer{})
	defer restore()

	b := newBase(drivertest.New(), 30*time.Millisecond)
	boom := errors.New("stale element")

	err := b.WaitUntil("modal to close", func() (bool, error) { return false, boom })
	assert.True(t, errs.IsTimeout(err))
	assert.ErrorIs(t, err, boom)
}

func TestReadsAreSideEffectFree(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(`<p>hi</p>`)
	f.AddLog(driver.LevelSevere, "Uncaught TypeError")
	f.AddLog(driver.LevelInfo, "[LTI Session Monitor] Initialized")
	b := newBase(f, time.Second)

	assert.Len(t, b.ConsoleLogs(), 2)
	assert.Len(t, b.ConsoleLogs(), 2, "reading logs must not drain them")
	severe := b.SevereErrors()
	require.Len(t, severe, 1)
	assert.Equal(t, "Uncaught TypeError", severe[0].Message)

	source, err := b.PageSource()
	require.NoError(t, err)
	assert.Contains(t, source, "<p>hi</p>")

	require.NoError(t, b.NavigateTo("https://pb.example/"))
	require.NoError(t, b.Refresh())
	assert.Equal(t, "https://pb.example/", b.CurrentURL())
	assert.Equal(t, 1, f.Reloads())
}

func TestNth(t *testing.T) {
	t.Parallel()

	f := drivertest.New()
	f.SetHTML(`<div class="c"></div><div class="c"></div>`)
	els, _ := f.FindAll(".c")

	el, err := Nth(els, 1, "book")
	require.NoError(t, err)
	assert.NotNil(t, el)

	_, err = Nth(els, 2, "book")
	assert.True(t, errs.Is(err, errs.NotFound))
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Contains(t, err.Error(), "book 2 of 2")
}
