package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/lti-e2e/internal/config"
	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/page/pressbooks"
	"github.com/kuitang/lti-e2e/internal/scenario"
	"github.com/kuitang/lti-e2e/internal/session"
)

// openDirectPicker opens the content picker without a Moodle request.
func openDirectPicker(t *testing.T, s *session.Session) {
	t.Helper()
	require.NoError(t, s.ContentPicker().OpenDeepLink(directClientID, directReturnURL, directDeploymentID))
}

// =============================================================================
// Deep Linking
// =============================================================================

func TestDeepLinking_ContentPicker(t *testing.T) {
	s := SetupE2E(t, config.MoodleInstructor)

	require.NoError(t, s.LoginAs(config.MoodleInstructor))
	course := s.Course()
	require.NoError(t, course.Open(s.Config.CourseID))

	scenario.BestEffort(t, "enable editing", func() error {
		clicked, err := course.EnableEditing()
		if clicked {
			t.Log("turned editing on")
		}
		return err
	})
	scenario.Optional(t, "open activity chooser", course.AddActivity)
	scenario.Optional(t, "choose external tool", course.ChooseExternalTool)
	scenario.Optional(t, "press select content", course.SelectContent)

	require.NoError(t, s.Base.WaitForURLContains(s.Config.PressbooksURL))
	current := s.Base.CurrentURL()
	assert.True(t, containsFold(current, "deep-link") || containsFold(current, "lti-launch"),
		"picker URL %s", current)

	picker := s.ContentPicker()
	scenario.BestEffort(t, "validate picker UI", func() error {
		books, err := picker.Books()
		if err != nil {
			return err
		}
		t.Logf("found %d books in content picker", len(books))
		for i, b := range books[:min(3, len(books))] {
			assert.NotEmpty(t, b.Title, "book %d has no title", i)
			assert.True(t, b.SelectVisible, "book %d select button not visible", i)
		}
		return nil
	})
}

func TestDeepLinking_ChapterSelection(t *testing.T) {
	s := SetupE2E(t, config.MoodleInstructor)

	require.NoError(t, s.LoginAs(config.MoodleInstructor))
	require.NoError(t, s.Course().Open(s.Config.CourseID))
	openDirectPicker(t, s)

	picker := s.ContentPicker()
	scenario.Optional(t, "expand first book", func() error { return picker.ExpandBookChapters(0) })

	var chapters []pressbooks.Chapter
	scenario.Optional(t, "list chapters", func() error {
		var err error
		chapters, err = picker.Chapters()
		if err == nil && len(chapters) == 0 {
			return errs.New(errs.NotFound, "no chapters after expanding")
		}
		return err
	})
	t.Logf("found %d chapters", len(chapters))

	require.NoError(t, picker.SelectChapter(0))
	t.Logf("selected chapter %q", chapters[0].Title)

	require.NoError(t, picker.WaitForResponse())
	requireResponseClaims(t, s, directClientID)
}

func TestDeepLinking_WholeBookModal(t *testing.T) {
	s := SetupE2E(t)
	openDirectPicker(t, s)

	picker := s.ContentPicker()
	scenario.Optional(t, "select whole book", func() error { return picker.SelectBook(0) })
	scenario.Optional(t, "open chapter selection modal", func() error {
		if !picker.IsModalVisible() {
			return errs.New(errs.NotFound, "chapter selection modal not displayed")
		}
		return nil
	})

	boxes, err := picker.ModalCheckboxes()
	require.NoError(t, err)
	require.NotEmpty(t, boxes, "no chapter checkboxes in modal")
	t.Logf("found %d chapter checkboxes", len(boxes))

	shown, err := picker.BulkButtonsVisible()
	require.NoError(t, err)
	require.True(t, shown, "bulk action buttons not visible")

	require.NoError(t, picker.DeselectAllChapters())
	for i, box := range boxes {
		selected, err := box.Selected()
		require.NoError(t, err)
		assert.False(t, selected, "checkbox %d still selected after deselect all", i)
	}

	scenario.Optional(t, "select two chapters", func() error {
		if len(boxes) < 2 {
			return errs.New(errs.NotFound, "book has fewer than two chapters")
		}
		if err := boxes[0].Click(); err != nil {
			return err
		}
		return boxes[1].Click()
	})
	count, err := picker.SelectedCount()
	require.NoError(t, err)
	assert.Contains(t, count, "2")

	require.NoError(t, picker.ConfirmSelection())
	require.NoError(t, picker.WaitForModalHidden())
}
