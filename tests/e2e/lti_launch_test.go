package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/lti-e2e/internal/config"
	"github.com/kuitang/lti-e2e/internal/lti"
)

// =============================================================================
// LTI Launch
// =============================================================================

func TestLTILaunch_StudentToChapter(t *testing.T) {
	s := SetupE2E(t, config.MoodleStudent)

	name, err := s.LaunchFromMoodle(config.MoodleStudent)
	require.NoError(t, err)
	t.Logf("launched activity %q", name)

	requireLaunched(t, s)
	assert.False(t, lti.SessionMonitorRan(documentHTML(t, s)), "session monitor must stay disabled for LTI launches")
}

func TestLTILaunch_InstructorToChapter(t *testing.T) {
	s := SetupE2E(t, config.MoodleInstructor)

	_, err := s.LaunchFromMoodle(config.MoodleInstructor)
	require.NoError(t, err)

	requireLaunched(t, s)
}

func TestLTILaunch_CreatesPressbooksUser(t *testing.T) {
	s := SetupE2E(t, config.MoodleStudent, config.PressbooksAdmin)
	student := s.Config.Credentials(config.MoodleStudent).Username

	_, err := s.LaunchFromMoodle(config.MoodleStudent)
	require.NoError(t, err)
	requireLaunched(t, s)
	studentURL := s.Base.CurrentURL()

	var found bool
	err = s.InSecondWindow(func() error {
		if err := s.LoginAs(config.PressbooksAdmin); err != nil {
			return err
		}
		users := s.Users()
		if err := users.Open(); err != nil {
			return err
		}
		if err := users.Search(student); err != nil {
			return err
		}
		found, err = users.HasUser(student)
		return err
	})
	require.NoError(t, err)
	assert.True(t, found, "user %s not found in Pressbooks", student)
	assert.Equal(t, studentURL, s.Base.CurrentURL(), "student window must keep its state")
}

func TestLTILaunch_WithAGSContext(t *testing.T) {
	s := SetupE2E(t, config.MoodleStudent)

	_, err := s.LaunchFromMoodle(config.MoodleStudent)
	require.NoError(t, err)
	requireLaunched(t, s)

	if slug, ok := s.Chapter().ChapterSlug(); ok {
		t.Logf("chapter slug: %s", slug)
	}

	source, err := s.Base.PageSource()
	require.NoError(t, err)
	if lti.HasH5P(source) {
		n, err := lti.CountH5P(source)
		if err != nil {
			t.Logf("count H5P activities: %v", err)
		}
		t.Logf("chapter embeds %d H5P activities; grade passback will use the AGS context", n)
	} else {
		t.Log("no H5P activities in chapter; AGS context stored but unused")
	}
	assert.Contains(t, s.Base.CurrentURL(), s.Config.PressbooksURL)
}
