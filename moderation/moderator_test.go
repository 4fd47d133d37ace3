package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestModerator(t *testing.T, words ...string) Moderator {
	t.Helper()
	m, err := NewModerator(words, '*')
	require.NoError(t, err)
	return m
}

func Test_Censor_Replaces_Matched_Word(t *testing.T) {
	req := require.New(t)
	m := newTestModerator(t, "idiot")

	censored, found := m.Censor("you idiot, stop")
	req.Equal("you *****, stop", censored)
	req.Equal([]string{"idiot"}, found)
}

func Test_Censor_Handles_Leet_Speak(t *testing.T) {
	req := require.New(t)
	m := newTestModerator(t, "idiot")

	censored, found := m.Censor("you 1d10t")
	req.Equal("you *****", censored)
	req.Len(found, 1)
}

func Test_Censor_Clean_Text_Untouched(t *testing.T) {
	req := require.New(t)
	m := newTestModerator(t, "idiot")

	censored, found := m.Censor("perfectly polite message")
	req.Equal("perfectly polite message", censored)
	req.Empty(found)
}

func Test_Censor_Empty_Body(t *testing.T) {
	req := require.New(t)
	m := newTestModerator(t, "idiot")

	censored, found := m.Censor("")
	req.Equal("", censored)
	req.Empty(found)
}

func Test_LoadWordlists_Embedded(t *testing.T) {
	req := require.New(t)

	data, err := LoadWordlists()
	req.NoError(err)
	req.NotEmpty(data.Words)
	req.Contains(data.Languages, "en")
	req.Contains(data.Languages, "fr")
}

func Test_DetectLang(t *testing.T) {
	req := require.New(t)

	lang := DetectLang("the quick brown fox jumps over the lazy dog near the river bank")
	req.Equal("en", lang)
}
