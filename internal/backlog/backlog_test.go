package backlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_DirtyDetection(t *testing.T) {
	item := Item{ExternalID: "42", Title: "Fix crash", Description: "npe on null input", State: "open"}
	s := State{"42": hashItem(item)}

	assert.False(t, s.Dirty(item))

	item.State = "closed"
	assert.True(t, s.Dirty(item))

	assert.True(t, State{}.Dirty(item))
}

func TestToChunk_UsesBacklogIDScheme(t *testing.T) {
	item := Item{ExternalID: "AB-100", Title: "Improve search ranking"}
	c := ToChunk(item)

	assert.Equal(t, "backlog:AB-100", c.ID)
	assert.Contains(t, c.Content, "Improve search ranking")
}

func TestFindReferences_DefaultPattern(t *testing.T) {
	text := "Fixed in AB#123 after AB#123 and CD#9 were both reported."
	refs := FindReferences(backlogRefPattern, text)
	assert.ElementsMatch(t, []string{"AB#123", "CD#9"}, refs)
}

func TestState_EncodeDecodeRoundTrip(t *testing.T) {
	s := State{"1": "hash-a", "2": "hash-b"}
	b, err := EncodeState(s)
	require.NoError(t, err)

	decoded, err := DecodeState(b)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)
}

func TestDecodeState_EmptyIsEmptyState(t *testing.T) {
	s, err := DecodeState(nil)
	require.NoError(t, err)
	assert.Empty(t, s)
}
