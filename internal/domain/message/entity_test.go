package message

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionForward(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusSent))
	assert.True(t, CanTransition(StatusSent, StatusDelivered))
	assert.True(t, CanTransition(StatusDelivered, StatusRead))
	assert.True(t, CanTransition(StatusPending, StatusRead))
}

func TestCanTransitionNoBackwards(t *testing.T) {
	assert.False(t, CanTransition(StatusRead, StatusDelivered))
	assert.False(t, CanTransition(StatusSent, StatusPending))
	assert.False(t, CanTransition(StatusSent, StatusSent))
}

func TestCanTransitionTerminal(t *testing.T) {
	// Deleted is reachable from anywhere.
	for _, from := range []string{StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		assert.True(t, CanTransition(from, StatusDeleted), from)
	}
	// Failed only terminates a pending message.
	assert.True(t, CanTransition(StatusPending, StatusFailed))
	assert.False(t, CanTransition(StatusSent, StatusFailed))
	assert.False(t, CanTransition(StatusDelivered, StatusFailed))
}

func TestMetadataRoundTrip(t *testing.T) {
	mention := uuid.New()
	meta := Metadata{
		Mentions: []uuid.UUID{mention},
		Hashtags: []string{"release"},
		Links:    []string{"https://example.com"},
		EditHistory: []EditEntry{
			{Content: "before"},
		},
	}

	decoded, err := DecodeMetadata(meta.Encode())
	require.NoError(t, err)
	assert.Equal(t, meta.Mentions, decoded.Mentions)
	assert.Equal(t, meta.Hashtags, decoded.Hashtags)
	require.Len(t, decoded.EditHistory, 1)
	assert.Equal(t, "before", decoded.EditHistory[0].Content)
}

func TestDecodeMetadataEmpty(t *testing.T) {
	meta, err := DecodeMetadata("")
	require.NoError(t, err)
	assert.Empty(t, meta.Mentions)

	_, err = DecodeMetadata("{not json")
	assert.Error(t, err)
}

func TestRequiresUpload(t *testing.T) {
	assert.True(t, RequiresUpload(TypeImage))
	assert.True(t, RequiresUpload(TypeFile))
	assert.False(t, RequiresUpload(TypeText))
	assert.False(t, RequiresUpload(TypeForward))
}
