package conversation

import (
	"testing"

	chat_errors "spacechat/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	id := uuid.New()
	ref, err := ParseRef(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, ref.ID)
	assert.False(t, ref.IsSpace())
	assert.Equal(t, id.String(), ref.String())
}

func TestParseRefSpace(t *testing.T) {
	spaceID := uuid.New()
	ref, err := ParseRef("space:" + spaceID.String())
	require.NoError(t, err)
	assert.True(t, ref.IsSpace())
	assert.Equal(t, spaceID, ref.SpaceID)
	assert.Equal(t, uuid.Nil, ref.ID)
	assert.Equal(t, "space:"+spaceID.String(), ref.String())
}

func TestParseRefInvalid(t *testing.T) {
	for _, raw := range []string{"", "not-a-uuid", "space:", "space:nope", "room:" + uuid.NewString()} {
		_, err := ParseRef(raw)
		assert.ErrorIs(t, err, chat_errors.ErrInvalidInput, raw)
	}
}

func TestConversationRef(t *testing.T) {
	plain := Conversation{ID: uuid.New()}
	assert.Equal(t, plain.ID.String(), plain.Ref())

	spaceID := uuid.New()
	spaceBacked := Conversation{ID: uuid.New(), SpaceID: uuid.NullUUID{UUID: spaceID, Valid: true}}
	assert.Equal(t, "space:"+spaceID.String(), spaceBacked.Ref())
}
