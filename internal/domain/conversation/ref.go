package conversation

import (
	"strings"

	"github.com/google/uuid"

	chat_errors "spacechat/pkg/errors"
)

// SpaceRefPrefix marks virtual conversation ids that address a space's chat
// rather than a durable conversation row.
const SpaceRefPrefix = "space:"

// Ref identifies a conversation at the API boundary. Ordinary refs carry the
// conversation row id; space refs carry the space id and are resolved to a
// backing conversation lazily, on first persisted message.
type Ref struct {
	raw     string
	ID      uuid.UUID
	SpaceID uuid.UUID
}

// ParseRef parses either a conversation uuid or a space-prefixed virtual id.
func ParseRef(s string) (Ref, error) {
	if rest, ok := strings.CutPrefix(s, SpaceRefPrefix); ok {
		spaceID, err := uuid.Parse(rest)
		if err != nil {
			return Ref{}, chat_errors.ErrInvalidInput
		}
		return Ref{raw: s, SpaceID: spaceID}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return Ref{}, chat_errors.ErrInvalidInput
	}
	return Ref{raw: s, ID: id}, nil
}

// RealRef builds a ref for a durable conversation id.
func RealRef(id uuid.UUID) Ref {
	return Ref{raw: id.String(), ID: id}
}

// SpaceRef builds a virtual ref for a space's chat.
func SpaceRef(spaceID uuid.UUID) Ref {
	return Ref{raw: SpaceRefPrefix + spaceID.String(), SpaceID: spaceID}
}

// IsSpace reports whether the ref is a virtual space id.
func (r Ref) IsSpace() bool {
	return r.SpaceID != uuid.Nil
}

func (r Ref) String() string {
	if r.raw != "" {
		return r.raw
	}
	if r.IsSpace() {
		return SpaceRefPrefix + r.SpaceID.String()
	}
	return r.ID.String()
}
