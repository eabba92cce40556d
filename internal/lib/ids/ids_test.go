package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestULIDIsSortable(t *testing.T) {
	a := ULID()
	b := ULID()
	require.Len(t, a, 26)
	require.Less(t, a, b)

	_, err := ulid.Parse(a)
	require.NoError(t, err)
}

func TestConversationIDIsUUID(t *testing.T) {
	_, err := uuid.Parse(ConversationID())
	require.NoError(t, err)
	require.NotEqual(t, ConversationID(), ConversationID())
}
