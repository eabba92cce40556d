package core

import (
	"context"

	"AstroBot/entity"
)

// GetActiveChats returns the last message of every user with a transcript.
func (c *Core) GetActiveChats(ctx context.Context) ([]entity.ChatSummary, error) {
	if c.transcripts == nil {
		return nil, ErrNoTranscripts
	}
	return c.transcripts.GetActiveChats(ctx)
}

// GetChatMessages returns paginated message history, newest first.
func (c *Core) GetChatMessages(ctx context.Context, platform, userKey string, limit, offset int) ([]entity.ChatMessage, error) {
	if c.transcripts == nil {
		return nil, ErrNoTranscripts
	}
	return c.transcripts.GetChatMessages(ctx, platform, userKey, limit, offset)
}
