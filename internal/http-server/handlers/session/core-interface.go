package session

import (
	"context"

	"AstroBot/bot/chat"
)

type Core interface {
	GetSession(ctx context.Context, userKey string) (*chat.Session, error)
	ResetSession(ctx context.Context, userKey string) error
}
