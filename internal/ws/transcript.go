package ws

import (
	"log/slog"

	"AstroBot/entity"
	"AstroBot/internal/lib/sl"
)

// MessageStore persists transcript lines.
type MessageStore interface {
	SaveChatMessage(msg entity.ChatMessage) error
}

// Transcript stores every conversation line and shows it to operators.
// Either side may be nil.
type Transcript struct {
	store MessageStore
	hub   *Hub
	log   *slog.Logger
}

func NewTranscript(store MessageStore, hub *Hub, log *slog.Logger) *Transcript {
	return &Transcript{store: store, hub: hub, log: log.With(sl.Module("transcript"))}
}

func (t *Transcript) SaveAndBroadcastChatMessage(msg entity.ChatMessage) {
	if t.store != nil {
		if err := t.store.SaveChatMessage(msg); err != nil {
			t.log.Error("failed to save chat message",
				slog.String("platform", msg.Platform),
				sl.UserKey(msg.UserKey),
				sl.Err(err),
			)
		}
	}
	if t.hub != nil {
		t.hub.BroadcastMessage(msg)
	}
}
