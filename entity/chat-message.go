package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"

	SenderUser = "user"
	SenderBot  = "bot"
)

// ChatMessage is one transcript line of a conversation, kept for operators.
type ChatMessage struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Platform       string             `json:"platform" bson:"platform"`
	UserKey        string             `json:"user_key" bson:"user_key"`
	ChatID         string             `json:"chat_id" bson:"chat_id"`
	ConversationID string             `json:"conversation_id,omitempty" bson:"conversation_id,omitempty"`
	Direction      string             `json:"direction" bson:"direction"` // "incoming" | "outgoing"
	Sender         string             `json:"sender" bson:"sender"`       // "user" | "bot"
	Text           string             `json:"text" bson:"text"`
	MessageID      string             `json:"message_id,omitempty" bson:"message_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
}

// ChatSummary is the last activity of one user, for the operator chat list.
type ChatSummary struct {
	Platform    string    `json:"platform" bson:"platform"`
	UserKey     string    `json:"user_key" bson:"user_key"`
	LastMessage string    `json:"last_message" bson:"last_message"`
	LastTime    time.Time `json:"last_time" bson:"last_time"`
	Incoming    int       `json:"incoming" bson:"incoming"`
}

// InboundMessage builds the transcript line for an inbound event.
func InboundMessage(ev InboundEvent, at time.Time) ChatMessage {
	text := ev.Text
	if text == "" {
		text = ev.SelectedOptionID
	}
	return ChatMessage{
		Platform:  ev.Platform,
		UserKey:   ev.UserKey,
		ChatID:    ev.ChatID,
		Direction: DirectionIncoming,
		Sender:    SenderUser,
		Text:      text,
		MessageID: ev.MessageID,
		CreatedAt: at,
	}
}

// OutboundMessage builds the transcript line for a reply.
func OutboundMessage(ev OutboundEvent, at time.Time) ChatMessage {
	return ChatMessage{
		Platform:  ev.Platform,
		UserKey:   ev.UserKey,
		ChatID:    ev.ChatID,
		Direction: DirectionOutgoing,
		Sender:    SenderBot,
		Text:      ev.Text,
		MessageID: ev.InReplyTo,
		CreatedAt: at,
	}
}
