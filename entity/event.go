package entity

import "time"

// InboundEvent is a normalized user message from any platform.
type InboundEvent struct {
	UserKey          string    `json:"user_key" bson:"user_key"`
	MessageID        string    `json:"message_id" bson:"message_id"`
	Text             string    `json:"text,omitempty" bson:"text,omitempty"`
	SelectedOptionID string    `json:"selected_option_id,omitempty" bson:"selected_option_id,omitempty"`
	Timestamp        time.Time `json:"timestamp" bson:"timestamp"`
	Platform         string    `json:"platform" bson:"platform"`
	ChatID           string    `json:"chat_id" bson:"chat_id"`
}

// OutboundEvent is a rendered reply ready for a platform sender.
type OutboundEvent struct {
	UserKey   string           `json:"user_key" bson:"user_key"`
	Text      string           `json:"rendered_text" bson:"rendered_text"`
	Options   []RenderedOption `json:"rendered_options,omitempty" bson:"rendered_options,omitempty"`
	Platform  string           `json:"platform" bson:"platform"`
	ChatID    string           `json:"chat_id" bson:"chat_id"`
	InReplyTo string           `json:"in_reply_to" bson:"in_reply_to"`
}

// RenderedOption is a localized selectable option.
type RenderedOption struct {
	ID    string `json:"id" bson:"id"`
	Label string `json:"label" bson:"label"`
}

// UserKey builds the stable session key for a platform user.
func UserKey(platform, userID string) string {
	return platform + ":" + userID
}
