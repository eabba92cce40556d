package chat

import (
	"maps"
	"time"

	"AstroBot/entity"
	"AstroBot/internal/lib/ids"
)

// Reply is a remembered outbound event for an already processed message id.
type Reply struct {
	MessageID string               `json:"message_id" bson:"message_id"`
	Event     entity.OutboundEvent `json:"event" bson:"event"`
	At        time.Time            `json:"at" bson:"at"`
}

// Session is the per-user conversation state. Only the engine mutates it;
// stores persist it under optimistic concurrency on Version.
type Session struct {
	UserKey        string         `json:"user_key" bson:"user_key"`
	FlowID         string         `json:"flow_id" bson:"flow_id"`
	StepID         string         `json:"step_id" bson:"step_id"`
	Language       string         `json:"language" bson:"language"`
	Context        map[string]any `json:"context" bson:"context"`
	LastActivityAt time.Time      `json:"last_activity_at" bson:"last_activity_at"`
	Version        int64          `json:"version" bson:"version"`
	ConversationID string         `json:"conversation_id" bson:"conversation_id"`
	Platform       string         `json:"platform,omitempty" bson:"platform,omitempty"`
	ChatID         string         `json:"chat_id,omitempty" bson:"chat_id,omitempty"`
	Replies        []Reply        `json:"replies,omitempty" bson:"replies,omitempty"`
}

// NewSession returns an unsaved session (version 0) for userKey.
func NewSession(userKey string) *Session {
	return &Session{
		UserKey: userKey,
		Context: make(map[string]any),
	}
}

// IsNew reports whether the session has never been placed in a flow.
func (s *Session) IsNew() bool {
	return s.FlowID == ""
}

// Reset moves the session to the given step and starts a new conversation.
// The language survives.
func (s *Session) Reset(flowID, stepID string) {
	s.FlowID = flowID
	s.StepID = stepID
	s.Context = make(map[string]any)
	s.ConversationID = ids.ConversationID()
}

func (s *Session) MoveTo(flowID, stepID string) {
	s.FlowID = flowID
	s.StepID = stepID
}

func (s *Session) GetString(key string) string {
	if v, ok := s.Context[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

func (s *Session) Set(key string, value any) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = value
}

// ReplyFor returns the reply recorded for messageID within window of now.
func (s *Session) ReplyFor(messageID string, now time.Time, window time.Duration) (entity.OutboundEvent, bool) {
	if messageID == "" {
		return entity.OutboundEvent{}, false
	}
	for _, r := range s.Replies {
		if r.MessageID == messageID && now.Sub(r.At) <= window {
			return r.Event, true
		}
	}
	return entity.OutboundEvent{}, false
}

// Remember records the reply for messageID, dropping entries older than
// window and keeping at most size entries.
func (s *Session) Remember(messageID string, ev entity.OutboundEvent, now time.Time, window time.Duration, size int) {
	if messageID == "" || size <= 0 {
		return
	}
	kept := s.Replies[:0:0]
	for _, r := range s.Replies {
		if now.Sub(r.At) <= window && r.MessageID != messageID {
			kept = append(kept, r)
		}
	}
	kept = append(kept, Reply{MessageID: messageID, Event: ev, At: now})
	if len(kept) > size {
		kept = kept[len(kept)-size:]
	}
	s.Replies = kept
}

// Clone returns a copy safe to mutate independently.
func (s *Session) Clone() *Session {
	c := *s
	c.Context = maps.Clone(s.Context)
	if c.Context == nil {
		c.Context = make(map[string]any)
	}
	if s.Replies != nil {
		c.Replies = make([]Reply, len(s.Replies))
		for i, r := range s.Replies {
			r.Event.Options = append([]entity.RenderedOption(nil), r.Event.Options...)
			c.Replies[i] = r
		}
	}
	return &c
}
