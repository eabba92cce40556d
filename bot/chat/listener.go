package chat

import "AstroBot/entity"

// MessageListener observes every inbound message and outbound reply so they
// can be stored and shown to operators without the engine knowing about it.
type MessageListener interface {
	SaveAndBroadcastChatMessage(msg entity.ChatMessage)
}
