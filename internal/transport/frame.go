package transport

import "encoding/json"

// InboundFrame is a JSON frame received from a session (spec.md §6): the
// tag selects join, leave, message, chat_message, or ping.
type InboundFrame struct {
	Tag            string          `json:"tag"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// OutboundFrame is a JSON frame sent to a session: tag selects message,
// user_online, user_offline, pong, or error.
type OutboundFrame struct {
	Tag     string      `json:"tag"`
	Payload interface{} `json:"payload,omitempty"`
}

const (
	TagJoin        = "join"
	TagLeave       = "leave"
	TagMessage     = "message"
	TagChatMessage = "chat_message"
	TagPing        = "ping"

	TagOutMessage     = "message"
	TagOutUserOnline  = "user_online"
	TagOutUserOffline = "user_offline"
	TagOutPong        = "pong"
	TagOutError       = "error"
)
