package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-chatengine/internal/chat"
)

// Inbound events.
const (
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventSendMessage    = "send-message"
	EventTyping         = "typing"
	EventMarkRead       = "mark-read"
	EventToggleReaction = "toggle-reaction"
	EventListOnline     = "list-online"
)

// Outbound events.
const (
	EventJoinedRoom      = "joined-room"
	EventUserJoinedRoom  = "user-joined-room"
	EventLeftRoom        = "left-room"
	EventUserLeftRoom    = "user-left-room"
	EventNewMessage      = "new-message"
	EventUserTyping      = "user-typing"
	EventMessageRead     = "message-read"
	EventMessageReaction = "message-reaction"
	EventMessageUpdated  = "message-updated"
	EventMessageDeleted  = "message-deleted"
	EventOnlineUsers     = "online-users"
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventError           = "error"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame received from a connection. Id is chosen by the
// client and echoed on replies.
type ClientMessage struct {
	BaseMessage
	Data json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Data any `json:"data,omitempty"`
}

type RoomRef struct {
	RoomId string `json:"room_id"`
}

type Typing struct {
	RoomId   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type MarkRead struct {
	MessageId string `json:"message_id"`
}

type ToggleReaction struct {
	MessageId string `json:"message_id"`
	Reaction  string `json:"reaction"`
}

type RoomMembership struct {
	RoomId string `json:"room_id"`
	UserId string `json:"user_id"`
}

type UserTyping struct {
	RoomId   string `json:"room_id"`
	UserId   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type Presence struct {
	UserId string `json:"user_id"`
}

type OnlineUsers struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type MessageDeleted struct {
	MessageId string `json:"message_id"`
	RoomId    string `json:"room_id"`
}

// ErrorData describes a failed request. Message names the operation, Error
// the cause and Code its class.
type ErrorData struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func NewServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Event:     event,
			Timestamp: chat.Now(),
		},
		Data: data,
	}
}

// reply builds a response correlated with the request id.
func reply(id int, event string, data any) *ServerMessage {
	msg := NewServerMessage(event, data)
	msg.Id = id
	return msg
}

func ErrorMessage(id int, operation string, err error) *ServerMessage {
	return reply(id, EventError, ErrorData{
		Message: operation,
		Error:   chat.PublicMessage(err),
		Code:    chat.KindOf(err).String(),
	})
}

func ErrInvalidMessage(id int) *ServerMessage {
	return reply(id, EventError, ErrorData{
		Message: "invalid message",
		Error:   "invalid message format",
		Code:    chat.KindValidation.String(),
	})
}

func ErrUnknownEvent(id int, event string) *ServerMessage {
	return reply(id, EventError, ErrorData{
		Message: "unknown event " + event,
		Error:   "unsupported event",
		Code:    chat.KindValidation.String(),
	})
}
