package server

import (
	"encoding/json"

	"github.com/npezzotti/go-chatengine/internal/chat"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/sirupsen/logrus"
)

type eventHandler func(c *Client, msg *ClientMessage)

func (cs *ChatServer) eventHandlers() map[string]eventHandler {
	return map[string]eventHandler{
		EventJoinRoom:       cs.handleJoinRoom,
		EventLeaveRoom:      cs.handleLeaveRoom,
		EventSendMessage:    cs.handleSendMessage,
		EventTyping:         cs.handleTyping,
		EventMarkRead:       cs.handleMarkRead,
		EventToggleReaction: cs.handleToggleReaction,
		EventListOnline:     cs.handleListOnline,
	}
}

func (cs *ChatServer) dispatch(c *Client, msg *ClientMessage) {
	h, ok := cs.handlers[msg.Event]
	if !ok {
		c.queueMessage(ErrUnknownEvent(msg.Id, msg.Event))
		return
	}

	c.log.WithFields(logrus.Fields{"event": msg.Event, "id": msg.Id}).Debug("received event")
	h(c, msg)
}

// decode unmarshals the event payload, replying with an error on failure.
func decode(c *Client, msg *ClientMessage, v any) bool {
	if len(msg.Data) == 0 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return false
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.log.WithError(err).WithField("event", msg.Event).Debug("invalid payload")
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return false
	}
	return true
}

func (cs *ChatServer) fail(c *Client, msg *ClientMessage, operation string, err error) {
	if chat.KindOf(err) == chat.KindInternal {
		c.log.WithError(err).WithField("event", msg.Event).Error(operation)
	}
	c.queueMessage(ErrorMessage(msg.Id, operation, err))
}

func (cs *ChatServer) handleJoinRoom(c *Client, msg *ClientMessage) {
	var req RoomRef
	if !decode(c, msg, &req) {
		return
	}

	if _, err := cs.chat.Authorize(cs.ctx, req.RoomId, c.userId); err != nil {
		cs.fail(c, msg, "failed to join room", err)
		return
	}

	joined := cs.subscribe(c, req.RoomId)
	c.queueMessage(reply(msg.Id, EventJoinedRoom, req))
	if joined {
		cs.publishExcept(c, req.RoomId, EventUserJoinedRoom, RoomMembership{RoomId: req.RoomId, UserId: c.userId})
	}
}

func (cs *ChatServer) handleLeaveRoom(c *Client, msg *ClientMessage) {
	var req RoomRef
	if !decode(c, msg, &req) {
		return
	}

	left := cs.unsubscribe(c, req.RoomId)
	c.queueMessage(reply(msg.Id, EventLeftRoom, req))
	if left {
		cs.publishExcept(c, req.RoomId, EventUserLeftRoom, RoomMembership{RoomId: req.RoomId, UserId: c.userId})
	}
}

func (cs *ChatServer) handleSendMessage(c *Client, msg *ClientMessage) {
	var params chat.SendMessageParams
	if !decode(c, msg, &params) {
		return
	}

	sent, err := cs.chat.SendMessage(cs.ctx, c.userId, params)
	if err != nil {
		cs.fail(c, msg, "failed to send message", err)
		return
	}

	cs.stats.Incr(stats.MessagesSent)
	// the sender's connection must see its own message even if it never joined
	cs.subscribe(c, sent.RoomId)
	cs.Publish(cs.ctx, sent.RoomId, EventNewMessage, sent)
}

// handleTyping relays typing state to the room's other subscribers. Only a
// connection subscribed to the room may signal typing in it.
func (cs *ChatServer) handleTyping(c *Client, msg *ClientMessage) {
	var req Typing
	if !decode(c, msg, &req) {
		return
	}

	if !cs.rooms.isSubscribed(req.RoomId, c) {
		cs.fail(c, msg, "failed to send typing state", chat.NewAccessDeniedError("not subscribed to room"))
		return
	}

	cs.publishExcept(c, req.RoomId, EventUserTyping, UserTyping{
		RoomId:   req.RoomId,
		UserId:   c.userId,
		IsTyping: req.IsTyping,
	})
}

func (cs *ChatServer) handleMarkRead(c *Client, msg *ClientMessage) {
	var req MarkRead
	if !decode(c, msg, &req) {
		return
	}

	receipt, err := cs.chat.MarkRead(cs.ctx, c.userId, req.MessageId)
	if err != nil {
		cs.fail(c, msg, "failed to mark message as read", err)
		return
	}

	cs.Publish(cs.ctx, receipt.RoomId, EventMessageRead, receipt)
}

func (cs *ChatServer) handleToggleReaction(c *Client, msg *ClientMessage) {
	var req ToggleReaction
	if !decode(c, msg, &req) {
		return
	}

	change, err := cs.chat.ToggleReaction(cs.ctx, c.userId, req.MessageId, req.Reaction)
	if err != nil {
		cs.fail(c, msg, "failed to toggle reaction", err)
		return
	}

	cs.Publish(cs.ctx, change.RoomId, EventMessageReaction, change)
}

func (cs *ChatServer) handleListOnline(c *Client, msg *ClientMessage) {
	users := cs.sessions.ListOnline()
	c.queueMessage(reply(msg.Id, EventOnlineUsers, OnlineUsers{Users: users, Count: len(users)}))
}
