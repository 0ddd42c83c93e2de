// Package server is the realtime gateway: it terminates websocket
// connections, dispatches their events to the chat service and fans results
// out to room subscribers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/npezzotti/go-chatengine/internal/chat"
	"github.com/npezzotti/go-chatengine/internal/fanout"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/sirupsen/logrus"
)

// ChatService is the subset of the chat service the gateway drives.
type ChatService interface {
	Authorize(ctx context.Context, roomId, userId string) (*types.Room, error)
	RoomIdsFor(ctx context.Context, userId string) ([]string, error)
	SendMessage(ctx context.Context, callerId string, params chat.SendMessageParams) (*types.Message, error)
	MarkRead(ctx context.Context, callerId, messageId string) (*types.ReadReceipt, error)
	ToggleReaction(ctx context.Context, callerId, messageId, reaction string) (*types.ReactionChange, error)
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log         *logrus.Logger
	chat        ChatService
	bus         fanout.Bus
	stats       stats.StatsProvider
	sessions    *SessionRegistry
	rooms       *roomIndex
	clients     map[*Client]struct{}
	clientsLock sync.RWMutex
	handlers    map[string]eventHandler
	envelopes   chan fanout.Envelope
	busUnsub    func()
	// ctx outlives individual connections so that a disconnect does not
	// cancel a store write or its broadcast.
	ctx    context.Context
	cancel context.CancelFunc
	stop   chan stopReq
	done   chan struct{}
}

func NewChatServer(logger *logrus.Logger, svc ChatService, bus fanout.Bus, su stats.StatsProvider) (*ChatServer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ChatServer{
		log:       logger,
		chat:      svc,
		bus:       bus,
		stats:     su,
		sessions:  NewSessionRegistry(),
		rooms:     newRoomIndex(),
		clients:   make(map[*Client]struct{}),
		envelopes: make(chan fanout.Envelope, 1024),
		ctx:       ctx,
		cancel:    cancel,
		stop:      make(chan stopReq),
		done:      make(chan struct{}),
	}
	cs.handlers = cs.eventHandlers()

	for _, m := range []string{
		stats.ActiveConnections,
		stats.OnlineUsers,
		stats.RoomSubscriptions,
		stats.MessagesSent,
		stats.EventsDropped,
	} {
		su.RegisterMetric(m)
	}

	unsubscribe, err := bus.Subscribe(ctx, cs.receive)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to fan-out bus: %w", err)
	}
	cs.busUnsub = unsubscribe

	return cs, nil
}

// receive hands an envelope from the bus to the delivery loop.
func (cs *ChatServer) receive(env fanout.Envelope) {
	select {
	case cs.envelopes <- env:
	case <-cs.done:
	}
}

func (cs *ChatServer) Run() {
	for {
		select {
		case env := <-cs.envelopes:
			cs.deliver(env)
		case req := <-cs.stop:
			cs.log.Info("shutting down chat server")
			// release publishers blocked in receive before the bus
			// waits on them in unsubscribe
			close(cs.done)
			cs.busUnsub()
			for _, c := range cs.getClients() {
				c.stopClient()
			}
			cs.cancel()
			close(req.done)
			return
		}
	}
}

// deliver queues env on every local connection it addresses.
func (cs *ChatServer) deliver(env fanout.Envelope) {
	var targets []*Client
	if env.Global {
		targets = cs.getClients()
	} else {
		targets = cs.rooms.subscribers(env.RoomId)
	}

	for _, c := range targets {
		if env.SkipConn != "" && c.id == env.SkipConn {
			continue
		}
		c.queueBytes(env.Payload)
	}
}

func (cs *ChatServer) getClients() []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	return clients
}

// RegisterClient makes an authenticated connection live: it is subscribed to
// every room its user belongs to and, on the user's first connection, the
// user is announced online.
func (cs *ChatServer) RegisterClient(ctx context.Context, c *Client) {
	roomIds, err := cs.chat.RoomIdsFor(ctx, c.userId)
	if err != nil {
		c.log.WithError(err).Warn("failed to load rooms for auto-join")
	}

	cs.clientsLock.Lock()
	cs.clients[c] = struct{}{}
	cs.clientsLock.Unlock()
	cs.stats.Incr(stats.ActiveConnections)

	for _, id := range roomIds {
		cs.subscribe(c, id)
	}

	if cs.sessions.Register(c.id, c.userId) {
		cs.stats.Incr(stats.OnlineUsers)
		cs.publishGlobal(EventUserOnline, Presence{UserId: c.userId})
	}

	c.log.WithField("rooms", len(roomIds)).Info("client connected")
}

// DeRegisterClient removes the connection from all rooms and the session
// registry. It is safe to call more than once.
func (cs *ChatServer) DeRegisterClient(c *Client) {
	cs.clientsLock.Lock()
	_, ok := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()
	if !ok {
		return
	}

	for _, id := range cs.rooms.roomsOf(c) {
		cs.unsubscribe(c, id)
	}
	cs.stats.Decr(stats.ActiveConnections)

	if userId, last, ok := cs.sessions.Unregister(c.id); ok && last {
		cs.stats.Decr(stats.OnlineUsers)
		cs.publishGlobal(EventUserOffline, Presence{UserId: userId})
	}

	c.log.Info("client disconnected")
}

func (cs *ChatServer) subscribe(c *Client, roomId string) bool {
	if !cs.rooms.subscribe(roomId, c) {
		return false
	}
	cs.stats.Incr(stats.RoomSubscriptions)
	return true
}

func (cs *ChatServer) unsubscribe(c *Client, roomId string) bool {
	if !cs.rooms.unsubscribe(roomId, c) {
		return false
	}
	cs.stats.Decr(stats.RoomSubscriptions)
	return true
}

// EvictFromRoom unsubscribes every local connection of userId from roomId.
func (cs *ChatServer) EvictFromRoom(userId, roomId string) int {
	var n int
	for _, c := range cs.rooms.subscribers(roomId) {
		if c.userId == userId && cs.unsubscribe(c, roomId) {
			n++
		}
	}
	return n
}

// Publish fans an event out to every subscriber of roomId on every gateway
// process.
func (cs *ChatServer) Publish(ctx context.Context, roomId, event string, data any) {
	cs.publish(ctx, fanout.Envelope{RoomId: roomId}, event, data)
}

func (cs *ChatServer) publishGlobal(event string, data any) {
	cs.publish(cs.ctx, fanout.Envelope{Global: true}, event, data)
}

func (cs *ChatServer) publishExcept(c *Client, roomId, event string, data any) {
	cs.publish(cs.ctx, fanout.Envelope{RoomId: roomId, SkipConn: c.id}, event, data)
}

func (cs *ChatServer) publish(ctx context.Context, env fanout.Envelope, event string, data any) {
	payload, err := json.Marshal(NewServerMessage(event, data))
	if err != nil {
		cs.log.WithError(err).WithField("event", event).Error("failed to encode event")
		return
	}
	env.Payload = payload

	if err := cs.bus.Publish(ctx, env); err != nil {
		cs.stats.Incr(stats.EventsDropped)
		cs.log.WithError(err).WithFields(logrus.Fields{
			"event":   event,
			"room_id": env.RoomId,
		}).Error("failed to publish event")
	}
}

func (cs *ChatServer) OnlineUsers() []string {
	return cs.sessions.ListOnline()
}

func (cs *ChatServer) OnlineCount() int {
	return cs.sessions.OnlineCount()
}

func (cs *ChatServer) IsOnline(userId string) bool {
	return cs.sessions.IsOnline(userId)
}

// Shutdown stops delivery and closes every connection.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		cs.log.Info("chat server shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
