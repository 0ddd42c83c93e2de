// Package fanout carries room-scoped events between the gateway processes
// sharing one store.
package fanout

import (
	"context"
	"encoding/json"
	"sync"
)

// Envelope addresses an already encoded event. Global envelopes reach every
// connection, otherwise only subscribers of RoomId receive it. SkipConn
// excludes the originating connection.
type Envelope struct {
	RoomId   string          `json:"room_id,omitempty"`
	Global   bool            `json:"global,omitempty"`
	SkipConn string          `json:"skip_conn,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Handler must not block; it is called on the bus's delivery goroutine.
type Handler func(Envelope)

type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers h and returns once delivery is established.
	Subscribe(ctx context.Context, h Handler) (unsubscribe func(), err error)
}

// Local delivers envelopes to handlers in the same process.
type Local struct {
	mu       sync.RWMutex
	nextId   int
	handlers map[int]Handler
}

func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

func (l *Local) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, h := range l.handlers {
		h(env)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, h Handler) (func(), error) {
	l.mu.Lock()
	id := l.nextId
	l.nextId++
	l.handlers[id] = h
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}, nil
}
