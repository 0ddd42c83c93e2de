package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/go-chatengine/internal/chat"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/fanout"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Id    int             `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newMockStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(5)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

// newTestChatServer runs a chat server backed by the real chat service over
// a mocked store and an in-process bus.
func newTestChatServer(t *testing.T) (*ChatServer, *database.MockChatRepository) {
	t.Helper()
	repo := &database.MockChatRepository{}
	logger := testutil.TestLogger(t)
	svc := chat.NewService(logger, repo, repo)

	cs, err := NewChatServer(logger, svc, fanout.NewLocal(), newMockStats())
	require.NoError(t, err)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})
	return cs, repo
}

func newTestClient(t *testing.T, cs *ChatServer, id, userId string) *Client {
	return &Client{
		id:         id,
		userId:     userId,
		chatServer: cs,
		log:        testutil.TestLogger(t).WithField("conn_id", id),
		send:       make(chan []byte, sendBufferSize),
		stop:       make(chan struct{}),
	}
}

func testRoom(id string, members ...string) *database.Room {
	room := &database.Room{Id: id, Type: "GROUP", CreatedById: members[0]}
	for _, m := range members {
		room.Participants = append(room.Participants, database.Participant{RoomId: id, UserId: m})
	}
	return room
}

// nextEvent returns the next frame carrying event, discarding others.
func nextEvent(t *testing.T, c *Client, event string) frame {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case b := <-c.send:
			var f frame
			require.NoError(t, json.Unmarshal(b, &f))
			if f.Event == event {
				return f
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q on %s", event, c.id)
			return frame{}
		}
	}
}

// assertNoEvent fails if event reaches c within wait.
func assertNoEvent(t *testing.T, c *Client, event string, wait time.Duration) {
	t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case b := <-c.send:
			var f frame
			require.NoError(t, json.Unmarshal(b, &f))
			if f.Event == event {
				t.Errorf("unexpected %q delivered to %s", event, c.id)
				return
			}
		case <-timeout:
			return
		}
	}
}

func clientMessage(t *testing.T, id int, event string, data any) *ClientMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &ClientMessage{BaseMessage: BaseMessage{Id: id, Event: event}, Data: raw}
}
