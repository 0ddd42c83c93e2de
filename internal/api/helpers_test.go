package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-chatengine/internal/auth"
	"github.com/npezzotti/go-chatengine/internal/chat"
	"github.com/npezzotti/go-chatengine/internal/config"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/fanout"
	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/testutil"
	"github.com/stretchr/testify/require"
)

var (
	testSigningKey = []byte("test-signing-key")
	testCreatedAt  = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
)

type testEnv struct {
	app    *ChatApp
	repo   *database.MockChatRepository
	events chan fanout.Envelope
}

// newTestEnv wires the app to the real chat service and gateway over a
// mocked store. Every envelope published on the bus is copied to events.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := &database.MockChatRepository{}
	logger := testutil.TestLogger(t)

	su := stats.NewPermissiveMock()

	bus := fanout.NewLocal()
	events := make(chan fanout.Envelope, 32)
	unsubscribe, err := bus.Subscribe(context.Background(), func(env fanout.Envelope) {
		select {
		case events <- env:
		default:
		}
	})
	require.NoError(t, err)

	svc := chat.NewService(logger, repo, repo)
	cs, err := server.NewChatServer(logger, svc, bus, su)
	require.NoError(t, err)
	go cs.Run()

	app := NewChatApp(http.NewServeMux(), logger, cs, svc, repo, su, &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
		unsubscribe()
		app.accessLog.Close()
		repo.AssertExpectations(t)
	})

	return &testEnv{app: app, repo: repo, events: events}
}

func testToken(t *testing.T, userId string) string {
	t.Helper()
	token, err := auth.NewVerifier(testSigningKey).Sign(auth.Claims{SubjectId: userId, Role: "CUSTOMER"}, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a request through the full handler chain. A string body is sent
// verbatim, anything else is JSON encoded. An empty userId sends no
// credential.
func (e *testEnv) do(t *testing.T, method, target, userId string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, r)
	if userId != "" {
		req.Header.Set("Authorization", "Bearer "+testToken(t, userId))
	}

	rr := httptest.NewRecorder()
	e.app.Handler().ServeHTTP(rr, req)
	return rr
}

type publishedEvent struct {
	RoomId string
	Event  string
	Data   json.RawMessage
}

// nextEvent waits for the next envelope published on the bus.
func (e *testEnv) nextEvent(t *testing.T) publishedEvent {
	t.Helper()
	select {
	case env := <-e.events:
		var payload struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		return publishedEvent{RoomId: env.RoomId, Event: payload.Event, Data: payload.Data}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published event")
		return publishedEvent{}
	}
}

func (e *testEnv) assertNoEvent(t *testing.T) {
	t.Helper()
	select {
	case env := <-e.events:
		t.Errorf("unexpected event published: %s", env.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func testRoom(id string, members ...string) *database.Room {
	room := &database.Room{Id: id, Type: "GROUP", CreatedById: members[0], CreatedAt: testCreatedAt, UpdatedAt: testCreatedAt}
	for _, m := range members {
		room.Participants = append(room.Participants, database.Participant{RoomId: id, UserId: m, JoinedAt: testCreatedAt})
	}
	return room
}

func testMessage(id, roomId, senderId string) database.Message {
	return database.Message{
		Id:        id,
		RoomId:    roomId,
		SenderId:  senderId,
		Content:   "hello",
		Type:      "TEXT",
		CreatedAt: testCreatedAt,
	}
}

func testUsers(ids ...string) []database.User {
	users := make([]database.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, database.User{Id: id, FirstName: "User", LastName: id, Role: "CUSTOMER"})
	}
	return users
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()
	var errResp ApiError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	return errResp
}
