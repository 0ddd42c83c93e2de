package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.repo.On("Ping", mock.Anything).Return(tc.mockErr).Once()

			rr := env.do(t, http.MethodGet, "/healthz", "", nil)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestRoutesRequireCredential(t *testing.T) {
	env := newTestEnv(t)

	for _, route := range []struct{ method, target string }{
		{http.MethodGet, "/api/rooms"},
		{http.MethodPost, "/api/rooms"},
		{http.MethodGet, "/api/messages?room_id=room-1"},
		{http.MethodPost, "/api/messages"},
		{http.MethodPut, "/api/messages/msg-1"},
		{http.MethodGet, "/api/presence"},
		{http.MethodGet, "/ws"},
	} {
		rr := env.do(t, route.method, route.target, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", route.method, route.target)
	}
}

func Test_createRoom(t *testing.T) {
	t.Run("creates group room", func(t *testing.T) {
		env := newTestEnv(t)
		name := "project"
		env.repo.On("ResolveUsers", mock.Anything, []string{"user-a", "user-b"}).Return(testUsers("user-a", "user-b"), nil).Once()
		env.repo.On("CreateRoom", mock.Anything, mock.MatchedBy(func(p database.CreateRoomParams) bool {
			return p.Type == "GROUP" && p.CreatedById == "user-a" && p.DirectKey == nil
		})).Return(database.Room{
			Id:           "room-1",
			Name:         &name,
			Type:         "GROUP",
			CreatedById:  "user-a",
			Participants: testRoom("room-1", "user-a", "user-b").Participants,
		}, true, nil).Once()

		rr := env.do(t, http.MethodPost, "/api/rooms", "user-a", map[string]any{
			"type":            "GROUP",
			"name":            name,
			"participant_ids": []string{"user-b"},
		})

		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		var room types.Room
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &room))
		assert.Equal(t, "room-1", room.Id)
		assert.Len(t, room.Participants, 2)
	})

	t.Run("rejects unknown room type", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(t, http.MethodPost, "/api/rooms", "user-a", map[string]any{
			"type":            "BROADCAST",
			"participant_ids": []string{"user-b"},
		})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(t, http.MethodPost, "/api/rooms", "user-a", "invalid json")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "bad request", decodeError(t, rr).Message)
	})
}

func Test_getRoom(t *testing.T) {
	tcases := []struct {
		name       string
		roomId     string
		room       *database.Room
		roomErr    error
		statusCode int
	}{
		{
			name:       "participant",
			roomId:     "room-1",
			room:       testRoom("room-1", "user-a", "user-b"),
			statusCode: http.StatusOK,
		},
		{
			name:       "non-participant",
			roomId:     "room-2",
			room:       testRoom("room-2", "user-b", "user-c"),
			statusCode: http.StatusForbidden,
		},
		{
			name:       "missing room",
			roomId:     "room-404",
			roomErr:    sql.ErrNoRows,
			statusCode: http.StatusNotFound,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.repo.On("GetRoomWithParticipants", mock.Anything, tc.roomId).Return(tc.room, tc.roomErr).Once()
			if tc.statusCode == http.StatusOK {
				env.repo.On("ResolveUsers", mock.Anything, mock.Anything).Return(testUsers("user-a", "user-b"), nil).Once()
			}

			rr := env.do(t, http.MethodGet, "/api/rooms/"+tc.roomId, "user-a", nil)

			assert.Equal(t, tc.statusCode, rr.Code, rr.Body.String())
			if tc.statusCode == http.StatusOK {
				var room types.Room
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &room))
				assert.Equal(t, tc.roomId, room.Id)
				require.NotNil(t, room.Participants[1].User)
				assert.Equal(t, "user-b", room.Participants[1].User.LastName)
			}
		})
	}
}

func Test_leaveRoom(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(testRoom("room-1", "user-a", "user-b"), nil).Once()
	env.repo.On("DeleteParticipant", mock.Anything, "room-1", "user-b").Return(nil).Once()

	rr := env.do(t, http.MethodDelete, "/api/rooms/room-1/participants/me", "user-b", nil)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	ev := env.nextEvent(t)
	assert.Equal(t, server.EventUserLeftRoom, ev.Event)
	assert.Equal(t, "room-1", ev.RoomId)
	assert.JSONEq(t, `{"room_id":"room-1","user_id":"user-b"}`, string(ev.Data))
}

func Test_sendMessage(t *testing.T) {
	t.Run("stores and fans out", func(t *testing.T) {
		env := newTestEnv(t)
		env.repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(testRoom("room-1", "user-a", "user-b"), nil).Once()
		env.repo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.RoomId == "room-1" && p.SenderId == "user-a" && p.Content == "hello" && p.Type == "TEXT"
		})).Return(testMessage("msg-1", "room-1", "user-a"), nil).Once()
		env.repo.On("TouchRoom", mock.Anything, "room-1", mock.Anything).Return(nil).Once()
		env.repo.On("ResolveUsers", mock.Anything, []string{"user-a"}).Return(testUsers("user-a"), nil).Once()

		rr := env.do(t, http.MethodPost, "/api/messages", "user-a", map[string]any{
			"room_id": "room-1",
			"content": "  hello  ",
		})

		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		var msg types.Message
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
		assert.Equal(t, "msg-1", msg.Id)
		require.NotNil(t, msg.Sender)
		assert.Equal(t, "user-a", msg.Sender.Id)

		ev := env.nextEvent(t)
		assert.Equal(t, server.EventNewMessage, ev.Event)
		assert.Equal(t, "room-1", ev.RoomId)
	})

	tcases := []struct {
		name       string
		userId     string
		body       any
		setup      func(repo *database.MockChatRepository)
		statusCode int
	}{
		{
			name:       "missing credential",
			body:       map[string]any{"room_id": "room-1", "content": "hello"},
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "invalid json",
			userId:     "user-a",
			body:       "{",
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "empty content",
			userId:     "user-a",
			body:       map[string]any{"room_id": "room-1", "content": "   "},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "content too long",
			userId:     "user-a",
			body:       map[string]any{"room_id": "room-1", "content": strings.Repeat("x", 4001)},
			statusCode: http.StatusBadRequest,
		},
		{
			name:   "non-participant",
			userId: "user-a",
			body:   map[string]any{"room_id": "room-1", "content": "hello"},
			setup: func(repo *database.MockChatRepository) {
				repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(testRoom("room-1", "user-b", "user-c"), nil).Once()
			},
			statusCode: http.StatusForbidden,
		},
		{
			name:   "store failure",
			userId: "user-a",
			body:   map[string]any{"room_id": "room-1", "content": "hello"},
			setup: func(repo *database.MockChatRepository) {
				repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(nil, errors.New("connection reset")).Once()
			},
			statusCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tc.setup != nil {
				tc.setup(env.repo)
			}

			rr := env.do(t, http.MethodPost, "/api/messages", tc.userId, tc.body)

			assert.Equal(t, tc.statusCode, rr.Code, rr.Body.String())
			assert.NotContains(t, rr.Body.String(), "connection reset", "expected internal causes to stay hidden")
			env.assertNoEvent(t)
		})
	}
}

func Test_editMessage(t *testing.T) {
	t.Run("sender edits", func(t *testing.T) {
		env := newTestEnv(t)
		edited := testMessage("msg-1", "room-1", "user-a")
		edited.Content = "edited"
		edited.IsEdited = true
		editedAt := testCreatedAt.Add(time.Minute)
		edited.EditedAt = &editedAt

		env.repo.On("GetMessage", mock.Anything, "msg-1").Return(testMessage("msg-1", "room-1", "user-a"), nil).Once()
		env.repo.On("UpdateMessageContent", mock.Anything, "msg-1", "edited", mock.Anything).Return(edited, nil).Once()
		env.repo.On("ResolveUsers", mock.Anything, []string{"user-a"}).Return(testUsers("user-a"), nil).Once()

		rr := env.do(t, http.MethodPut, "/api/messages/msg-1", "user-a", EditMessageRequest{Content: "edited"})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var msg types.Message
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
		assert.True(t, msg.IsEdited)
		assert.Equal(t, "edited", msg.Content)

		ev := env.nextEvent(t)
		assert.Equal(t, server.EventMessageUpdated, ev.Event)
		assert.Equal(t, "room-1", ev.RoomId)
	})

	t.Run("other user is denied", func(t *testing.T) {
		env := newTestEnv(t)
		env.repo.On("GetMessage", mock.Anything, "msg-1").Return(testMessage("msg-1", "room-1", "user-a"), nil).Once()

		rr := env.do(t, http.MethodPut, "/api/messages/msg-1", "user-b", EditMessageRequest{Content: "edited"})

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "only the sender can edit this message", decodeError(t, rr).Message)
		env.assertNoEvent(t)
	})
}

func Test_deleteMessage(t *testing.T) {
	tcases := []struct {
		name       string
		userId     string
		stored     database.Message
		getErr     error
		statusCode int
	}{
		{
			name:       "sender deletes",
			userId:     "user-a",
			stored:     testMessage("msg-1", "room-1", "user-a"),
			statusCode: http.StatusNoContent,
		},
		{
			name:       "other user is denied",
			userId:     "user-b",
			stored:     testMessage("msg-1", "room-1", "user-a"),
			statusCode: http.StatusForbidden,
		},
		{
			name:       "missing message",
			userId:     "user-a",
			stored:     database.Message{},
			getErr:     sql.ErrNoRows,
			statusCode: http.StatusNotFound,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.repo.On("GetMessage", mock.Anything, "msg-1").Return(tc.stored, tc.getErr).Once()
			if tc.statusCode == http.StatusNoContent {
				env.repo.On("DeleteMessage", mock.Anything, "msg-1").Return(nil).Once()
			}

			rr := env.do(t, http.MethodDelete, "/api/messages/msg-1", tc.userId, nil)

			assert.Equal(t, tc.statusCode, rr.Code, rr.Body.String())
			if tc.statusCode == http.StatusNoContent {
				ev := env.nextEvent(t)
				assert.Equal(t, server.EventMessageDeleted, ev.Event)
				assert.JSONEq(t, `{"message_id":"msg-1","room_id":"room-1"}`, string(ev.Data))
			} else {
				env.assertNoEvent(t)
			}
		})
	}
}

func Test_markRead(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("GetMessage", mock.Anything, "msg-1").Return(testMessage("msg-1", "room-1", "user-a"), nil).Once()
	env.repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(testRoom("room-1", "user-a", "user-b"), nil).Once()
	env.repo.On("UpsertRead", mock.Anything, "msg-1", "user-b", mock.Anything).
		Return(database.MessageRead{MessageId: "msg-1", UserId: "user-b", ReadAt: testCreatedAt}, nil).Once()

	rr := env.do(t, http.MethodPost, "/api/messages/msg-1/read", "user-b", nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var receipt types.ReadReceipt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &receipt))
	assert.Equal(t, types.ReadReceipt{MessageId: "msg-1", RoomId: "room-1", UserId: "user-b", ReadAt: testCreatedAt}, receipt)

	ev := env.nextEvent(t)
	assert.Equal(t, server.EventMessageRead, ev.Event)
	assert.Equal(t, "room-1", ev.RoomId)
}

func Test_markReadBulk(t *testing.T) {
	t.Run("reports per message outcome", func(t *testing.T) {
		env := newTestEnv(t)
		env.repo.On("GetMessage", mock.Anything, "msg-1").Return(testMessage("msg-1", "room-1", "user-a"), nil).Once()
		env.repo.On("GetMessage", mock.Anything, "msg-404").Return(database.Message{}, sql.ErrNoRows).Once()
		env.repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(testRoom("room-1", "user-a", "user-b"), nil).Once()
		env.repo.On("UpsertRead", mock.Anything, "msg-1", "user-b", mock.Anything).
			Return(database.MessageRead{MessageId: "msg-1", UserId: "user-b", ReadAt: testCreatedAt}, nil).Once()

		rr := env.do(t, http.MethodPost, "/api/messages/read", "user-b", MarkReadBulkRequest{
			MessageIds: []string{"msg-1", "msg-404", "msg-1"},
		})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var res types.BulkResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
		assert.Equal(t, types.BulkResult{
			Processed:  2,
			Successful: 1,
			Failed:     1,
			Errors:     map[string]string{"msg-404": "message not found"},
		}, res)

		ev := env.nextEvent(t)
		assert.Equal(t, server.EventMessageRead, ev.Event)
		env.assertNoEvent(t)
	})

	t.Run("rejects empty batch", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(t, http.MethodPost, "/api/messages/read", "user-b", MarkReadBulkRequest{})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_toggleReaction(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("GetMessage", mock.Anything, "msg-1").Return(testMessage("msg-1", "room-1", "user-a"), nil).Twice()
	env.repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(testRoom("room-1", "user-a", "user-b"), nil).Twice()
	env.repo.On("ToggleReaction", mock.Anything, "msg-1", "user-b", "👍").Return(true, nil).Once()
	env.repo.On("ToggleReaction", mock.Anything, "msg-1", "user-b", "👍").Return(false, nil).Once()

	for _, added := range []bool{true, false} {
		rr := env.do(t, http.MethodPost, "/api/messages/msg-1/reactions", "user-b", ReactionRequest{Reaction: "👍"})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var change types.ReactionChange
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &change))
		assert.Equal(t, added, change.Added)

		ev := env.nextEvent(t)
		assert.Equal(t, server.EventMessageReaction, ev.Event)
		assert.Equal(t, "room-1", ev.RoomId)
	}
}

func Test_listMessages(t *testing.T) {
	t.Run("paginates a room", func(t *testing.T) {
		env := newTestEnv(t)
		env.repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(testRoom("room-1", "user-a", "user-b"), nil).Once()
		env.repo.On("ListMessages", mock.Anything, mock.MatchedBy(func(q database.MessageQuery) bool {
			return q.RoomId == "room-1" && q.MemberId == "" && q.Limit == 10 && q.Offset == 10 && !q.Ascending
		})).Return([]database.Message{}, 45, nil).Once()

		rr := env.do(t, http.MethodGet, "/api/messages?room_id=room-1&page=2&limit=10", "user-a", nil)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.JSONEq(t, `{"messages":[],"total":45,"page":2,"page_size":10,"total_pages":5}`, rr.Body.String())
	})

	t.Run("malformed page", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(t, http.MethodGet, "/api/messages?room_id=room-1&page=abc", "user-a", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("page past the offset range", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(t, http.MethodGet, "/api/messages?room_id=room-1&page=9223372036854775807", "user-a", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		env.repo.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything)
	})

	t.Run("non-participant", func(t *testing.T) {
		env := newTestEnv(t)
		env.repo.On("GetRoomWithParticipants", mock.Anything, "room-1").Return(testRoom("room-1", "user-b", "user-c"), nil).Once()

		rr := env.do(t, http.MethodGet, "/api/messages?room_id=room-1", "user-a", nil)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func Test_searchMessages(t *testing.T) {
	t.Run("searches the caller's rooms", func(t *testing.T) {
		env := newTestEnv(t)
		env.repo.On("ListMessages", mock.Anything, mock.MatchedBy(func(q database.MessageQuery) bool {
			return q.RoomId == "" && q.MemberId == "user-a" && q.Search == "invoice"
		})).Return([]database.Message{}, 0, nil).Once()

		rr := env.do(t, http.MethodGet, "/api/messages/search?q=invoice", "user-a", nil)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.JSONEq(t, `{"messages":[],"total":0,"page":1,"page_size":20,"total_pages":0}`, rr.Body.String())
	})

	t.Run("requires a query", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(t, http.MethodGet, "/api/messages/search?q=%20", "user-a", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "search query is required", decodeError(t, rr).Message)
	})
}

func Test_unreadCount(t *testing.T) {
	t.Run("counts", func(t *testing.T) {
		env := newTestEnv(t)
		env.repo.On("CountUnread", mock.Anything, "user-a").Return(3, nil).Once()

		rr := env.do(t, http.MethodGet, "/api/messages/unread-count", "user-a", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"count":3}`, rr.Body.String())
	})

	t.Run("store failure is hidden", func(t *testing.T) {
		env := newTestEnv(t)
		env.repo.On("CountUnread", mock.Anything, "user-a").Return(0, errors.New("db down")).Once()

		rr := env.do(t, http.MethodGet, "/api/messages/unread-count", "user-a", nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "internal server error", decodeError(t, rr).Message)
		assert.NotContains(t, rr.Body.String(), "db down")
	})
}

func Test_presence(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/presence", "user-a", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"users":[],"count":0}`, rr.Body.String())
}

func Test_serveWs(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("ListRoomIdsForUser", mock.Anything, "user-a").Return([]string{}, nil).Once()

	srv := httptest.NewServer(env.app.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("rejects missing credential before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects foreign origin", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://evil.example"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+testToken(t, "user-b"), header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("authenticated connection", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+testToken(t, "user-a"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{"id": 7, "event": server.EventListOnline}))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var f struct {
				Id    int             `json:"id"`
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			require.NoError(t, conn.ReadJSON(&f))
			if f.Event != server.EventOnlineUsers {
				continue
			}
			assert.Equal(t, 7, f.Id)
			assert.JSONEq(t, `{"users":["user-a"],"count":1}`, string(f.Data))
			break
		}
	})
}
