package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatengine/internal/auth"
	"github.com/npezzotti/go-chatengine/internal/chat"
	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type CreateDirectRoomRequest struct {
	ParticipantId string `json:"participant_id"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type MarkReadBulkRequest struct {
	MessageIds []string `json:"message_ids"`
}

type ReactionRequest struct {
	Reaction string `json:"reaction"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("json encode")
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := errorFromService(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decodeBody reads a JSON request body into v, writing the error response
// itself on failure.
func (s *ChatApp) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errResp := NewBadRequestError()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errResp = NewRequestTooLargeError()
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}
	return true
}

// caller returns the authenticated user, writing a 401 if there is none.
func (s *ChatApp) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userId, ok := auth.UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
	return userId, ok
}

// fanoutContext detaches a broadcast from the request so that a client
// hanging up after a successful write still gets its event delivered.
func fanoutContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.WithError(err).Error("health check failed")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Write([]byte("OK"))
}

func (s *ChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	var params chat.CreateRoomParams
	if !s.decodeBody(w, r, &params) {
		return
	}

	room, err := s.chat.CreateRoom(r.Context(), userId, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *ChatApp) createDirectRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req CreateDirectRoomRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	room, err := s.chat.CreateDirectRoom(r.Context(), userId, req.ParticipantId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *ChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	rooms, err := s.chat.ListRooms(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *ChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	room, err := s.chat.GetRoom(r.Context(), r.PathValue("id"), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *ChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	roomId := r.PathValue("id")
	if err := s.chat.LeaveRoom(r.Context(), roomId, userId); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.cs.Publish(fanoutContext(r), roomId, server.EventUserLeftRoom, server.RoomMembership{
		RoomId: roomId,
		UserId: userId,
	})
	s.cs.EvictFromRoom(userId, roomId)

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	filter, err := chat.ParseMessageFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.chat.ListMessages(r.Context(), userId, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, page)
}

// searchMessages is listMessages with a mandatory search term. Without a
// room filter it spans every room the caller belongs to.
func (s *ChatApp) searchMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	filter, err := chat.ParseMessageFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(filter.Search) == "" {
		s.writeError(w, r, chat.NewValidationError("search query is required"))
		return
	}

	page, err := s.chat.ListMessages(r.Context(), userId, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *ChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	var params chat.SendMessageParams
	if !s.decodeBody(w, r, &params) {
		return
	}

	msg, err := s.chat.SendMessage(r.Context(), userId, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.stats.Incr(stats.MessagesSent)
	s.cs.Publish(fanoutContext(r), msg.RoomId, server.EventNewMessage, msg)

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req EditMessageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	msg, err := s.chat.EditMessage(r.Context(), userId, r.PathValue("id"), req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.cs.Publish(fanoutContext(r), msg.RoomId, server.EventMessageUpdated, msg)
	s.writeJson(w, http.StatusOK, msg)
}

func (s *ChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	msg, err := s.chat.DeleteMessage(r.Context(), userId, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.cs.Publish(fanoutContext(r), msg.RoomId, server.EventMessageDeleted, server.MessageDeleted{
		MessageId: msg.Id,
		RoomId:    msg.RoomId,
	})
	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	receipt, err := s.chat.MarkRead(r.Context(), userId, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.cs.Publish(fanoutContext(r), receipt.RoomId, server.EventMessageRead, receipt)
	s.writeJson(w, http.StatusOK, receipt)
}

// markReadBulk reports per-message outcomes. Individual failures do not fail
// the request.
func (s *ChatApp) markReadBulk(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req MarkReadBulkRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	res, receipts, err := s.chat.MarkReadBulk(r.Context(), userId, req.MessageIds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := fanoutContext(r)
	for _, receipt := range receipts {
		s.cs.Publish(ctx, receipt.RoomId, server.EventMessageRead, receipt)
	}

	s.writeJson(w, http.StatusOK, res)
}

func (s *ChatApp) toggleReaction(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req ReactionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	change, err := s.chat.ToggleReaction(r.Context(), userId, r.PathValue("id"), req.Reaction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.cs.Publish(fanoutContext(r), change.RoomId, server.EventMessageReaction, change)
	s.writeJson(w, http.StatusOK, change)
}

func (s *ChatApp) unreadCount(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	n, err := s.chat.UnreadCount(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, UnreadCountResponse{Count: n})
}

func (s *ChatApp) presence(w http.ResponseWriter, r *http.Request) {
	users := s.cs.OnlineUsers()
	s.writeJson(w, http.StatusOK, server.OnlineUsers{Users: users, Count: len(users)})
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.caller(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("error upgrading connection")
		return
	}

	client, err := server.NewClient(userId, conn, s.cs, s.log)
	if err != nil {
		s.log.WithError(err).Error("new client")
		conn.Close()
		return
	}

	s.cs.RegisterClient(r.Context(), client)
	go client.Write()
	go client.Read()
}
