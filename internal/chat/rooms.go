package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/sirupsen/logrus"
)

type CreateRoomParams struct {
	Type           types.RoomType `json:"type" validate:"required,oneof=DIRECT GROUP SUPPORT"`
	Name           *string        `json:"name" validate:"omitempty,max=100"`
	Description    *string        `json:"description" validate:"omitempty,max=500"`
	ParticipantIds []string       `json:"participant_ids" validate:"required,min=1,dive,required"`
}

// directKey identifies the unordered pair of a direct room's participants.
func directKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// CreateRoom creates a room owned by callerId. The creator is always a
// participant. Creating a DIRECT room for a pair that already has one returns
// the existing room.
func (s *Service) CreateRoom(ctx context.Context, callerId string, params CreateRoomParams) (*types.Room, error) {
	if err := s.validateStruct(params); err != nil {
		return nil, err
	}

	ids := dedupe(append([]string{callerId}, params.ParticipantIds...))
	if params.Type == types.RoomTypeDirect && len(ids) != 2 {
		return nil, NewValidationError("a direct room requires exactly two distinct participants")
	}

	users, err := s.resolveUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := users[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, NewValidationError("unknown participants: %s", strings.Join(missing, ", "))
	}

	createParams := database.CreateRoomParams{
		Id:             s.newId(),
		Name:           params.Name,
		Type:           string(params.Type),
		Description:    params.Description,
		CreatedById:    callerId,
		ParticipantIds: ids,
		CreatedAt:      s.now(),
	}
	if params.Type == types.RoomTypeDirect {
		key := directKey(ids[0], ids[1])
		createParams.DirectKey = &key
	}

	dbRoom, created, err := s.db.CreateRoom(ctx, createParams)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	if !created {
		// the caller may have left the conversation since it was created
		if err := s.db.AddParticipant(ctx, dbRoom.Id, callerId, s.now()); err != nil {
			return nil, fmt.Errorf("rejoin direct room: %w", err)
		}
		s.log.WithField("room_id", dbRoom.Id).Debug("reusing existing direct room")
		return s.GetRoom(ctx, dbRoom.Id, callerId)
	}

	s.log.WithFields(logrus.Fields{
		"room_id": dbRoom.Id,
		"type":    dbRoom.Type,
		"members": len(ids),
	}).Info("room created")

	room := roomFromDB(dbRoom)
	for i := range room.Participants {
		room.Participants[i].User = users[room.Participants[i].UserId]
	}
	return &room, nil
}

// CreateDirectRoom returns the direct room between callerId and otherId,
// creating it on first use.
func (s *Service) CreateDirectRoom(ctx context.Context, callerId, otherId string) (*types.Room, error) {
	if strings.TrimSpace(otherId) == "" {
		return nil, NewValidationError("participant id is required")
	}

	return s.CreateRoom(ctx, callerId, CreateRoomParams{
		Type:           types.RoomTypeDirect,
		ParticipantIds: []string{callerId, otherId},
	})
}

func (s *Service) GetRoom(ctx context.Context, roomId, callerId string) (*types.Room, error) {
	room, err := s.Authorize(ctx, roomId, callerId)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		ids = append(ids, p.UserId)
	}

	users, err := s.resolveUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range room.Participants {
		room.Participants[i].User = users[room.Participants[i].UserId]
	}

	return room, nil
}

// ListRooms returns the caller's rooms, most recently active first, each with
// its latest message and the caller's unread count.
func (s *Service) ListRooms(ctx context.Context, callerId string) ([]types.RoomSummary, error) {
	dbRooms, err := s.db.ListRoomsForUser(ctx, callerId)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	var ids []string
	for _, r := range dbRooms {
		for _, p := range r.Participants {
			if !slices.Contains(ids, p.UserId) {
				ids = append(ids, p.UserId)
			}
		}
	}

	users, err := s.resolveUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]types.RoomSummary, 0, len(dbRooms))
	for _, r := range dbRooms {
		summary := types.RoomSummary{
			Room:        roomFromDB(r.Room),
			UnreadCount: r.UnreadCount,
		}
		for i := range summary.Participants {
			summary.Participants[i].User = users[summary.Participants[i].UserId]
		}
		if summary.Type == types.RoomTypeDirect && summary.Name == nil {
			summary.Name = directRoomName(summary.Participants, callerId)
		}
		if r.LastMessage != nil {
			msg := messageFromDB(*r.LastMessage)
			msg.Sender = users[msg.SenderId]
			summary.LastMessage = &msg
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// directRoomName derives a display name from the other participant.
func directRoomName(participants []types.Participant, callerId string) *string {
	for _, p := range participants {
		if p.UserId == callerId || p.User == nil {
			continue
		}
		name := strings.TrimSpace(p.User.FirstName + " " + p.User.LastName)
		if name == "" {
			return nil
		}
		return &name
	}
	return nil
}

// RoomIdsFor lists the rooms userId may access.
func (s *Service) RoomIdsFor(ctx context.Context, userId string) ([]string, error) {
	ids, err := s.db.ListRoomIdsForUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list room ids: %w", err)
	}
	return ids, nil
}

// LeaveRoom removes callerId from the room's participants.
func (s *Service) LeaveRoom(ctx context.Context, roomId, callerId string) error {
	if _, err := s.Authorize(ctx, roomId, callerId); err != nil {
		return err
	}

	if err := s.db.DeleteParticipant(ctx, roomId, callerId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError("participant")
		}
		return fmt.Errorf("delete participant: %w", err)
	}

	s.log.WithFields(logrus.Fields{"room_id": roomId, "user_id": callerId}).Info("participant left room")
	return nil
}
