package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatengine/internal/types"
)

// Authorize loads the room and checks that userId created it or participates
// in it. It is the only access check for room-scoped operations.
func (s *Service) Authorize(ctx context.Context, roomId, userId string) (*types.Room, error) {
	if roomId == "" {
		return nil, NewValidationError("room id is required")
	}

	dbRoom, err := s.db.GetRoomWithParticipants(ctx, roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFoundError("room")
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	room := roomFromDB(*dbRoom)
	if !room.HasMember(userId) {
		return nil, NewAccessDeniedError("access denied to room")
	}

	return &room, nil
}
