// Package chat implements room authorization and the message lifecycle on top
// of the durable store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	MaxContentLength = 4000
	DefaultPageSize  = 20
	MaxPageSize      = 100
	// keeps (MaxPage-1)*MaxPageSize well inside an int offset
	MaxPage          = 1000000
)

// UserDirectory resolves platform users by id. Ids that do not exist are
// omitted from the result.
type UserDirectory interface {
	ResolveUsers(ctx context.Context, ids []string) ([]database.User, error)
}

type Service struct {
	log      *logrus.Logger
	db       database.ChatRepository
	users    UserDirectory
	validate *validator.Validate
	now      func() time.Time
	newId    func() string
}

func NewService(logger *logrus.Logger, db database.ChatRepository, users UserDirectory) *Service {
	return &Service{
		log:      logger,
		db:       db,
		users:    users,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      Now,
		newId:    uuid.NewString,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// validateStruct runs struct tag validation and converts failures into a
// ValidationError naming the offending fields.
func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed on %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return NewValidationError("invalid input: %s", strings.Join(fields, ", "))
}

func (s *Service) resolveUsers(ctx context.Context, ids []string) (map[string]*types.User, error) {
	if len(ids) == 0 {
		return map[string]*types.User{}, nil
	}

	users, err := s.users.ResolveUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}

	res := make(map[string]*types.User, len(users))
	for _, u := range users {
		res[u.Id] = userFromDB(u)
	}
	return res, nil
}

func userFromDB(u database.User) *types.User {
	user := &types.User{
		Id:        u.Id,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
	if u.ProfilePicture != nil {
		user.ProfilePicture = *u.ProfilePicture
	}
	return user
}

func roomFromDB(r database.Room) types.Room {
	room := types.Room{
		Id:           r.Id,
		Name:         r.Name,
		Type:         types.RoomType(r.Type),
		Description:  r.Description,
		CreatedById:  r.CreatedById,
		Participants: make([]types.Participant, 0, len(r.Participants)),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	for _, p := range r.Participants {
		room.Participants = append(room.Participants, types.Participant{
			UserId:   p.UserId,
			JoinedAt: p.JoinedAt,
		})
	}
	return room
}

func messageFromDB(m database.Message) types.Message {
	return types.Message{
		Id:             m.Id,
		RoomId:         m.RoomId,
		SenderId:       m.SenderId,
		Content:        m.Content,
		Type:           types.MessageType(m.Type),
		AttachmentUrl:  m.AttachmentUrl,
		AttachmentName: m.AttachmentName,
		ReplyToId:      m.ReplyToId,
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		CreatedAt:      m.CreatedAt,
	}
}

// dedupe returns ids without blanks or repeats, preserving first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res
}
