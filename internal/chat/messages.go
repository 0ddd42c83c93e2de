package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	MaxReactionLength = 32
	MaxBulkReadSize   = 100
)

type SendMessageParams struct {
	RoomId         string            `json:"room_id" validate:"required"`
	Content        string            `json:"content" validate:"required_without=AttachmentUrl,max=4000"`
	Type           types.MessageType `json:"type" validate:"omitempty,oneof=TEXT IMAGE FILE AUDIO SYSTEM"`
	AttachmentUrl  *string           `json:"attachment_url" validate:"omitempty,url"`
	AttachmentName *string           `json:"attachment_name" validate:"omitempty,max=255"`
	ReplyToId      *string           `json:"reply_to_id"`
}

// SendMessage stores a message from callerId in an authorized room and bumps
// the room's activity timestamp.
func (s *Service) SendMessage(ctx context.Context, callerId string, params SendMessageParams) (*types.Message, error) {
	params.Content = strings.TrimSpace(params.Content)
	if err := s.validateStruct(params); err != nil {
		return nil, err
	}
	if params.Type == "" {
		params.Type = types.MessageTypeText
	}

	if _, err := s.Authorize(ctx, params.RoomId, callerId); err != nil {
		return nil, err
	}

	if params.ReplyToId != nil && *params.ReplyToId != "" {
		if err := s.checkReplyTarget(ctx, params.RoomId, *params.ReplyToId); err != nil {
			return nil, err
		}
	} else {
		params.ReplyToId = nil
	}

	now := s.now()
	dbMsg, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		Id:             s.newId(),
		RoomId:         params.RoomId,
		SenderId:       callerId,
		Content:        params.Content,
		Type:           string(params.Type),
		AttachmentUrl:  params.AttachmentUrl,
		AttachmentName: params.AttachmentName,
		ReplyToId:      params.ReplyToId,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	if err := s.db.TouchRoom(ctx, params.RoomId, now); err != nil {
		s.log.WithError(err).WithField("room_id", params.RoomId).Warn("failed to update room activity")
	}

	s.log.WithFields(logrus.Fields{
		"room_id":    dbMsg.RoomId,
		"message_id": dbMsg.Id,
		"sender_id":  callerId,
	}).Debug("message stored")

	msg := messageFromDB(dbMsg)
	s.attachSender(ctx, &msg)
	return &msg, nil
}

func (s *Service) checkReplyTarget(ctx context.Context, roomId, replyToId string) error {
	target, err := s.db.GetMessage(ctx, replyToId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewValidationError("reply target %s does not exist", replyToId)
		}
		return fmt.Errorf("get reply target: %w", err)
	}
	if target.RoomId != roomId {
		return NewValidationError("reply target %s belongs to another room", replyToId)
	}
	return nil
}

// attachSender resolves the sender projection. A directory failure leaves the
// message without one.
func (s *Service) attachSender(ctx context.Context, msg *types.Message) {
	users, err := s.resolveUsers(ctx, []string{msg.SenderId})
	if err != nil {
		s.log.WithError(err).WithField("user_id", msg.SenderId).Warn("failed to resolve sender")
		return
	}
	msg.Sender = users[msg.SenderId]
}

func (s *Service) getMessage(ctx context.Context, messageId string) (database.Message, error) {
	if messageId == "" {
		return database.Message{}, NewValidationError("message id is required")
	}

	dbMsg, err := s.db.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Message{}, NewNotFoundError("message")
		}
		return database.Message{}, fmt.Errorf("get message: %w", err)
	}
	return dbMsg, nil
}

// EditMessage replaces the content of a message. Only its sender may edit it.
func (s *Service) EditMessage(ctx context.Context, callerId, messageId, content string) (*types.Message, error) {
	content = strings.TrimSpace(content)
	if err := s.validate.Var(content, "required,max=4000"); err != nil {
		return nil, NewValidationError("invalid input: content must be between 1 and %d characters", MaxContentLength)
	}

	dbMsg, err := s.getMessage(ctx, messageId)
	if err != nil {
		return nil, err
	}
	if dbMsg.SenderId != callerId {
		return nil, NewAccessDeniedError("only the sender can edit this message")
	}

	updated, err := s.db.UpdateMessageContent(ctx, messageId, content, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFoundError("message")
		}
		return nil, fmt.Errorf("update message: %w", err)
	}

	msg := messageFromDB(updated)
	s.attachSender(ctx, &msg)
	return &msg, nil
}

// DeleteMessage removes a message sent by callerId and returns it as it was.
func (s *Service) DeleteMessage(ctx context.Context, callerId, messageId string) (*types.Message, error) {
	dbMsg, err := s.getMessage(ctx, messageId)
	if err != nil {
		return nil, err
	}
	if dbMsg.SenderId != callerId {
		return nil, NewAccessDeniedError("only the sender can delete this message")
	}

	if err := s.db.DeleteMessage(ctx, messageId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFoundError("message")
		}
		return nil, fmt.Errorf("delete message: %w", err)
	}

	s.log.WithFields(logrus.Fields{"message_id": messageId, "room_id": dbMsg.RoomId}).Info("message deleted")

	msg := messageFromDB(dbMsg)
	return &msg, nil
}

// MarkRead records that callerId has read the message. Repeating the call
// refreshes the receipt's timestamp.
func (s *Service) MarkRead(ctx context.Context, callerId, messageId string) (*types.ReadReceipt, error) {
	dbMsg, err := s.getMessage(ctx, messageId)
	if err != nil {
		return nil, err
	}
	if _, err := s.Authorize(ctx, dbMsg.RoomId, callerId); err != nil {
		return nil, err
	}

	read, err := s.db.UpsertRead(ctx, messageId, callerId, s.now())
	if err != nil {
		return nil, fmt.Errorf("upsert read: %w", err)
	}

	return &types.ReadReceipt{
		MessageId: read.MessageId,
		RoomId:    dbMsg.RoomId,
		UserId:    read.UserId,
		ReadAt:    read.ReadAt,
	}, nil
}

// MarkReadBulk marks each message independently. A failure on one message
// does not undo the others.
func (s *Service) MarkReadBulk(ctx context.Context, callerId string, messageIds []string) (types.BulkResult, []types.ReadReceipt, error) {
	ids := dedupe(messageIds)
	if len(ids) == 0 {
		return types.BulkResult{}, nil, NewValidationError("message ids are required")
	}
	if len(ids) > MaxBulkReadSize {
		return types.BulkResult{}, nil, NewValidationError("at most %d message ids may be marked at once", MaxBulkReadSize)
	}

	var (
		res      = types.BulkResult{Processed: len(ids)}
		receipts = make([]types.ReadReceipt, 0, len(ids))
	)
	for _, id := range ids {
		receipt, err := s.MarkRead(ctx, callerId, id)
		if err != nil {
			if KindOf(err) == KindInternal {
				s.log.WithError(err).WithField("message_id", id).Error("mark read failed")
			}
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[id] = PublicMessage(err)
			res.Failed++
			continue
		}
		receipts = append(receipts, *receipt)
		res.Successful++
	}

	return res, receipts, nil
}

// ToggleReaction adds the reaction if callerId has not placed it on the
// message yet and removes it otherwise.
func (s *Service) ToggleReaction(ctx context.Context, callerId, messageId, reaction string) (*types.ReactionChange, error) {
	reaction = strings.TrimSpace(reaction)
	if err := s.validate.Var(reaction, "required,max=32"); err != nil {
		return nil, NewValidationError("invalid input: reaction must be between 1 and %d characters", MaxReactionLength)
	}

	dbMsg, err := s.getMessage(ctx, messageId)
	if err != nil {
		return nil, err
	}
	if _, err := s.Authorize(ctx, dbMsg.RoomId, callerId); err != nil {
		return nil, err
	}

	added, err := s.db.ToggleReaction(ctx, messageId, callerId, reaction)
	if err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}

	return &types.ReactionChange{
		MessageId: messageId,
		RoomId:    dbMsg.RoomId,
		UserId:    callerId,
		Reaction:  reaction,
		Added:     added,
	}, nil
}

// UnreadCount counts messages from others in callerId's rooms that callerId
// has no receipt for.
func (s *Service) UnreadCount(ctx context.Context, callerId string) (int, error) {
	n, err := s.db.CountUnread(ctx, callerId)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
