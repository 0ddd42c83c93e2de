package chat

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/types"
)

type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

// MessageFilter selects a page of messages. An empty RoomId searches every
// room the caller belongs to.
type MessageFilter struct {
	RoomId   string
	Type     types.MessageType `validate:"omitempty,oneof=TEXT IMAGE FILE AUDIO SYSTEM"`
	From     *time.Time
	To       *time.Time
	Search   string `validate:"max=200"`
	Page     int    `validate:"gte=0,lte=1000000"`
	PageSize int    `validate:"gte=0"`
	Order    Order  `validate:"omitempty,oneof=desc asc"`
}

func (f *MessageFilter) normalize() {
	f.Search = strings.TrimSpace(f.Search)
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if f.Order == "" {
		f.Order = OrderDesc
	}
}

func (f MessageFilter) query() database.MessageQuery {
	return database.MessageQuery{
		RoomId:    f.RoomId,
		Type:      string(f.Type),
		From:      f.From,
		To:        f.To,
		Search:    f.Search,
		Ascending: f.Order == OrderAsc,
		Limit:     f.PageSize,
		Offset:    (f.Page - 1) * f.PageSize,
	}
}

// ListMessages returns one page of messages visible to callerId.
func (s *Service) ListMessages(ctx context.Context, callerId string, filter MessageFilter) (*types.MessagePage, error) {
	if err := s.validateStruct(filter); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, NewValidationError("from must not be after to")
	}
	filter.normalize()

	q := filter.query()
	if filter.RoomId != "" {
		if _, err := s.Authorize(ctx, filter.RoomId, callerId); err != nil {
			return nil, err
		}
	} else {
		q.MemberId = callerId
	}

	dbMsgs, total, err := s.db.ListMessages(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs, err := s.decorate(ctx, dbMsgs)
	if err != nil {
		return nil, err
	}

	return &types.MessagePage{
		Messages:   msgs,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: (total + filter.PageSize - 1) / filter.PageSize,
	}, nil
}

// decorate attaches senders, reactions and read receipts to stored messages.
func (s *Service) decorate(ctx context.Context, dbMsgs []database.Message) ([]types.Message, error) {
	msgs := make([]types.Message, 0, len(dbMsgs))
	if len(dbMsgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, 0, len(dbMsgs))
	var senders []string
	for _, m := range dbMsgs {
		ids = append(ids, m.Id)
		senders = append(senders, m.SenderId)
	}

	reactions, err := s.db.ListReactions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	reads, err := s.db.ListReads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list reads: %w", err)
	}
	users, err := s.resolveUsers(ctx, dedupe(senders))
	if err != nil {
		return nil, err
	}

	byMsgReactions := make(map[string][]types.Reaction)
	for _, r := range reactions {
		byMsgReactions[r.MessageId] = append(byMsgReactions[r.MessageId], types.Reaction{
			UserId:    r.UserId,
			Reaction:  r.Reaction,
			CreatedAt: r.CreatedAt,
		})
	}
	byMsgReads := make(map[string][]types.ReadReceipt)
	for _, r := range reads {
		byMsgReads[r.MessageId] = append(byMsgReads[r.MessageId], types.ReadReceipt{
			MessageId: r.MessageId,
			UserId:    r.UserId,
			ReadAt:    r.ReadAt,
		})
	}

	for _, m := range dbMsgs {
		msg := messageFromDB(m)
		msg.Sender = users[m.SenderId]
		msg.Reactions = byMsgReactions[m.Id]
		msg.ReadBy = byMsgReads[m.Id]
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ParseMessageFilter reads a MessageFilter from query parameters. Both the
// camelCase and snake_case spellings are accepted.
func ParseMessageFilter(v url.Values) (MessageFilter, error) {
	f := MessageFilter{
		RoomId: first(v, "roomId", "room_id"),
		Type:   types.MessageType(strings.ToUpper(first(v, "type"))),
		Search: first(v, "search", "q"),
		Order:  Order(strings.ToLower(first(v, "order"))),
	}

	var err error
	if f.Page, err = parseInt(first(v, "page"), "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = parseInt(first(v, "limit", "page_size", "pageSize"), "limit"); err != nil {
		return f, err
	}
	if f.From, err = parseTime(first(v, "from", "dateFrom"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(first(v, "to", "dateTo"), "to"); err != nil {
		return f, err
	}

	return f, nil
}

func first(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k)); s != "" {
			return s
		}
	}
	return ""
}

func parseInt(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, NewValidationError("invalid %s: %q", name, s)
	}
	return n, nil
}

func parseTime(s, name string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, NewValidationError("invalid %s: expected RFC 3339 timestamp", name)
	}
	return &t, nil
}
