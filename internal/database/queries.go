package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	roomColumns    = "r.id, r.name, r.type, r.description, r.created_by, r.direct_key, r.created_at, r.updated_at"
	messageColumns = "m.id, m.room_id, m.sender_id, m.content, m.type, m.attachment_url, m.attachment_name, " +
		"m.reply_to_id, m.is_edited, m.edited_at, m.created_at"

	// rooms the user created or participates in
	memberRoomsQuery = "SELECT room_id FROM chat_room_participants WHERE user_id = %s " +
		"UNION SELECT id FROM chat_rooms WHERE created_by = %s"
)

// unread messages from others across the same rooms ListRoomsForUser returns
var countUnreadQuery = "SELECT COUNT(*) FROM messages m " +
	"WHERE m.room_id IN (" + fmt.Sprintf(memberRoomsQuery, "$1", "$1") + ") " +
	"AND m.sender_id <> $1 " +
	"AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = $1)"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var room Room
	err := row.Scan(
		&room.Id,
		&room.Name,
		&room.Type,
		&room.Description,
		&room.CreatedById,
		&room.DirectKey,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	return room, err
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.Content,
		&msg.Type,
		&msg.AttachmentUrl,
		&msg.AttachmentName,
		&msg.ReplyToId,
		&msg.IsEdited,
		&msg.EditedAt,
		&msg.CreatedAt,
	)
	return msg, err
}

func (db *PgChatRepository) ResolveUsers(ctx context.Context, ids []string) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, first_name, last_name, profile_picture, role FROM users WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.FirstName, &u.LastName, &u.ProfilePicture, &u.Role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// CreateRoom inserts a room with its participants. When DirectKey is set and a
// room with that key already exists, the existing room is returned and the
// second return value is false.
func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx,
		"INSERT INTO chat_rooms AS r (id, name, type, description, created_by, direct_key, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $7) ON CONFLICT (direct_key) DO NOTHING RETURNING "+roomColumns,
		params.Id,
		params.Name,
		params.Type,
		params.Description,
		params.CreatedById,
		params.DirectKey,
		params.CreatedAt,
	)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) && params.DirectKey != nil {
		room, err = scanRoom(tx.QueryRowContext(ctx,
			"SELECT "+roomColumns+" FROM chat_rooms r WHERE r.direct_key = $1",
			*params.DirectKey,
		))
		if err != nil {
			return Room{}, false, fmt.Errorf("fetch existing direct room: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return Room{}, false, err
		}
		return room, false, nil
	}
	if err != nil {
		return Room{}, false, err
	}

	for _, userId := range params.ParticipantIds {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO chat_room_participants (room_id, user_id, joined_at) VALUES ($1, $2, $3) "+
				"ON CONFLICT DO NOTHING",
			room.Id,
			userId,
			params.CreatedAt,
		)
		if err != nil {
			return Room{}, false, fmt.Errorf("add participant: %w", err)
		}
		room.Participants = append(room.Participants, Participant{
			RoomId:   room.Id,
			UserId:   userId,
			JoinedAt: params.CreatedAt,
		})
	}

	if err = tx.Commit(); err != nil {
		return Room{}, false, err
	}

	return room, true, nil
}

func (db *PgChatRepository) GetRoomWithParticipants(ctx context.Context, roomId string) (*Room, error) {
	room, err := scanRoom(db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM chat_rooms r WHERE r.id = $1",
		roomId,
	))
	if err != nil {
		return nil, fmt.Errorf("get room %q: %w", roomId, err)
	}

	participants, err := db.participantsFor(ctx, []string{room.Id})
	if err != nil {
		return nil, err
	}
	room.Participants = participants[room.Id]

	return &room, nil
}

func (db *PgChatRepository) participantsFor(ctx context.Context, roomIds []string) (map[string][]Participant, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT room_id, user_id, joined_at FROM chat_room_participants "+
			"WHERE room_id = ANY($1) ORDER BY joined_at",
		pq.Array(roomIds),
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	res := make(map[string][]Participant, len(roomIds))
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.RoomId, &p.UserId, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		res[p.RoomId] = append(res[p.RoomId], p)
	}

	return res, rows.Err()
}

func (db *PgChatRepository) ListRoomsForUser(ctx context.Context, userId string) ([]RoomSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM chat_rooms r "+
			"WHERE r.id IN ("+fmt.Sprintf(memberRoomsQuery, "$1", "$1")+") "+
			"ORDER BY r.updated_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		summaries []RoomSummary
		ids       []string
		index     = make(map[string]int)
	)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		index[room.Id] = len(summaries)
		ids = append(ids, room.Id)
		summaries = append(summaries, RoomSummary{Room: room})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	participants, err := db.participantsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, ps := range participants {
		summaries[index[id]].Participants = ps
	}

	lastRows, err := db.conn.QueryContext(ctx,
		"SELECT DISTINCT ON (m.room_id) "+messageColumns+" FROM messages m "+
			"WHERE m.room_id = ANY($1) ORDER BY m.room_id, m.created_at DESC",
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	defer lastRows.Close()
	for lastRows.Next() {
		msg, err := scanMessage(lastRows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		summaries[index[msg.RoomId]].LastMessage = &msg
	}
	if err := lastRows.Err(); err != nil {
		return nil, err
	}

	unreadRows, err := db.conn.QueryContext(ctx,
		"SELECT m.room_id, COUNT(*) FROM messages m "+
			"WHERE m.room_id = ANY($1) AND m.sender_id <> $2 "+
			"AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = $2) "+
			"GROUP BY m.room_id",
		pq.Array(ids),
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	defer unreadRows.Close()
	for unreadRows.Next() {
		var (
			roomId string
			count  int
		)
		if err := unreadRows.Scan(&roomId, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		summaries[index[roomId]].UnreadCount = count
	}

	return summaries, unreadRows.Err()
}

func (db *PgChatRepository) ListRoomIdsForUser(ctx context.Context, userId string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(memberRoomsQuery, "$1", "$1"), userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// AddParticipant is a no-op when userId already belongs to the room.
func (db *PgChatRepository) AddParticipant(ctx context.Context, roomId, userId string, joinedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO chat_room_participants (room_id, user_id, joined_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT DO NOTHING",
		roomId,
		userId,
		joinedAt,
	)
	return err
}

func (db *PgChatRepository) DeleteParticipant(ctx context.Context, roomId, userId string) error {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM chat_room_participants WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
	)
	if err != nil {
		return err
	}

	return expectAffected(res)
}

func (db *PgChatRepository) TouchRoom(ctx context.Context, roomId string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE chat_rooms SET updated_at = $2 WHERE id = $1 AND updated_at < $2",
		roomId,
		at,
	)
	return err
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages AS m (id, room_id, sender_id, content, type, attachment_url, attachment_name, reply_to_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING "+messageColumns,
		params.Id,
		params.RoomId,
		params.SenderId,
		params.Content,
		params.Type,
		params.AttachmentUrl,
		params.AttachmentName,
		params.ReplyToId,
		params.CreatedAt,
	)

	return scanMessage(row)
}

func (db *PgChatRepository) GetMessage(ctx context.Context, messageId string) (Message, error) {
	msg, err := scanMessage(db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m WHERE m.id = $1",
		messageId,
	))
	if err != nil {
		return Message{}, fmt.Errorf("get message %q: %w", messageId, err)
	}
	return msg, nil
}

func (db *PgChatRepository) UpdateMessageContent(ctx context.Context, messageId, content string, editedAt time.Time) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx,
		"UPDATE messages AS m SET content = $2, is_edited = TRUE, edited_at = $3 WHERE m.id = $1 RETURNING "+messageColumns,
		messageId,
		content,
		editedAt,
	))
}

func (db *PgChatRepository) DeleteMessage(ctx context.Context, messageId string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", messageId)
	if err != nil {
		return err
	}

	return expectAffected(res)
}

// whereClause builds the shared filter for message listing and counting.
func (q MessageQuery) whereClause() (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.RoomId != "" {
		conds = append(conds, "m.room_id = "+next(q.RoomId))
	}
	if q.MemberId != "" {
		p := next(q.MemberId)
		conds = append(conds, "m.room_id IN ("+fmt.Sprintf(memberRoomsQuery, p, p)+")")
	}
	if q.Type != "" {
		conds = append(conds, "m.type = "+next(q.Type))
	}
	if q.From != nil {
		conds = append(conds, "m.created_at >= "+next(*q.From))
	}
	if q.To != nil {
		conds = append(conds, "m.created_at <= "+next(*q.To))
	}
	if q.Search != "" {
		conds = append(conds, "m.content ILIKE "+next(likePattern(q.Search))+` ESCAPE '\'`)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// likePattern turns s into a substring pattern with LIKE wildcards escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func (db *PgChatRepository) ListMessages(ctx context.Context, query MessageQuery) ([]Message, int, error) {
	where, args := query.whereClause()

	var total int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages m"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	order := "DESC"
	if query.Ascending {
		order = "ASC"
	}
	limit := len(args) + 1
	stmt := fmt.Sprintf("SELECT %s FROM messages m%s ORDER BY m.created_at %s, m.id %s LIMIT $%d OFFSET $%d",
		messageColumns, where, order, order, limit, limit+1)

	rows, err := db.conn.QueryContext(ctx, stmt, append(args, query.Limit, query.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]Message, 0, query.Limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, total, rows.Err()
}

func (db *PgChatRepository) ListReactions(ctx context.Context, messageIds []string) ([]Reaction, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT message_id, user_id, reaction, created_at FROM message_reactions "+
			"WHERE message_id = ANY($1) ORDER BY created_at",
		pq.Array(messageIds),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageId, &r.UserId, &r.Reaction, &r.CreatedAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}

	return reactions, rows.Err()
}

func (db *PgChatRepository) ListReads(ctx context.Context, messageIds []string) ([]MessageRead, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT message_id, user_id, read_at FROM message_reads WHERE message_id = ANY($1) ORDER BY read_at",
		pq.Array(messageIds),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reads []MessageRead
	for rows.Next() {
		var r MessageRead
		if err := rows.Scan(&r.MessageId, &r.UserId, &r.ReadAt); err != nil {
			return nil, err
		}
		reads = append(reads, r)
	}

	return reads, rows.Err()
}

func (db *PgChatRepository) UpsertRead(ctx context.Context, messageId, userId string, readAt time.Time) (MessageRead, error) {
	var r MessageRead
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = EXCLUDED.read_at "+
			"RETURNING message_id, user_id, read_at",
		messageId,
		userId,
		readAt,
	).Scan(&r.MessageId, &r.UserId, &r.ReadAt)

	return r, err
}

// ToggleReaction removes the reaction if present, otherwise adds it. It reports
// whether the reaction was added.
func (db *PgChatRepository) ToggleReaction(ctx context.Context, messageId, userId, reaction string) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND reaction = $3",
		messageId,
		userId,
		reaction,
	)
	if err != nil {
		return false, err
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if removed == 0 {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO message_reactions (message_id, user_id, reaction, created_at) VALUES ($1, $2, $3, $4) "+
				"ON CONFLICT DO NOTHING",
			messageId,
			userId,
			reaction,
			time.Now().UTC(),
		)
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return removed == 0, nil
}

func (db *PgChatRepository) CountUnread(ctx context.Context, userId string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, countUnreadQuery, userId).Scan(&count)

	return count, err
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
