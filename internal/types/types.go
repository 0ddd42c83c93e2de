package types

import (
	"time"
)

type RoomType string

const (
	RoomTypeDirect  RoomType = "DIRECT"
	RoomTypeGroup   RoomType = "GROUP"
	RoomTypeSupport RoomType = "SUPPORT"
)

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeAudio  MessageType = "AUDIO"
	MessageTypeSystem MessageType = "SYSTEM"
)

// User is the minimal projection of a platform user read from the directory.
type User struct {
	Id             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	Role           string `json:"role"`
}

type Participant struct {
	UserId   string    `json:"user_id"`
	User     *User     `json:"user,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

type Room struct {
	Id           string        `json:"id"`
	Name         *string       `json:"name"`
	Type         RoomType      `json:"type"`
	Description  *string       `json:"description,omitempty"`
	CreatedById  string        `json:"created_by_id"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// HasMember reports whether userId created the room or participates in it.
func (r *Room) HasMember(userId string) bool {
	if r.CreatedById == userId {
		return true
	}
	for _, p := range r.Participants {
		if p.UserId == userId {
			return true
		}
	}
	return false
}

// RoomSummary is a room as shown in a user's room list.
type RoomSummary struct {
	Room
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

type Reaction struct {
	UserId    string    `json:"user_id"`
	Reaction  string    `json:"reaction"`
	CreatedAt time.Time `json:"created_at"`
}

type ReadReceipt struct {
	MessageId string    `json:"message_id"`
	RoomId    string    `json:"room_id,omitempty"`
	UserId    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type Message struct {
	Id             string        `json:"id"`
	RoomId         string        `json:"room_id"`
	SenderId       string        `json:"sender_id"`
	Sender         *User         `json:"sender,omitempty"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	AttachmentUrl  *string       `json:"attachment_url,omitempty"`
	AttachmentName *string       `json:"attachment_name,omitempty"`
	ReplyToId      *string       `json:"reply_to_id,omitempty"`
	IsEdited       bool          `json:"is_edited"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	ReadBy         []ReadReceipt `json:"read_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type MessagePage struct {
	Messages   []Message `json:"messages"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

// ReactionChange describes the outcome of a reaction toggle.
type ReactionChange struct {
	MessageId string `json:"message_id"`
	RoomId    string `json:"room_id"`
	UserId    string `json:"user_id"`
	Reaction  string `json:"reaction"`
	Added     bool   `json:"added"`
}

// BulkResult reports per-item outcomes of a batch operation.
type BulkResult struct {
	Processed  int               `json:"processed"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}
