package database

import "time"

type User struct {
	Id             string
	FirstName      string
	LastName       string
	ProfilePicture *string
	Role           string
}

type Room struct {
	Id           string
	Name         *string
	Type         string
	Description  *string
	CreatedById  string
	DirectKey    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Participants []Participant
}

type Participant struct {
	RoomId   string
	UserId   string
	JoinedAt time.Time
}

type RoomSummary struct {
	Room
	LastMessage *Message
	UnreadCount int
}

type Message struct {
	Id             string
	RoomId         string
	SenderId       string
	Content        string
	Type           string
	AttachmentUrl  *string
	AttachmentName *string
	ReplyToId      *string
	IsEdited       bool
	EditedAt       *time.Time
	CreatedAt      time.Time
}

type Reaction struct {
	MessageId string
	UserId    string
	Reaction  string
	CreatedAt time.Time
}

type MessageRead struct {
	MessageId string
	UserId    string
	ReadAt    time.Time
}

type CreateRoomParams struct {
	Id             string
	Name           *string
	Type           string
	Description    *string
	CreatedById    string
	DirectKey      *string
	ParticipantIds []string
	CreatedAt      time.Time
}

type CreateMessageParams struct {
	Id             string
	RoomId         string
	SenderId       string
	Content        string
	Type           string
	AttachmentUrl  *string
	AttachmentName *string
	ReplyToId      *string
	CreatedAt      time.Time
}

// MessageQuery selects a page of messages. RoomId and MemberId may be combined;
// an empty MemberId disables the membership restriction.
type MessageQuery struct {
	RoomId    string
	MemberId  string
	Type      string
	From      *time.Time
	To        *time.Time
	Search    string
	Ascending bool
	Limit     int
	Offset    int
}
