package domain

import "time"

// ChatMember is the chat identity bound to one connection.
type ChatMember struct {
	ConnID   string
	Username string
	RoomID   string
	JoinedAt time.Time
}
