package domain

import "time"

const SystemSender = "System"

type ChatMessage struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	RoomID string    `json:"roomId,omitempty"`
}
