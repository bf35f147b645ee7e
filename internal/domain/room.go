package domain

import "time"

// Room is a point-in-time copy of a collaboration room.
type Room struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Code         string    `json:"code"`
	Language     Language  `json:"language"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
