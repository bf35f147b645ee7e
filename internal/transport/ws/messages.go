package ws

import "encoding/json"

// Inbound events.
const (
	EventJoin           = "join"
	EventCodeChange     = "codeChange"
	EventTyping         = "typing"
	EventLanguageChange = "languageChange"
	EventRunCode        = "runCode"
	EventLeaveRoom      = "leaveRoom"
	EventJoinChat       = "joinChat"
	EventMessage        = "message"
)

// Outbound events.
const (
	EventCodeUpdate     = "codeUpdate"
	EventLanguageUpdate = "languageUpdate"
	EventUserJoined     = "userJoined"
	EventUserTyping     = "userTyping"
	EventCodeRunning    = "codeRunning"
	EventCodeResult     = "codeResult"
	EventUsers          = "users"
	EventError          = "error"
	// EventMessage is used in both directions.
)

// resultTimeLayout renders codeResult timestamps as a wall-clock time.
const resultTimeLayout = "3:04:05 PM"

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// envelope is an inbound frame with its payload left undecoded.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type JoinPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type CodeChangePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type LanguageChangePayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type RunCodePayload struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type JoinChatPayload struct {
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// ChatInPayload carries only text; any sender or time sent by the client is
// ignored.
type ChatInPayload struct {
	Text string `json:"text"`
}

type CodeRunningPayload struct {
	User  string `json:"user"`
	RunID string `json:"runId"`
}

type CodeResultPayload struct {
	User      string `json:"user"`
	Output    string `json:"output"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"runId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
