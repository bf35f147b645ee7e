package domain

import "time"

type Language string

const (
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangJava       Language = "java"
	LangCpp        Language = "cpp"
)

var supportedLanguages = []Language{LangJavaScript, LangPython, LangJava, LangCpp}

func SupportedLanguages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

func (l Language) Supported() bool {
	for _, s := range supportedLanguages {
		if l == s {
			return true
		}
	}
	return false
}

// RunKind classifies how an invocation ended.
type RunKind string

const (
	RunOK          RunKind = "ok"
	RunExit        RunKind = "exit"
	RunTimeout     RunKind = "timeout"
	RunUnsupported RunKind = "unsupported"
	RunSystem      RunKind = "system"
	RunRejected    RunKind = "rejected"
)

// RunResult is the outcome of one invocation. Only ok and exit carry Output.
type RunResult struct {
	ID       string
	Output   string
	Error    string
	Kind     RunKind
	Duration time.Duration
}

// Failed reports whether the invocation produced an error-only outcome.
func (r RunResult) Failed() bool {
	return r.Kind != RunOK && r.Kind != RunExit
}

type RunRecord struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	User       string    `json:"user"`
	Language   Language  `json:"language"`
	Kind       RunKind   `json:"kind"`
	DurationMS int64     `json:"duration_ms"`
	OutputLen  int       `json:"output_len"`
	ErrorLen   int       `json:"error_len"`
	CreatedAt  time.Time `json:"created_at"`
}
