package postgres

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"
)

// ErrInvalidCursor is reported as bad input to callers.
var ErrInvalidCursor = fmt.Errorf("%w: invalid cursor", domain.ErrInvalidInput)

// RunCursor is the (created_at, id) key of the last run on a page. created_at
// is kept at microsecond precision, the resolution of timestamptz.
type RunCursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode renders the cursor as opaque URL-safe text.
func (c RunCursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes s. An empty s means the first page and yields nil.
func ParseCursor(s string) (*RunCursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	ts, id, ok := strings.Cut(string(data), ":")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || micros <= 0 {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidCursor)
	}
	return &RunCursor{CreatedAt: time.UnixMicro(micros).UTC(), ID: id}, nil
}
