package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrWorkspace           = errors.New("workspace error")
	ErrSpawn               = errors.New("process spawn failed")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrAssistUnavailable   = errors.New("assist service not configured")
	ErrAssistUpstream      = errors.New("assist upstream error")
	ErrAuditDisabled       = errors.New("run audit disabled")
)
