package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"
	"github.com/cwrk-planet/code-room/internal/ratelimit"
)

//go:generate mockgen -destination=../mocks/service_mocks.go -package=mocks . Executor,RunStore

type Executor interface {
	Run(ctx context.Context, code string, lang domain.Language) domain.RunResult
}

// RunStore keeps the run audit trail. It never holds code or output.
type RunStore interface {
	Save(ctx context.Context, rec domain.RunRecord) error
	History(ctx context.Context, roomID, after string, limit int) ([]domain.RunRecord, string, error)
}

type RunRequest struct {
	// ID, when set, replaces the executor's invocation id so callers can
	// announce a run before it finishes.
	ID       string
	RoomID   string
	User     string
	Code     string
	Language domain.Language
}

const recordTimeout = 3 * time.Second

type RunService struct {
	exec    Executor
	limiter ratelimit.Limiter
	store   RunStore
	now     func() time.Time
}

// NewRunService wires the executor with optional limiter and store; nil
// disables either.
func NewRunService(exec Executor, limiter ratelimit.Limiter, store RunStore) *RunService {
	return &RunService{exec: exec, limiter: limiter, store: store, now: time.Now}
}

// MsgRejected is the error text of a run refused by the limiter.
const MsgRejected = "Too many run requests, please wait"

// Admit consumes one run token for key, usually the client address.
func (s *RunService) Admit(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		slog.Warn("run.limiter failed, allowing", "key", key, "err", err)
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// Reject is the outcome reported for a run that Admit refused. Nothing is
// executed or recorded.
func (s *RunService) Reject(req RunRequest) domain.RunResult {
	return domain.RunResult{ID: req.ID, Kind: domain.RunRejected, Error: MsgRejected}
}

// Execute runs the request and records its outcome. Recording problems are
// logged and never change the result.
func (s *RunService) Execute(ctx context.Context, req RunRequest) domain.RunResult {
	res := s.exec.Run(ctx, req.Code, req.Language)
	if req.ID != "" {
		res.ID = req.ID
	}

	if s.store != nil {
		rec := domain.RunRecord{
			ID:         res.ID,
			RoomID:     req.RoomID,
			User:       req.User,
			Language:   req.Language,
			Kind:       res.Kind,
			DurationMS: res.Duration.Milliseconds(),
			OutputLen:  len(res.Output),
			ErrorLen:   len(res.Error),
			CreatedAt:  s.now(),
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := s.store.Save(rctx, rec); err != nil {
			slog.Warn("run.record failed", "run_id", res.ID, "room", req.RoomID, "err", err)
		}
	}
	return res
}

func (s *RunService) History(ctx context.Context, roomID, after string, limit int) ([]domain.RunRecord, string, error) {
	if s.store == nil {
		return nil, "", domain.ErrAuditDisabled
	}
	items, next, err := s.store.History(ctx, roomID, after, limit)
	if err != nil {
		return nil, "", fmt.Errorf("store.History: %w", err)
	}
	return items, next, nil
}
