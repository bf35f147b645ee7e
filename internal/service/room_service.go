package service

import (
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"

	"github.com/samber/lo"
)

const (
	DefaultCode     = "// start code here"
	DefaultLanguage = domain.LangJavaScript
)

type RoomOptions struct {
	DefaultCode     string
	DefaultLanguage domain.Language
	// EvictEmpty drops a room once every session has left it.
	EvictEmpty bool
}

type roomState struct {
	participants []string
	// sessions counts joins not yet matched by a leave. Names collapse, so
	// the roster can be empty while a session is still in the room.
	sessions     int
	code         string
	language     domain.Language
	createdAt    time.Time
	updatedAt    time.Time
}

func (r *roomState) snapshot(id string) domain.Room {
	return domain.Room{
		ID:           id,
		Participants: copyNames(r.participants),
		Code:         r.code,
		Language:     r.language,
		CreatedAt:    r.createdAt,
		UpdatedAt:    r.updatedAt,
	}
}

// RoomService is the in-memory room registry. Rooms appear on first join and
// live until process exit unless EvictEmpty is set.
type RoomService struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
	opts  RoomOptions
	now   func() time.Time
}

func NewRoomService(opts RoomOptions) *RoomService {
	if opts.DefaultCode == "" {
		opts.DefaultCode = DefaultCode
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = DefaultLanguage
	}
	return &RoomService{
		rooms: make(map[string]*roomState),
		opts:  opts,
		now:   time.Now,
	}
}

// Join adds user to roomID, creating the room if needed. Names are a set:
// joining twice under the same name leaves one participant.
func (s *RoomService) Join(roomID, user string) domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		now := s.now()
		rm = &roomState{
			code:      s.opts.DefaultCode,
			language:  s.opts.DefaultLanguage,
			createdAt: now,
			updatedAt: now,
		}
		s.rooms[roomID] = rm
	}
	if !lo.Contains(rm.participants, user) {
		rm.participants = append(rm.participants, user)
	}
	rm.sessions++
	return rm.snapshot(roomID)
}

// Rename swaps one session's name in place. ok is false when the room does
// not exist.
func (s *RoomService) Rename(roomID, from, to string) (domain.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, false
	}
	if from != to {
		rm.participants = lo.Without(rm.participants, from)
	}
	if !lo.Contains(rm.participants, to) {
		rm.participants = append(rm.participants, to)
	}
	return rm.snapshot(roomID), true
}

// Leave removes user and returns the remaining roster. ok is false when the
// room does not exist.
func (s *RoomService) Leave(roomID, user string) (participants []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		return nil, false
	}
	rm.participants = lo.Without(rm.participants, user)
	if rm.sessions > 0 {
		rm.sessions--
	}
	out := copyNames(rm.participants)

	if s.opts.EvictEmpty && len(rm.participants) == 0 && rm.sessions == 0 {
		delete(s.rooms, roomID)
	}
	return out, true
}

// SetCode overwrites the shared buffer. Last write wins.
func (s *RoomService) SetCode(roomID, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	rm.code = code
	rm.updatedAt = s.now()
	return true
}

// SetLanguage stores the value as given; support is checked only at run time.
func (s *RoomService) SetLanguage(roomID string, lang domain.Language) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	rm.language = lang
	rm.updatedAt = s.now()
	return true
}

func (s *RoomService) Get(roomID string) (domain.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, false
	}
	return rm.snapshot(roomID), true
}

// List returns every room, oldest first.
func (s *RoomService) List() []domain.Room {
	s.mu.RLock()
	out := make([]domain.Room, 0, len(s.rooms))
	for id, rm := range s.rooms {
		out = append(out, rm.snapshot(id))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *RoomService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// copyNames never returns nil so an empty roster encodes as [].
func copyNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}
