package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"

	"github.com/samber/lo"
)

type chatEntry struct {
	member domain.ChatMember
	seq    uint64
}

// ChatService is the chat membership registry keyed by connection id. It is
// independent from RoomService: a connection can be in one
// roster and not the other.
type ChatService struct {
	mu      sync.RWMutex
	members map[string]chatEntry
	seq     uint64
	now     func() time.Time
}

func NewChatService() *ChatService {
	return &ChatService{
		members: make(map[string]chatEntry),
		now:     time.Now,
	}
}

// Join binds connID to username in roomID. A connection that was already a
// member keeps its roster position; prev describes the old binding.
func (s *ChatService) Join(connID, username, roomID string) (prev domain.ChatMember, rejoined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, rejoined := s.members[connID]
	if rejoined {
		prev = e.member
	} else {
		s.seq++
		e.seq = s.seq
	}
	e.member = domain.ChatMember{
		ConnID:   connID,
		Username: username,
		RoomID:   roomID,
		JoinedAt: s.now(),
	}
	s.members[connID] = e
	return prev, rejoined
}

func (s *ChatService) Leave(connID string) (domain.ChatMember, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.members[connID]
	if !ok {
		return domain.ChatMember{}, false
	}
	delete(s.members, connID)
	return e.member, true
}

func (s *ChatService) Member(connID string) (domain.ChatMember, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.members[connID]
	return e.member, ok
}

// Roster lists the usernames chatting in roomID in join order. Duplicated
// names are kept: each connection is its own chat member.
func (s *ChatService) Roster(roomID string) []string {
	s.mu.RLock()
	entries := lo.Filter(lo.Values(s.members), func(e chatEntry, _ int) bool {
		return e.member.RoomID == roomID
	})
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return lo.Map(entries, func(e chatEntry, _ int) string { return e.member.Username })
}

func (s *ChatService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Compose builds a message stamped with the server-side identity of connID.
// ok is false when the connection never joined chat.
func (s *ChatService) Compose(connID, text string) (domain.ChatMessage, bool) {
	m, ok := s.Member(connID)
	if !ok {
		return domain.ChatMessage{}, false
	}
	return domain.ChatMessage{
		Sender: m.Username,
		Text:   text,
		Time:   s.now(),
		RoomID: m.RoomID,
	}, true
}

func (s *ChatService) JoinedNotice(username string) domain.ChatMessage {
	return domain.ChatMessage{Sender: domain.SystemSender, Text: fmt.Sprintf("%s joined the chat", username), Time: s.now()}
}

func (s *ChatService) LeftNotice(username string) domain.ChatMessage {
	return domain.ChatMessage{Sender: domain.SystemSender, Text: fmt.Sprintf("%s left the chat", username), Time: s.now()}
}
