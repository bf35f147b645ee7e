package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/cwrk-planet/code-room/internal/domain"
	"github.com/cwrk-planet/code-room/internal/service"

	"github.com/google/uuid"
)

func (s *Server) dispatch(ev event) {
	switch ev.kind {
	case evDisconnect:
		s.onDisconnect(ev.conn)
	case evRunDone:
		s.onRunDone(ev.run)
	default:
		s.onInbound(ev.conn, ev.typ, ev.payload, ev.rejected)
	}
}

func (s *Server) onInbound(c *wsConn, typ string, raw json.RawMessage, rejected bool) {
	switch typ {
	case EventJoin:
		var p JoinPayload
		if decode(c, typ, raw, &p) {
			s.onJoin(c, p)
		}
	case EventCodeChange:
		var p CodeChangePayload
		if decode(c, typ, raw, &p) {
			s.onCodeChange(c, p)
		}
	case EventTyping:
		var p TypingPayload
		if decode(c, typ, raw, &p) {
			s.hub.Broadcast(p.RoomID, Message{Type: EventUserTyping, Payload: p.UserName}, c)
		}
	case EventLanguageChange:
		var p LanguageChangePayload
		if decode(c, typ, raw, &p) {
			s.onLanguageChange(p)
		}
	case EventRunCode:
		var p RunCodePayload
		if decode(c, typ, raw, &p) {
			s.onRunCode(c, p, rejected)
		}
	case EventLeaveRoom:
		if c.inRoom {
			s.leaveCodeRoom(c, true)
		}
	case EventJoinChat:
		var p JoinChatPayload
		if decode(c, typ, raw, &p) {
			s.onJoinChat(c, p)
		}
	case EventMessage:
		var p ChatInPayload
		if decode(c, typ, raw, &p) {
			s.onMessage(c, p)
		}
	default:
		slog.Debug("ws.unknown event", "conn", c.id, "type", typ)
	}
}

// onJoin switches the session to p.RoomID, leaving any previous room first.
// Joining the current room again only renames the session's participant, so
// the room is never emptied in between.
func (s *Server) onJoin(c *wsConn, p JoinPayload) {
	var (
		rm domain.Room
		ok bool
	)
	if c.inRoom && c.room == p.RoomID {
		rm, ok = s.rooms.Rename(p.RoomID, c.user, p.UserName)
	} else if c.inRoom {
		s.leaveCodeRoom(c, true)
	}
	if !ok {
		rm = s.rooms.Join(p.RoomID, p.UserName)
	}

	c.room, c.user, c.inRoom = p.RoomID, p.UserName, true
	s.hub.Subscribe(p.RoomID, c, ScopeCode)

	s.hub.Unicast(c, Message{Type: EventCodeUpdate, Payload: rm.Code})
	s.hub.Unicast(c, Message{Type: EventLanguageUpdate, Payload: rm.Language})
	s.hub.Broadcast(p.RoomID, Message{Type: EventUserJoined, Payload: rm.Participants}, nil)
}

// leaveCodeRoom drops the session's user from its room. Chat delivery for the
// same room is kept when the connection also holds the chat scope.
func (s *Server) leaveCodeRoom(c *wsConn, announce bool) {
	roster, ok := s.rooms.Leave(c.room, c.user)
	s.hub.Unsubscribe(c.room, c, ScopeCode)
	if ok && announce {
		s.hub.Broadcast(c.room, Message{Type: EventUserJoined, Payload: roster}, nil)
	}
	c.room, c.user, c.inRoom = "", "", false
}

func (s *Server) onCodeChange(c *wsConn, p CodeChangePayload) {
	if !s.rooms.SetCode(p.RoomID, p.Code) {
		return
	}
	s.hub.Broadcast(p.RoomID, Message{Type: EventCodeUpdate, Payload: p.Code}, c)
}

func (s *Server) onLanguageChange(p LanguageChangePayload) {
	if !s.rooms.SetLanguage(p.RoomID, domain.Language(p.Language)) {
		return
	}
	s.hub.Broadcast(p.RoomID, Message{Type: EventLanguageUpdate, Payload: p.Language}, nil)
}

// onRunCode announces the run and executes it off the dispatcher. The user is
// captured now so a later room switch does not relabel the result. A run
// refused by the limiter is announced and answered with an error-only result.
func (s *Server) onRunCode(c *wsConn, p RunCodePayload, rejected bool) {
	req := service.RunRequest{
		ID:       uuid.NewString(),
		RoomID:   p.RoomID,
		User:     c.user,
		Code:     p.Code,
		Language: domain.Language(p.Language),
	}
	slog.Info("ws.run started", "run_id", req.ID, "room", req.RoomID, "language", p.Language)
	s.hub.Broadcast(p.RoomID, Message{Type: EventCodeRunning, Payload: CodeRunningPayload{User: req.User, RunID: req.ID}}, nil)

	if rejected {
		s.onRunDone(&runDone{req: req, res: s.runs.Reject(req)})
		return
	}

	ctx := s.runCtx
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		res := s.runs.Execute(ctx, req)
		s.post(event{kind: evRunDone, run: &runDone{req: req, res: res}})
	}()
}

func (s *Server) onRunDone(d *runDone) {
	slog.Info("ws.run finished",
		"run_id", d.req.ID,
		"room", d.req.RoomID,
		"kind", string(d.res.Kind),
		"dur_ms", d.res.Duration.Milliseconds())

	s.hub.Broadcast(d.req.RoomID, Message{Type: EventCodeResult, Payload: CodeResultPayload{
		User:      d.req.User,
		Output:    d.res.Output,
		Error:     d.res.Error,
		Timestamp: s.now().Format(resultTimeLayout),
		RunID:     d.req.ID,
	}}, nil)
}

func (s *Server) onJoinChat(c *wsConn, p JoinChatPayload) {
	prev, rejoined := s.chat.Join(c.id, p.Username, p.RoomID)
	if rejoined && prev.RoomID != p.RoomID {
		s.hub.Unsubscribe(prev.RoomID, c, ScopeChat)
		s.hub.Broadcast(prev.RoomID, Message{Type: EventUsers, Payload: s.chat.Roster(prev.RoomID)}, nil)
	}

	s.hub.Subscribe(p.RoomID, c, ScopeChat)
	s.hub.Broadcast(p.RoomID, Message{Type: EventUsers, Payload: s.chat.Roster(p.RoomID)}, nil)
	s.hub.Broadcast(p.RoomID, Message{Type: EventMessage, Payload: s.chat.JoinedNotice(p.Username)}, nil)
}

// onMessage drops text from connections that never joined chat.
func (s *Server) onMessage(c *wsConn, p ChatInPayload) {
	msg, ok := s.chat.Compose(c.id, p.Text)
	if !ok {
		return
	}
	s.hub.Broadcast(msg.RoomID, Message{Type: EventMessage, Payload: msg}, nil)
}

func (s *Server) onDisconnect(c *wsConn) {
	if m, ok := s.chat.Leave(c.id); ok {
		s.hub.Unsubscribe(m.RoomID, c, ScopeChat)
		s.hub.Broadcast(m.RoomID, Message{Type: EventUsers, Payload: s.chat.Roster(m.RoomID)}, nil)
		s.hub.Broadcast(m.RoomID, Message{Type: EventMessage, Payload: s.chat.LeftNotice(m.Username)}, nil)
	}
	if c.inRoom {
		s.leaveCodeRoom(c, true)
	}
	s.hub.Remove(c)
}

func decode(c *wsConn, typ string, raw json.RawMessage, dst any) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Debug("ws.bad payload", "conn", c.id, "type", typ, "err", err)
		return false
	}
	return true
}
