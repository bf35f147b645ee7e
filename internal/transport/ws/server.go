package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"
	"github.com/cwrk-planet/code-room/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	admitTimeout = time.Second
	// codeChangeWait bounds how long a throttled codeChange is held back
	// before it is dropped.
	codeChangeWait = 2 * time.Second
	// maxDropped consecutive throttled frames disconnect the peer.
	maxDropped = 500

	msgThrottled = "Too many messages, some were dropped"
)

type Options struct {
	// AllowedOrigins lists accepted Origin headers; empty or "*" accepts any.
	AllowedOrigins []string
	PingEvery      time.Duration
	WriteWait      time.Duration
	ReadLimit      int64
	SendBuffer     int

	// Inbound frame budget per connection; zero rate disables throttling.
	MessagesPerSecond float64
	MessageBurst      int
}

func (o *Options) setDefaults() {
	if o.PingEvery <= 0 {
		o.PingEvery = 15 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MessagesPerSecond > 0 && o.MessageBurst <= 0 {
		o.MessageBurst = int(o.MessagesPerSecond)
		if o.MessageBurst < 1 {
			o.MessageBurst = 1
		}
	}
}

type eventKind uint8

const (
	evInbound eventKind = iota
	evDisconnect
	evRunDone
)

type event struct {
	kind    eventKind
	conn    *wsConn
	typ     string
	payload json.RawMessage
	run     *runDone
	// rejected marks a runCode refused by the run limiter.
	rejected bool
}

type runDone struct {
	req service.RunRequest
	res domain.RunResult
}

// Server owns every live session. Registry mutations and broadcasts happen on
// the single goroutine running Run, so per-room delivery follows processing
// order. Code runs execute on their own goroutines and report back through
// the same queue.
type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	rooms    *service.RoomService
	chat     *service.ChatService
	runs     *service.RunService
	opts     Options

	events chan event
	done   chan struct{}
	runCtx context.Context

	inflight sync.WaitGroup

	mu    sync.Mutex
	conns map[*wsConn]struct{}

	now func() time.Time
}

func NewServer(hub *Hub, rooms *service.RoomService, chat *service.ChatService, runs *service.RunService, opts Options) *Server {
	opts.setDefaults()
	s := &Server{
		hub:    hub,
		rooms:  rooms,
		chat:   chat,
		runs:   runs,
		opts:   opts,
		events: make(chan event, 256),
		done:   make(chan struct{}),
		runCtx: context.Background(),
		conns:  make(map[*wsConn]struct{}),
		now:    time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 || lo.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return lo.Contains(s.opts.AllowedOrigins, r.Header.Get("Origin"))
}

// Run dispatches events until ctx is done. It must be running for sessions to
// make progress. Cancelling ctx also kills in-flight code runs; Run returns
// once they have finished.
func (s *Server) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer func() {
		close(s.done)
		s.inflight.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// HandleWS serves GET /ws. Usernames are unauthenticated labels carried in
// the events themselves.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws.upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newWsConn(conn, uuid.NewString(), clientKey(r), s.opts)
	s.track(c)
	slog.Debug("ws.connected", "conn", c.id, "remote", r.RemoteAddr)

	go c.writeLoop(s.opts.PingEvery, s.opts.WriteWait)
	s.readLoop(c)

	s.post(event{kind: evDisconnect, conn: c})
	_ = c.Close()
	s.untrack(c)
	slog.Debug("ws.disconnected", "conn", c.id)
}

func (s *Server) readLoop(c *wsConn) {
	wait := 2 * s.opts.PingEvery
	c.conn.SetReadLimit(s.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	dropped := 0
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws.read failed", "conn", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			slog.Debug("ws.bad frame", "conn", c.id, "err", err)
			continue
		}

		if !s.allowInbound(c, env.Type) {
			dropped++
			if dropped == 1 {
				s.hub.Unicast(c, Message{Type: EventError, Payload: ErrorPayload{Message: msgThrottled}})
			}
			if dropped == 1 || dropped%100 == 0 {
				slog.Warn("ws.inbound throttled", "conn", c.id, "type", env.Type, "dropped", dropped)
			}
			if dropped >= maxDropped {
				c.closeWith(websocket.ClosePolicyViolation, "too many messages", s.opts.WriteWait)
				return
			}
			continue
		}
		dropped = 0

		rejected := env.Type == EventRunCode && !s.admitRun(c)
		if !s.post(event{kind: evInbound, conn: c, typ: env.Type, payload: env.Payload, rejected: rejected}) {
			return
		}
	}
}

// allowInbound applies the per-socket frame budget. A throttled codeChange
// waits for a token instead of being dropped, since losing the last edit
// would leave peers with a stale buffer.
func (s *Server) allowInbound(c *wsConn, typ string) bool {
	if c.inbound == nil || c.inbound.Allow() {
		return true
	}
	if typ != EventCodeChange {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), codeChangeWait)
	defer cancel()
	return c.inbound.Wait(ctx) == nil
}

// admitRun charges the run limiter for the client's address. A refused run
// still reaches the dispatcher so the room sees its running/result pair.
func (s *Server) admitRun(c *wsConn) bool {
	ctx, cancel := context.WithTimeout(context.Background(), admitTimeout)
	defer cancel()

	if err := s.runs.Admit(ctx, c.remote); err != nil {
		slog.Info("ws.run rejected", "conn", c.id, "client", c.remote, "err", err)
		return false
	}
	return true
}

// clientKey is the client address without port. RealIP middleware may have
// already replaced RemoteAddr with a bare IP.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Connections reports the number of live sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseAll sends a going-away close frame to every live socket. Hijacked
// connections are not closed by http.Server.Shutdown.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := lo.Keys(s.conns)
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down", s.opts.WriteWait)
	}
}
