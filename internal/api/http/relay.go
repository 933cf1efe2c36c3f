package apihttp

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchcompanion/internal/channel"
	"watchcompanion/internal/metrics"
)

const (
	relayWriteWait  = 10 * time.Second
	relayPongWait   = 60 * time.Second
	relayPingPeriod = 30 * time.Second
	relayReadLimit  = 64 << 10
)

var (
	errRelayRoleTaken = errors.New("relay role already connected")
	errRelayClosed    = errors.New("relay closed")
)

// relayHub pairs one host and one frame connection per session and forwards
// text frames between them unchanged. The frame's last FrameLoaded announce is
// kept and replayed to a host that connects later, so the handshake survives
// connection order.
type relayHub struct {
	mu       sync.Mutex
	sessions map[string]*relaySession
	closed   bool
	logger   *slog.Logger
}

type relaySession struct {
	host   *relayPeer
	frame  *relayPeer
	loaded []byte
}

type relayPeer struct {
	hub     *relayHub
	session string
	role    channel.Role
	conn    *websocket.Conn
	send    chan []byte
}

func newRelayHub(logger *slog.Logger) *relayHub {
	return &relayHub{
		sessions: make(map[string]*relaySession),
		logger:   logger,
	}
}

func parseRelayRole(raw string) (channel.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "host":
		return channel.RoleHost, true
	case "frame":
		return channel.RoleFrame, true
	default:
		return 0, false
	}
}

func (h *relayHub) slot(s *relaySession, role channel.Role) **relayPeer {
	if role == channel.RoleHost {
		return &s.host
	}
	return &s.frame
}

// reserve claims the role slot before the websocket upgrade so a second
// connection for the same role gets a plain 409.
func (h *relayHub) reserve(session string, role channel.Role) (*relayPeer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errRelayClosed
	}
	s, ok := h.sessions[session]
	if !ok {
		s = &relaySession{}
		h.sessions[session] = s
	}
	slot := h.slot(s, role)
	if *slot != nil {
		return nil, errRelayRoleTaken
	}
	peer := &relayPeer{hub: h, session: session, role: role, send: make(chan []byte, 64)}
	*slot = peer
	return peer, nil
}

// attach binds the upgraded connection and replays a pending announce to a
// freshly joined host.
func (h *relayHub) attach(peer *relayPeer, conn *websocket.Conn) {
	h.mu.Lock()
	peer.conn = conn
	s := h.sessions[peer.session]
	if s != nil && peer.role == channel.RoleHost && s.loaded != nil {
		select {
		case peer.send <- s.loaded:
		default:
		}
	}
	h.mu.Unlock()
	metrics.RelayConnections.Inc()
	h.logger.Debug("relay peer connected",
		slog.String("session", peer.session),
		slog.String("role", peer.role.String()),
	)
}

func (h *relayHub) release(peer *relayPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[peer.session]
	if !ok {
		return
	}
	slot := h.slot(s, peer.role)
	if *slot != peer {
		return
	}
	*slot = nil
	if peer.role == channel.RoleFrame {
		s.loaded = nil
	}
	if s.host == nil && s.frame == nil {
		delete(h.sessions, peer.session)
	}
}

func (h *relayHub) leave(peer *relayPeer) {
	h.release(peer)
	metrics.RelayConnections.Dec()
	h.logger.Debug("relay peer disconnected",
		slog.String("session", peer.session),
		slog.String("role", peer.role.String()),
	)
}

func (h *relayHub) forward(from *relayPeer, data []byte) {
	kind := "unknown"
	if msg, err := channel.Decode(data); err == nil {
		kind = string(msg.Kind)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[from.session]
	if !ok {
		return
	}
	if from.role == channel.RoleFrame && kind == string(channel.KindFrameLoaded) {
		s.loaded = append([]byte(nil), data...)
	}
	target := s.frame
	if from.role == channel.RoleFrame {
		target = s.host
	}
	if target == nil || target.conn == nil {
		metrics.ChannelDroppedTotal.WithLabelValues(kind).Inc()
		return
	}
	select {
	case target.send <- data:
		metrics.ChannelMessagesTotal.WithLabelValues("relay", kind).Inc()
	default:
		metrics.ChannelDroppedTotal.WithLabelValues(kind).Inc()
		h.logger.Warn("relay peer backlog full, message dropped",
			slog.String("session", from.session),
			slog.String("kind", kind),
		)
	}
}

func (h *relayHub) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every peer.
func (h *relayHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var conns []*websocket.Conn
	for _, s := range h.sessions {
		for _, p := range []*relayPeer{s.host, s.frame} {
			if p != nil && p.conn != nil {
				conns = append(conns, p.conn)
			}
		}
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(2*time.Second),
		)
		_ = conn.Close()
	}
	h.logger.Debug("relay hub stopped", slog.Int("connections", len(conns)))
}

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (p *relayPeer) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(relayPingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *relayPeer) readPump(done chan<- struct{}) {
	defer func() {
		p.hub.leave(p)
		close(done)
		p.conn.Close()
	}()
	p.conn.SetReadLimit(relayReadLimit)
	_ = p.conn.SetReadDeadline(time.Now().Add(relayPongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(relayPongWait))
		return nil
	})
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		p.hub.forward(p, data)
	}
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session := strings.Trim(strings.TrimPrefix(r.URL.Path, "/relay/"), "/")
	if session == "" || strings.Contains(session, "/") {
		http.NotFound(w, r)
		return
	}
	role, ok := parseRelayRole(r.URL.Query().Get("role"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be host or frame")
		return
	}

	peer, err := s.relay.reserve(session, role)
	if err != nil {
		if errors.Is(err, errRelayRoleTaken) {
			writeError(w, http.StatusConflict, "role_taken", err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	conn, err := relayUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.relay.release(peer)
		s.logger.Error("relay upgrade failed", slog.String("error", err.Error()))
		return
	}
	s.relay.attach(peer, conn)

	done := make(chan struct{})
	go peer.writePump(done)
	go peer.readPump(done)
}
