package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/metrics"
)

// Role says which side of the channel a mailbox serves.
type Role int

const (
	RoleHost Role = iota
	RoleFrame
)

func (r Role) String() string {
	if r == RoleFrame {
		return "frame"
	}
	return "host"
}

// Handler reacts to one inbound message. Handlers must be idempotent: the
// transport gives no ordering or exactly-once guarantee.
type Handler func(ctx context.Context, msg Message)

// Mailbox is a typed endpoint over a Transport with an explicit handshake.
//
// The frame side becomes ready when it calls AnnounceLoaded; the host side
// becomes ready when it receives FrameLoaded. Until then the host drops every
// outbound message with ErrChannelNotReady, and the frame drops every inbound
// message, so nothing sent before the announcement is ever acted upon.
type Mailbox struct {
	role      Role
	transport Transport
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers map[Kind]Handler
	fallback Handler

	ready     chan struct{}
	readyOnce sync.Once
}

func NewMailbox(role Role, t Transport, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		role:      role,
		transport: t,
		logger:    logger.With(slog.String("role", role.String())),
		handlers:  make(map[Kind]Handler),
		ready:     make(chan struct{}),
	}
}

func (m *Mailbox) Role() Role { return m.role }

// Handle registers h for kind, replacing any earlier handler.
func (m *Mailbox) Handle(kind Kind, h Handler) {
	m.mu.Lock()
	m.handlers[kind] = h
	m.mu.Unlock()
}

// HandleUnknown receives messages that have no registered handler.
func (m *Mailbox) HandleUnknown(h Handler) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

func (m *Mailbox) Ready() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the handshake completed or ctx is done.
func (m *Mailbox) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrChannelTimeout, ctx.Err())
	}
}

func (m *Mailbox) markReady() bool {
	first := false
	m.readyOnce.Do(func() {
		close(m.ready)
		first = true
	})
	return first
}

// AnnounceLoaded is called by the frame once its listeners are installed.
func (m *Mailbox) AnnounceLoaded(ctx context.Context) error {
	if m.role != RoleFrame {
		return fmt.Errorf("%w: only the frame announces itself", domain.ErrInvalidArgument)
	}
	m.markReady()
	return m.Send(ctx, KindFrameLoaded, nil)
}

// Send encodes payload and sends it. On the host side this fails with
// ErrChannelNotReady until FrameLoaded arrived.
func (m *Mailbox) Send(ctx context.Context, kind Kind, payload any) error {
	msg, err := NewMessage(kind, payload)
	if err != nil {
		return err
	}
	return m.SendMessage(ctx, msg)
}

func (m *Mailbox) SendMessage(ctx context.Context, msg Message) error {
	if m.role == RoleHost && !m.Ready() {
		metrics.ChannelDroppedTotal.WithLabelValues(string(msg.Kind)).Inc()
		m.logger.Debug("channel: dropped message before frame loaded", slog.String("kind", string(msg.Kind)))
		return domain.ErrChannelNotReady
	}
	if err := m.transport.Send(ctx, msg); err != nil {
		return err
	}
	metrics.ChannelMessagesTotal.WithLabelValues("out", string(msg.Kind)).Inc()
	return nil
}

// Run receives and dispatches messages until ctx is done or the transport is
// closed. Handlers run on the Run goroutine.
func (m *Mailbox) Run(ctx context.Context) error {
	for {
		msg, err := m.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		m.dispatch(ctx, msg)
	}
}

func (m *Mailbox) dispatch(ctx context.Context, msg Message) {
	metrics.ChannelMessagesTotal.WithLabelValues("in", string(msg.Kind)).Inc()

	switch m.role {
	case RoleHost:
		if msg.Kind == KindFrameLoaded {
			if m.markReady() {
				m.logger.Info("channel: frame loaded")
			}
		}
	case RoleFrame:
		if !m.Ready() {
			metrics.ChannelDroppedTotal.WithLabelValues(string(msg.Kind)).Inc()
			m.logger.Debug("channel: frame not loaded, ignoring message", slog.String("kind", string(msg.Kind)))
			return
		}
	}

	m.mu.RLock()
	h, ok := m.handlers[msg.Kind]
	fallback := m.fallback
	m.mu.RUnlock()
	if !ok {
		if fallback != nil {
			fallback(ctx, msg)
			return
		}
		if msg.Kind != KindFrameLoaded {
			m.logger.Debug("channel: no handler", slog.String("kind", string(msg.Kind)))
		}
		return
	}
	h(ctx, msg)
}

// Close closes the underlying transport.
func (m *Mailbox) Close() error {
	return m.transport.Close()
}
