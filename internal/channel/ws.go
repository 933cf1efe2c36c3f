package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 64 << 10
)

// WSTransport speaks the message envelope over a websocket connection, one
// JSON text frame per message.
type WSTransport struct {
	conn   *websocket.Conn
	logger *slog.Logger

	send     chan []byte
	recv     chan Message
	done     chan struct{}
	closeErr error
	once     sync.Once
}

func NewWSTransport(conn *websocket.Conn, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &WSTransport{
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, 32),
		recv:   make(chan Message, 32),
		done:   make(chan struct{}),
	}
	go t.writePump()
	go t.readPump()
	return t
}

func (t *WSTransport) Send(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WSTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-t.recv:
		return msg, nil
	case <-t.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (t *WSTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second),
		)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case data := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Debug("channel: ws write failed", slog.String("error", err.Error()))
				_ = t.Close()
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = t.Close()
				return
			}
		}
	}
}

func (t *WSTransport) readPump() {
	defer t.Close()
	t.conn.SetReadLimit(wsReadLimit)
	_ = t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	t.conn.SetPongHandler(func(string) error {
		_ = t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		msg, err := Decode(data)
		if err != nil {
			t.logger.Debug("channel: dropping malformed frame", slog.String("error", err.Error()))
			continue
		}
		select {
		case t.recv <- msg:
		case <-t.done:
			return
		}
	}
}
