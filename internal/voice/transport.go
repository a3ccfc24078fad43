package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageKind tells binary audio apart from text control messages.
type MessageKind int

const (
	MessageBinary MessageKind = iota + 1
	MessageText
)

// ErrTransportClosed is returned by a Transport once it has been closed.
var ErrTransportClosed = errors.New("transport closed")

// Transport is one client connection. Receive is called from a single
// goroutine; Send may be called concurrently and must serialize writes.
type Transport interface {
	Receive(ctx context.Context) (MessageKind, []byte, error)
	Send(ctx context.Context, ev Event) error
	Close() error
}

const (
	defaultWriteTimeout = 10 * time.Second
	maxMessageBytes     = 4 << 20
)

// WSTransport adapts a gorilla websocket connection. gorilla allows one
// concurrent reader and one concurrent writer; writes go through wmu.
type WSTransport struct {
	conn *websocket.Conn

	wmu    sync.Mutex
	closed bool
	once   sync.Once
}

// NewWSTransport wraps conn.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	conn.SetReadLimit(maxMessageBytes)
	return &WSTransport{conn: conn}
}

func (t *WSTransport) Receive(ctx context.Context) (MessageKind, []byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
		defer t.conn.SetReadDeadline(time.Time{})
	}
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return MessageBinary, data, nil
		case websocket.TextMessage:
			return MessageText, data, nil
		}
	}
}

func (t *WSTransport) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(defaultWriteTimeout)
	}
	_ = t.conn.SetWriteDeadline(dl)
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure frame when possible and closes the socket.
// It is safe to call more than once.
func (t *WSTransport) Close() error {
	var err error
	t.once.Do(func() {
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		// closing the socket unblocks a writer stuck in WriteMessage
		err = t.conn.Close()
		t.wmu.Lock()
		t.closed = true
		t.wmu.Unlock()
	})
	return err
}

// IsClosure reports whether err is an ordinary end of the client connection
// rather than a failure worth logging at warn level.
func IsClosure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportClosed) || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
