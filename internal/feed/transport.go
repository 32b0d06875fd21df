package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/inago/internal/domain"
)

const (
	// writeWait is the time allowed to write a frame to the hub.
	writeWait = 10 * time.Second

	// readWait is the time allowed between inbound frames. The hub sends
	// keep-alive pings well inside this window.
	readWait = 60 * time.Second

	defaultHandshakeTimeout = 15 * time.Second
)

// Transport is one live session with the market hub. Read blocks until a
// frame arrives or the transport fails; Close unblocks it.
type Transport interface {
	Send(frame []byte) error
	Read() ([]byte, error)
	Close() error
}

// Dialer opens a transport authorised by token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, error)
}

// WSDialer dials the hub over gorilla/websocket and performs the SignalR
// handshake.
type WSDialer struct {
	HubURL           string
	HandshakeTimeout time.Duration
}

// Dial connects to {HubURL}?access_token={token}.
func (d WSDialer) Dial(ctx context.Context, token string) (Transport, error) {
	u, err := url.Parse(d.HubURL)
	if err != nil {
		return nil, fmt.Errorf("feed: parse hub url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("feed: dial: %w: %w", domain.ErrTransport, err)
	}

	t := &wsTransport{conn: conn}
	if err := t.handshake(timeout); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending []byte
}

func (t *wsTransport) handshake(timeout time.Duration) error {
	if err := t.Send(handshakeRecord()); err != nil {
		return err
	}

	t.conn.SetReadDeadline(time.Now().Add(timeout))
	_, frame, err := t.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("feed: handshake: %w: %w", domain.ErrTransport, err)
	}

	end := bytes.IndexByte(frame, recordSeparator)
	if end < 0 {
		return fmt.Errorf("feed: handshake: unterminated response: %w", domain.ErrTransport)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(frame[:end], &resp); err != nil {
		return fmt.Errorf("feed: handshake: %w: %w", domain.ErrTransport, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("feed: handshake rejected: %s: %w", resp.Error, domain.ErrTransport)
	}
	if rest := frame[end+1:]; len(rest) > 0 {
		t.pending = append([]byte(nil), rest...)
	}
	return nil
}

func (t *wsTransport) Send(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("feed: write: %w: %w", domain.ErrTransport, err)
	}
	return nil
}

func (t *wsTransport) Read() ([]byte, error) {
	if t.pending != nil {
		p := t.pending
		t.pending = nil
		return p, nil
	}
	t.conn.SetReadDeadline(time.Now().Add(readWait))
	_, frame, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("feed: read: %w: %w", domain.ErrTransport, err)
	}
	return frame, nil
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}
