package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMalformedFrame reports a frame that is not valid protocol JSON.
// Callers skip the frame and keep reading.
var ErrMalformedFrame = errors.New("malformed media stream frame")

// closeTimeout bounds Close so a stuck peer cannot block call teardown.
const closeTimeout = 5 * time.Second

// Transport wraps the carrier WebSocket with the framing rules the
// bridge needs: JSON decode on read, base64 μ-law encode on write, and
// serialized writes (gorilla/websocket requires synchronized writers).
type Transport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewTransport wraps an accepted WebSocket connection.
func NewTransport(conn *websocket.Conn) *Transport {
	return &Transport{conn: conn}
}

// Read returns the next protocol frame. A frame that fails to decode
// returns ErrMalformedFrame; any other error means the connection is
// gone.
func (t *Transport) Read() (*StreamMessage, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &msg, nil
}

// WriteMedia sends one chunk of μ-law audio to the caller.
func (t *Transport) WriteMedia(streamSid string, mulaw []byte) error {
	if t.closed.Load() {
		return fmt.Errorf("transport closed")
	}

	msg := StreamMessage{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media: &MediaPayload{
			Payload: base64.StdEncoding.EncodeToString(mulaw),
		},
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(msg)
}

// WriteMark sends a mark frame used to track playback position.
func (t *Transport) WriteMark(streamSid, name string) error {
	if t.closed.Load() {
		return fmt.Errorf("transport closed")
	}

	msg := StreamMessage{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: name},
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(msg)
}

// Close sends a close frame and releases the connection, bounded by
// closeTimeout. Safe to call more than once.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.conn.Close()
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
	}
	return nil
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}
