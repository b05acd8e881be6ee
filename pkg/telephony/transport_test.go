package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transportPair upgrades a client and server connection over httptest
// and returns the server-side Transport plus the raw client.
func transportPair(t *testing.T) (*Transport, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	transport := NewTransport(<-accepted)
	t.Cleanup(func() { transport.Close() })
	return transport, client
}

func TestTransportReadFrame(t *testing.T) {
	transport, client := transportPair(t)

	err := client.WriteJSON(StreamMessage{Event: EventConnected, Protocol: "Call", Version: "1.0.0"})
	require.NoError(t, err)

	msg, err := transport.Read()
	require.NoError(t, err)
	assert.Equal(t, EventConnected, msg.Event)
	assert.Equal(t, "Call", msg.Protocol)
}

func TestTransportReadMalformedFrame(t *testing.T) {
	transport, client := transportPair(t)

	err := client.WriteMessage(websocket.TextMessage, []byte("{not json"))
	require.NoError(t, err)

	_, err = transport.Read()
	assert.True(t, errors.Is(err, ErrMalformedFrame))

	// The connection survives a malformed frame.
	require.NoError(t, client.WriteJSON(StreamMessage{Event: EventConnected}))
	msg, err := transport.Read()
	require.NoError(t, err)
	assert.Equal(t, EventConnected, msg.Event)
}

func TestTransportWriteMedia(t *testing.T) {
	transport, client := transportPair(t)

	mulaw := []byte{0x7e, 0x7e, 0xff, 0x00}
	require.NoError(t, transport.WriteMedia("MZtest", mulaw))

	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var msg StreamMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventMedia, msg.Event)
	assert.Equal(t, "MZtest", msg.StreamSid)
	require.NotNil(t, msg.Media)

	decoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, mulaw, decoded)
}

func TestTransportWriteMark(t *testing.T) {
	transport, client := transportPair(t)

	require.NoError(t, transport.WriteMark("MZtest", "chunk-1"))

	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var msg StreamMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventMark, msg.Event)
	assert.Equal(t, "MZtest", msg.StreamSid)
	require.NotNil(t, msg.Mark)
	assert.Equal(t, "chunk-1", msg.Mark.Name)
}

func TestTransportCloseIdempotent(t *testing.T) {
	transport, _ := transportPair(t)

	require.NoError(t, transport.Close())
	assert.True(t, transport.Closed())
	require.NoError(t, transport.Close())

	err := transport.WriteMedia("MZtest", []byte{0x7e})
	assert.Error(t, err)
}
