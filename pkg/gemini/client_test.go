package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeStream feeds scripted server messages to the client.
type fakeStream struct {
	messages  chan *genai.LiveServerMessage
	sent      []genai.LiveRealtimeInput
	sendErr   error
	closed    bool
	closeErr  error
	closeWait time.Duration
}

func newFakeStream() *fakeStream {
	return &fakeStream{messages: make(chan *genai.LiveServerMessage, 16)}
}

func (f *fakeStream) SendRealtimeInput(input genai.LiveRealtimeInput) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, input)
	return nil
}

func (f *fakeStream) Receive() (*genai.LiveServerMessage, error) {
	msg, ok := <-f.messages
	if !ok {
		return nil, errors.New("stream closed")
	}
	return msg, nil
}

func (f *fakeStream) Close() error {
	if f.closeWait > 0 {
		time.Sleep(f.closeWait)
	}
	f.closed = true
	return f.closeErr
}

func audioMessage(data []byte) *genai.LiveServerMessage {
	return &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{
				Parts: []*genai.Part{{InlineData: &genai.Blob{Data: data, MIMEType: "audio/pcm"}}},
			},
		},
	}
}

func connectedClient(stream liveStream) *Client {
	c := NewClient(ClientConfig{Model: "test-model", APIKey: "test-key"})
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	c.connected.Store(true)
	return c
}

func TestSendAudioRequiresConnection(t *testing.T) {
	c := NewClient(ClientConfig{Model: "test-model", APIKey: "test-key"})
	err := c.SendAudio([]byte{0x00, 0x01}, 16000)
	assert.Error(t, err)
	assert.False(t, c.Connected())
}

func TestSendAudioTagsSampleRate(t *testing.T) {
	fake := newFakeStream()
	c := connectedClient(fake)

	require.NoError(t, c.SendAudio([]byte{0x01, 0x02, 0x03, 0x04}, 16000))

	require.Len(t, fake.sent, 1)
	media := fake.sent[0].Media
	require.NotNil(t, media)
	assert.Equal(t, "audio/pcm;rate=16000", media.MIMEType)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, media.Data)
}

func TestReceiveTurnOrderedChunks(t *testing.T) {
	fake := newFakeStream()
	fake.messages <- audioMessage([]byte{0x01})
	fake.messages <- audioMessage([]byte{0x02})
	fake.messages <- audioMessage([]byte{0x03})
	fake.messages <- &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{TurnComplete: true},
	}

	c := connectedClient(fake)
	var got [][]byte
	for chunk := range c.ReceiveTurn(context.Background()) {
		got = append(got, chunk)
	}

	assert.Equal(t, [][]byte{{0x01}, {0x02}, {0x03}}, got)
}

func TestReceiveTurnSkipsInterruption(t *testing.T) {
	fake := newFakeStream()
	fake.messages <- audioMessage([]byte{0x01})
	fake.messages <- &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{Interrupted: true},
	}
	fake.messages <- audioMessage([]byte{0x02})
	fake.messages <- &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{TurnComplete: true},
	}

	c := connectedClient(fake)
	var got [][]byte
	for chunk := range c.ReceiveTurn(context.Background()) {
		got = append(got, chunk)
	}

	assert.Equal(t, [][]byte{{0x01}, {0x02}}, got)
}

func TestReceiveTurnResubscription(t *testing.T) {
	fake := newFakeStream()
	fake.messages <- audioMessage([]byte{0x01})
	fake.messages <- &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{TurnComplete: true},
	}
	fake.messages <- audioMessage([]byte{0x02})
	fake.messages <- &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{TurnComplete: true},
	}

	c := connectedClient(fake)

	var first [][]byte
	for chunk := range c.ReceiveTurn(context.Background()) {
		first = append(first, chunk)
	}
	assert.Equal(t, [][]byte{{0x01}}, first)

	var second [][]byte
	for chunk := range c.ReceiveTurn(context.Background()) {
		second = append(second, chunk)
	}
	assert.Equal(t, [][]byte{{0x02}}, second)
}

func TestReceiveTurnClosesOnError(t *testing.T) {
	fake := newFakeStream()
	close(fake.messages)

	c := connectedClient(fake)
	turn := c.ReceiveTurn(context.Background())

	select {
	case _, ok := <-turn:
		assert.False(t, ok, "channel should close without chunks")
	case <-time.After(time.Second):
		t.Fatal("turn channel did not close on receive error")
	}
}

func TestReceiveTurnHonorsContext(t *testing.T) {
	fake := newFakeStream()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := connectedClient(fake)
	turn := c.ReceiveTurn(ctx)

	select {
	case _, ok := <-turn:
		assert.False(t, ok, "channel should close without chunks")
	case <-time.After(time.Second):
		t.Fatal("turn channel did not close after cancellation")
	}
}

func TestReceiveTurnWhenDisconnected(t *testing.T) {
	c := NewClient(ClientConfig{Model: "test-model", APIKey: "test-key"})
	turn := c.ReceiveTurn(context.Background())

	_, ok := <-turn
	assert.False(t, ok, "disconnected client should yield a closed channel")
}

func TestCloseIdempotent(t *testing.T) {
	fake := newFakeStream()
	c := connectedClient(fake)

	require.NoError(t, c.Close())
	assert.True(t, fake.closed)
	assert.False(t, c.Connected())

	require.NoError(t, c.Close())
}

func TestCloseTolerateStreamError(t *testing.T) {
	fake := newFakeStream()
	fake.closeErr = errors.New("remote hung up")
	c := connectedClient(fake)

	assert.NoError(t, c.Close())
	assert.False(t, c.Connected())
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	assert.Equal(t, DefaultModel, cfg.Model)
}
