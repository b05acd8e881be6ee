// Package gemini provides the Gemini Live API session client used by the
// call bridge, plus a warm connection pool that hides connect latency
// from call setup.
//
// A session moves through disconnected → connected → closed. Only connect
// failures are fatal to session establishment; send and receive errors
// mid-call are reported to the caller, which treats them as dropped
// frames rather than tearing the call down.

package gemini

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/genai"
)

// DefaultModel is the default Gemini Live model.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

const (
	// BackendOutputSampleRate is the PCM rate of response audio.
	BackendOutputSampleRate = 24000
	// BackendInputSampleRate is the PCM rate the bridge sends.
	BackendInputSampleRate = 16000

	// closeTimeout bounds Close so a hung remote cannot block shutdown.
	closeTimeout = 5 * time.Second

	vadPrefixPaddingMs   = int32(20)
	vadSilenceDurationMs = int32(250)
)

// Session is the backend contract shared by the live client, the pool,
// and the bridge. Exactly one call owns a session; sessions are never
// reused across calls.
type Session interface {
	// SendAudio transmits one chunk of PCM input tagged with its rate.
	SendAudio(pcm []byte, sampleRate int) error

	// ReceiveTurn returns a lazy sequence of response audio chunks for
	// one turn, in arrival order. The channel closes at the remote
	// turn-complete signal, on receive error, or when ctx is cancelled.
	// Callers re-invoke after each turn boundary to keep listening.
	ReceiveTurn(ctx context.Context) <-chan []byte

	// Connected reports whether the session is usable.
	Connected() bool

	// Close releases the session within a bounded interval.
	Close() error
}

// DialFunc creates and connects a backend session. The pool and the
// bridge use it so tests can substitute fakes.
type DialFunc func(ctx context.Context) (Session, error)

// liveStream abstracts *genai.Session for tests.
type liveStream interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// ClientConfig holds configuration for the live client.
type ClientConfig struct {
	// Model is the Gemini model to use (default: DefaultModel)
	Model string
	// APIKey is the Google API key (default: from GOOGLE_API_KEY env)
	APIKey string
}

// DefaultClientConfig returns the default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Model:  DefaultModel,
		APIKey: os.Getenv("GOOGLE_API_KEY"),
	}
}

// Client is a Gemini Live API session for one call.
type Client struct {
	model  string
	apiKey string

	mu     sync.Mutex
	stream liveStream
	closed bool

	connected atomic.Bool
}

var _ Session = (*Client)(nil)

// NewClient creates a disconnected client.
func NewClient(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	return &Client{
		model:  model,
		apiKey: apiKey,
	}
}

// NewDialer returns a DialFunc that creates and connects a client with
// the given configuration and behavioral system prompt.
func NewDialer(cfg ClientConfig, systemPrompt string) DialFunc {
	return func(ctx context.Context) (Session, error) {
		c := NewClient(cfg)
		if err := c.Connect(ctx, systemPrompt); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Connect establishes a streaming session: audio response modality,
// automatic voice activity detection tuned for telephony turn-taking,
// and an optional system prompt. Callers decide retry policy.
func (c *Client) Connect(ctx context.Context, systemPrompt string) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create genai client: %w", err)
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{
				StartOfSpeechSensitivity: genai.StartSensitivityHigh,
				EndOfSpeechSensitivity:   genai.EndSensitivityHigh,
				PrefixPaddingMs:          genai.Ptr(vadPrefixPaddingMs),
				SilenceDurationMs:        genai.Ptr(vadSilenceDurationMs),
			},
		},
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	session, err := client.Live.Connect(ctx, c.model, config)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.model, err)
	}

	c.mu.Lock()
	c.stream = session
	c.closed = false
	c.mu.Unlock()
	c.connected.Store(true)

	log.Printf("[Gemini] Connected to Live API (model: %s)", c.model)
	return nil
}

// Connected reports whether the session is usable.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// SendAudio transmits one chunk of 16-bit PCM tagged with its rate.
func (c *Client) SendAudio(pcm []byte, sampleRate int) error {
	stream := c.currentStream()
	if stream == nil || !c.connected.Load() {
		return fmt.Errorf("session not connected")
	}

	err := stream.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			Data:     pcm,
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		},
	})
	if err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// ReceiveTurn yields response audio chunks until the remote signals turn
// completion. Interruption notifications (user spoke while the model was
// speaking) are skipped; the model's own activity detection handles the
// cutoff.
func (c *Client) ReceiveTurn(ctx context.Context) <-chan []byte {
	out := make(chan []byte, 8)

	stream := c.currentStream()
	if stream == nil || !c.connected.Load() {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			msg, err := stream.Receive()
			if err != nil {
				if !c.isClosed() {
					log.Printf("[Gemini] receive error: %v", err)
				}
				return
			}

			sc := msg.ServerContent
			if sc == nil {
				continue
			}

			if sc.Interrupted {
				log.Printf("[Gemini] response interrupted by user")
				continue
			}

			if sc.ModelTurn != nil {
				for _, part := range sc.ModelTurn.Parts {
					if part.Text != "" {
						log.Printf("[Gemini] model says: %s", part.Text)
					}
					if part.InlineData == nil || len(part.InlineData.Data) == 0 {
						continue
					}
					select {
					case out <- part.InlineData.Data:
					case <-ctx.Done():
						return
					}
				}
			}

			if sc.TurnComplete {
				return
			}
		}
	}()

	return out
}

// Close releases the session, bounded by closeTimeout; on timeout local
// cleanup proceeds regardless. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	c.connected.Store(false)
	if stream == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- stream.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[Gemini] error closing session: %v", err)
		}
	case <-time.After(closeTimeout):
		log.Printf("[Gemini] timeout closing session, proceeding with local cleanup")
	}
	return nil
}

func (c *Client) currentStream() liveStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
