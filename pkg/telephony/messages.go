// Package telephony handles the carrier-facing side of a call: the
// Media Streams WebSocket framing, a write-safe transport wrapper, and
// the REST client that places and ends outbound calls.
//
// Audio Format:
//   - Carrier: μ-law, 8kHz, mono, base64 in JSON frames
//
// Reference: https://www.twilio.com/docs/voice/media-streams

package telephony

// Media Streams protocol events.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// Media Streams audio constants.
const (
	CallSampleRate = 8000 // μ-law at 8kHz in both directions
	CallChannels   = 1    // Mono only

	MuLawEncoding = "audio/x-mulaw"
)

// StreamMessage represents one Media Streams WebSocket frame.
type StreamMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload contains stream initialization data.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the audio format.
type MediaFormat struct {
	Encoding   string `json:"encoding"`   // "audio/x-mulaw"
	SampleRate int    `json:"sampleRate"` // 8000
	Channels   int    `json:"channels"`   // 1
}

// MediaPayload contains audio data.
type MediaPayload struct {
	Track     string `json:"track,omitempty"` // "inbound" or "outbound"
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // Base64 encoded μ-law audio
}

// StopPayload contains stream termination data.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// MarkPayload acknowledges playback position.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload carries a keypad digit pressed during the call.
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}
