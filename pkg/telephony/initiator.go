package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBaseURL = "https://api.twilio.com"

// machineDetectionTimeoutSec bounds how long the carrier listens for an
// answering machine before connecting the stream anyway.
const machineDetectionTimeoutSec = 3

// InitiatorConfig holds credentials and routing for outbound calls.
type InitiatorConfig struct {
	// AccountSID and AuthToken authenticate against the carrier REST API.
	AccountSID string
	AuthToken  string
	// FromNumber is the caller ID in E.164 form.
	FromNumber string
	// StatusCallbackURL receives call lifecycle notifications. Optional.
	StatusCallbackURL string
	// BaseURL overrides the carrier API endpoint. Tests point it at a
	// local server.
	BaseURL string
	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
}

// CallInitiator places and ends outbound calls through the carrier
// REST API.
type CallInitiator struct {
	cfg    InitiatorConfig
	client *http.Client
}

// Call is the subset of the carrier's call resource the server uses.
type Call struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

// NewCallInitiator creates an initiator. AccountSID, AuthToken, and
// FromNumber are required.
func NewCallInitiator(cfg InitiatorConfig) (*CallInitiator, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token are required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAPIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CallInitiator{cfg: cfg, client: client}, nil
}

// PlaceCall dials toNumber and points the call at twimlURL for
// instructions once answered. Machine detection is enabled so the
// answer webhook can hang up on voicemail.
func (ci *CallInitiator) PlaceCall(ctx context.Context, toNumber, twimlURL string) (*Call, error) {
	form := url.Values{}
	form.Set("To", toNumber)
	form.Set("From", ci.cfg.FromNumber)
	form.Set("Url", twimlURL)
	form.Set("MachineDetection", "Enable")
	form.Set("MachineDetectionTimeout", fmt.Sprintf("%d", machineDetectionTimeoutSec*1000))
	if ci.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", ci.cfg.StatusCallbackURL)
		form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	}

	call, err := ci.post(ctx, ci.callsURL(), form)
	if err != nil {
		return nil, fmt.Errorf("place call to %s: %w", toNumber, err)
	}
	log.Printf("[Initiator] Call placed (sid: %s, to: %s)", call.SID, call.To)
	return call, nil
}

// EndCall completes an in-progress call.
func (ci *CallInitiator) EndCall(ctx context.Context, callSid string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		ci.cfg.BaseURL, ci.cfg.AccountSID, callSid)
	if _, err := ci.post(ctx, endpoint, form); err != nil {
		return fmt.Errorf("end call %s: %w", callSid, err)
	}
	log.Printf("[Initiator] Call ended (sid: %s)", callSid)
	return nil
}

func (ci *CallInitiator) callsURL() string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json",
		ci.cfg.BaseURL, ci.cfg.AccountSID)
}

func (ci *CallInitiator) post(ctx context.Context, endpoint string, form url.Values) (*Call, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(ci.cfg.AccountSID, ci.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ci.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("carrier API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var call Call
	if err := json.Unmarshal(body, &call); err != nil {
		return nil, fmt.Errorf("decode carrier response: %w", err)
	}
	return &call, nil
}

var streamTwiML = template.Must(template.New("stream").Parse(
	`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Say>Connecting you now, one moment please.</Say>
    <Connect>
        <Stream url="{{.StreamURL}}" />
    </Connect>
</Response>`))

const hangupTwiML = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Hangup />
</Response>`

// StreamTwiML renders the voice instructions for an answered call:
// connect the bidirectional media stream, or hang up when machine
// detection reports voicemail or fax.
func StreamTwiML(answeredBy, streamURL string) (string, error) {
	if answeredBy == "fax" || strings.HasPrefix(answeredBy, "machine_") {
		return hangupTwiML, nil
	}

	var b strings.Builder
	if err := streamTwiML.Execute(&b, struct{ StreamURL string }{StreamURL: streamURL}); err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return b.String(), nil
}
