// Package server exposes the HTTP surface of the voice bridge: the
// Media Streams WebSocket endpoint, the TwiML webhook for answered
// calls, the call status webhook, and an outbound call API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicebridge-ai/voicebridge/pkg/bridge"
	"github.com/voicebridge-ai/voicebridge/pkg/gemini"
	"github.com/voicebridge-ai/voicebridge/pkg/telephony"
	"github.com/voicebridge-ai/voicebridge/pkg/trace"
)

// Config holds configuration for MediaServer.
type Config struct {
	// Address is the listen address (e.g., ":8080")
	Address string

	// WebSocketPath is the path for WebSocket connections (default: "/media")
	WebSocketPath string

	// TwiMLPath is the path for the answer webhook (default: "/twiml")
	TwiMLPath string

	// StatusPath is the path for call status callbacks (default: "/call-status")
	StatusPath string

	// CallsPath is the path for the outbound call API (default: "/calls")
	CallsPath string

	// StreamURL is the public URL for WebSocket connections, used in
	// the TwiML response (e.g., "wss://your-domain.com/media")
	StreamURL string

	// TwiMLURL is the public URL of the answer webhook, handed to the
	// carrier when placing outbound calls.
	TwiMLURL string

	// DumpAudio enables per-call WAV capture.
	DumpAudio bool

	// DumpDir is where capture files are written.
	DumpDir string

	// ReadBufferSize for WebSocket (default: 1024)
	ReadBufferSize int

	// WriteBufferSize for WebSocket (default: 1024)
	WriteBufferSize int
}

// MediaServer accepts carrier media streams and runs one bridge per
// call. An optional CallInitiator enables the outbound call API.
type MediaServer struct {
	config    Config
	pool      *gemini.Pool
	initiator *telephony.CallInitiator

	upgrader websocket.Upgrader
	server   *http.Server

	// Active bridges keyed by a server-local session ID. The carrier
	// callSid is unknown until the stream starts.
	bridges   map[string]*bridge.CallBridge
	bridgesMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMediaServer creates a server. The pool is required; initiator may
// be nil when outbound calling is not configured.
func NewMediaServer(config Config, pool *gemini.Pool, initiator *telephony.CallInitiator) *MediaServer {
	if config.WebSocketPath == "" {
		config.WebSocketPath = "/media"
	}
	if config.TwiMLPath == "" {
		config.TwiMLPath = "/twiml"
	}
	if config.StatusPath == "" {
		config.StatusPath = "/call-status"
	}
	if config.CallsPath == "" {
		config.CallsPath = "/calls"
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 1024
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = 1024
	}

	return &MediaServer{
		config:    config,
		pool:      pool,
		initiator: initiator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		bridges: make(map[string]*bridge.CallBridge),
	}
}

// Start starts the server.
func (s *MediaServer) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
	mux.HandleFunc(s.config.TwiMLPath, s.handleTwiML)
	mux.HandleFunc(s.config.StatusPath, s.handleCallStatus)
	mux.HandleFunc(s.config.CallsPath, s.handleCalls)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    s.config.Address,
		Handler: mux,
	}

	log.Printf("[MediaServer] Starting server on %s", s.config.Address)
	log.Printf("[MediaServer] WebSocket endpoint: %s", s.config.WebSocketPath)
	log.Printf("[MediaServer] TwiML endpoint: %s", s.config.TwiMLPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[MediaServer] Server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the server gracefully. In-flight bridges observe the
// cancelled context and tear their calls down.
func (s *MediaServer) Stop() error {
	log.Printf("[MediaServer] Stopping server...")

	if s.cancel != nil {
		s.cancel()
	}

	s.bridgesMu.RLock()
	for _, b := range s.bridges {
		b.Shutdown()
	}
	s.bridgesMu.RUnlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}

	s.wg.Wait()
	log.Printf("[MediaServer] Server stopped")
	return nil
}

// ActiveCalls reports how many bridges are currently running.
func (s *MediaServer) ActiveCalls() int {
	s.bridgesMu.RLock()
	defer s.bridgesMu.RUnlock()
	return len(s.bridges)
}

// handleWebSocket accepts a carrier media stream and runs its bridge.
func (s *MediaServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log.Printf("[MediaServer] WebSocket connection from %s", r.RemoteAddr)

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[MediaServer] WebSocket upgrade failed: %v", err)
		return
	}

	sessionID := uuid.New().String()
	b := bridge.New(telephony.NewTransport(wsConn), bridge.Config{
		Pool:      s.pool,
		DumpAudio: s.config.DumpAudio,
		DumpDir:   s.config.DumpDir,
	})

	s.bridgesMu.Lock()
	s.bridges[sessionID] = b
	s.bridgesMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.bridgesMu.Lock()
			delete(s.bridges, sessionID)
			s.bridgesMu.Unlock()
		}()

		if err := b.Run(s.ctx); err != nil {
			log.Printf("[MediaServer] Bridge ended with error (session %s): %v", sessionID, err)
		}
	}()
}

// handleTwiML answers the carrier's webhook for an answered call with
// the stream connect instructions, or a hangup when machine detection
// reports voicemail.
func (s *MediaServer) handleTwiML(w http.ResponseWriter, r *http.Request) {
	answeredBy := ""
	if err := r.ParseForm(); err == nil {
		answeredBy = r.FormValue("AnsweredBy")
		log.Printf("[MediaServer] Answer webhook: CallSid=%s, AnsweredBy=%s",
			r.FormValue("CallSid"), answeredBy)
	}

	twiml, err := telephony.StreamTwiML(answeredBy, s.config.StreamURL)
	if err != nil {
		log.Printf("[MediaServer] Failed to render TwiML: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(twiml))
}

// handleCallStatus logs call lifecycle notifications from the carrier.
func (s *MediaServer) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	log.Printf("[MediaServer] Call status: CallSid=%s, Status=%s, Duration=%s",
		r.FormValue("CallSid"), r.FormValue("CallStatus"), r.FormValue("CallDuration"))
	w.WriteHeader(http.StatusNoContent)
}

// callRequest is the outbound call API payload.
type callRequest struct {
	To string `json:"to"`
}

// handleCalls places an outbound call through the configured initiator.
func (s *MediaServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.initiator == nil {
		http.Error(w, "Outbound calling not configured", http.StatusServiceUnavailable)
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		http.Error(w, "Bad request: expected {\"to\": \"+1...\"}", http.StatusBadRequest)
		return
	}

	var call *telephony.Call
	err := trace.WithSpan(r.Context(), "call.place", func(ctx context.Context) error {
		var placeErr error
		call, placeErr = s.initiator.PlaceCall(ctx, req.To, s.config.TwiMLURL)
		return placeErr
	})
	if err != nil {
		log.Printf("[MediaServer] Failed to place call: %v", err)
		http.Error(w, fmt.Sprintf("Failed to place call: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(call)
}

// handleHealth reports server liveness and pool depth.
func (s *MediaServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"active_calls": s.ActiveCalls(),
		"pool_depth":   s.pool.Depth(),
	})
}
