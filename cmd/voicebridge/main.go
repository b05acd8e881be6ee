// Voicebridge connects telephone calls to the Gemini Live API.
//
// Architecture:
//
//   Phone Call
//        ↓
//   TwiML <Connect><Stream>
//        ↓
//   ┌──────────────────────────────────────────────────────────────┐
//   │                     Media Server                             │
//   │  (receives μ-law 8kHz → sends μ-law 8kHz)                    │
//   └──────────────────────────────────────────────────────────────┘
//        ↓                                      ↑
//     mulaw→PCM                              PCM→mulaw
//     8kHz→16kHz                            24kHz→8kHz
//        ↓                                      ↑
//   ┌──────────────────────────────────────────────────────────────┐
//   │                 Gemini Live Session                          │
//   │  (warm pool, automatic voice activity detection)             │
//   └──────────────────────────────────────────────────────────────┘
//
// Environment Variables:
//   - GOOGLE_API_KEY: Google API key for Gemini (required)
//   - STREAM_URL: Public WebSocket URL for the carrier (e.g., wss://your-domain.com/media)
//   - TWIML_URL: Public answer webhook URL for outbound calls
//   - GEMINI_MODEL: Gemini model (default: gemini-2.5-flash-native-audio-preview-12-2025)
//   - SYSTEM_PROMPT / SYSTEM_PROMPT_FILE: assistant behavior
//   - POOL_SIZE: warm sessions to keep ready (default: 2)
//   - PORT: HTTP server port (default: 8080)
//   - TRACE_EXPORTER: "stdout", "otlp", or "none" (default: none)
//   - TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN / TWILIO_FROM_NUMBER: outbound calling
//   - DUMP_CALL_AUDIO: "true" to capture WAV files per call
//   - DUMP_DIR: capture directory (default: ".")
//
// Usage:
//   1. Set environment variables (or use a .env file)
//   2. Run: go run ./cmd/voicebridge
//   3. Point the carrier's voice webhook at http://your-server/twiml
//   4. Call the number, or POST {"to": "+1..."} to /calls

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voicebridge-ai/voicebridge/pkg/gemini"
	"github.com/voicebridge-ai/voicebridge/pkg/server"
	"github.com/voicebridge-ai/voicebridge/pkg/telephony"
	"github.com/voicebridge-ai/voicebridge/pkg/trace"
)

// Config holds the application configuration.
type Config struct {
	// Server
	Port      string
	StreamURL string
	TwiMLURL  string

	// Gemini
	GoogleAPIKey string
	GeminiModel  string
	SystemPrompt string
	PoolSize     int

	// Outbound calling (optional)
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Debugging
	DumpAudio bool
	DumpDir   string
}

func main() {
	godotenv.Load()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("=== Voicebridge ===")

	config := loadConfig()
	validateConfig(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := trace.Initialize(ctx, trace.DefaultConfig()); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}

	dial := gemini.NewDialer(gemini.ClientConfig{
		Model:  config.GeminiModel,
		APIKey: config.GoogleAPIKey,
	}, config.SystemPrompt)

	pool := gemini.NewPool(gemini.PoolConfig{
		Size: config.PoolSize,
		Dial: dial,
	})
	pool.Start(ctx)

	var initiator *telephony.CallInitiator
	if config.TwilioAccountSID != "" {
		var err error
		initiator, err = telephony.NewCallInitiator(telephony.InitiatorConfig{
			AccountSID:        config.TwilioAccountSID,
			AuthToken:         config.TwilioAuthToken,
			FromNumber:        config.TwilioFromNumber,
			StatusCallbackURL: statusCallbackURL(config.TwiMLURL),
		})
		if err != nil {
			log.Fatalf("Failed to configure outbound calling: %v", err)
		}
		log.Println("Outbound calling enabled")
	}

	mediaServer := server.NewMediaServer(server.Config{
		Address:   ":" + config.Port,
		StreamURL: config.StreamURL,
		TwiMLURL:  config.TwiMLURL,
		DumpAudio: config.DumpAudio,
		DumpDir:   config.DumpDir,
	}, pool, initiator)

	if err := mediaServer.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Server started on port %s", config.Port)
	log.Printf("Carrier will connect to: %s", config.StreamURL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	mediaServer.Stop()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	trace.Shutdown(shutdownCtx)
	log.Println("Goodbye!")
}

func loadConfig() *Config {
	config := &Config{
		Port:             getEnv("PORT", "8080"),
		StreamURL:        os.Getenv("STREAM_URL"),
		TwiMLURL:         os.Getenv("TWIML_URL"),
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", gemini.DefaultModel),
		PoolSize:         getEnvInt("POOL_SIZE", gemini.DefaultPoolSize),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		DumpAudio:        getEnv("DUMP_CALL_AUDIO", "false") == "true",
		DumpDir:          getEnv("DUMP_DIR", "."),
	}
	config.SystemPrompt = loadSystemPrompt()
	return config
}

func loadSystemPrompt() string {
	if path := os.Getenv("SYSTEM_PROMPT_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read SYSTEM_PROMPT_FILE: %v", err)
		}
		return strings.TrimSpace(string(data))
	}
	return getEnv("SYSTEM_PROMPT", `You are a helpful AI phone assistant.

Guidelines:
- Be concise and natural in your responses - this is a phone call
- Keep responses short (1-2 sentences when possible)
- Be friendly and professional
- If you don't understand, ask for clarification
- Say "goodbye" or similar when the caller wants to end the call`)
}

func validateConfig(config *Config) {
	var missing []string

	if config.GoogleAPIKey == "" {
		missing = append(missing, "GOOGLE_API_KEY")
	}
	if config.StreamURL == "" {
		missing = append(missing, "STREAM_URL")
	}

	if len(missing) > 0 {
		log.Fatalf("Missing required environment variables: %s", strings.Join(missing, ", "))
	}
}

// statusCallbackURL derives the status webhook from the answer webhook
// so both live on the same public base.
func statusCallbackURL(twimlURL string) string {
	if twimlURL == "" {
		return ""
	}
	if idx := strings.LastIndex(twimlURL, "/twiml"); idx >= 0 {
		return twimlURL[:idx] + "/call-status"
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
		log.Printf("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}
