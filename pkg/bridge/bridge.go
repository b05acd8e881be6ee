// Package bridge wires one telephone call to one backend session. It
// owns the per-call state machine: waiting for the carrier handshake,
// waiting for stream start, relaying audio both ways, and tearing the
// call down in order.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/voicebridge-ai/voicebridge/pkg/audio"
	"github.com/voicebridge-ai/voicebridge/pkg/gemini"
	"github.com/voicebridge-ai/voicebridge/pkg/telephony"
	"github.com/voicebridge-ai/voicebridge/pkg/trace"
)

// Phase is the lifecycle position of a call bridge.
type Phase int32

const (
	PhaseAwaitingHandshake Phase = iota
	PhaseAwaitingStreamStart
	PhaseBridging
	PhaseDraining
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingHandshake:
		return "awaiting_handshake"
	case PhaseAwaitingStreamStart:
		return "awaiting_stream_start"
	case PhaseBridging:
		return "bridging"
	case PhaseDraining:
		return "draining"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// interTurnDelay spaces out consecutive turn subscriptions so a
// turn-complete followed immediately by new audio is not misread.
const interTurnDelay = 50 * time.Millisecond

// Config holds per-call bridge configuration.
type Config struct {
	// Pool provides warm sessions. When nil, Dial is used directly.
	Pool *gemini.Pool
	// Dial creates a session when no pool is configured.
	Dial gemini.DialFunc
	// DumpAudio enables WAV capture of both directions for debugging.
	DumpAudio bool
	// DumpDir is where capture files are written (default: ".").
	DumpDir string
}

// CallBridge relays audio between one carrier stream and one backend
// session. Create with New and drive with Run; a bridge is single-use.
type CallBridge struct {
	transport *telephony.Transport
	cfg       Config

	phase atomic.Int32

	// backendSpeaking is read by the inbound loop and written by both
	// loops, which run on different goroutines.
	backendSpeaking atomic.Bool

	streamSid string
	callSid   string

	session     gemini.Session
	releaseOnce sync.Once

	framesIn      atomic.Int64
	framesOut     atomic.Int64
	bytesIn       atomic.Int64
	bytesOut      atomic.Int64
	interruptions atomic.Int64
	marksSent     atomic.Int64
	marksAcked    atomic.Int64

	callerDump *audio.Dumper
	botDump    *audio.Dumper
}

// New creates a bridge over an accepted carrier stream.
func New(transport *telephony.Transport, cfg Config) *CallBridge {
	if cfg.DumpDir == "" {
		cfg.DumpDir = "."
	}
	b := &CallBridge{
		transport: transport,
		cfg:       cfg,
	}
	b.phase.Store(int32(PhaseAwaitingHandshake))
	return b
}

// Shutdown aborts the call by closing the carrier transport. Run
// observes the dropped connection and tears the call down as usual.
func (b *CallBridge) Shutdown() {
	b.transport.Close()
}

// Phase reports the current lifecycle position.
func (b *CallBridge) Phase() Phase {
	return Phase(b.phase.Load())
}

// CallSid reports the carrier call identifier, known once the stream
// has started.
func (b *CallBridge) CallSid() string {
	return b.callSid
}

// Run drives the call to completion: handshake, stream start, audio
// relay, teardown. It blocks until the call ends and always leaves the
// bridge in PhaseClosed with the transport and session released.
func (b *CallBridge) Run(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "bridge.call")
	defer span.End()
	defer b.cleanup()

	if err := b.awaitHandshake(); err != nil {
		trace.RecordError(span, err)
		trace.AddEvent(span, "call.aborted", trace.ErrorAttrs("protocol_violation", err.Error())...)
		return err
	}

	b.setPhase(span, PhaseAwaitingStreamStart)
	if err := b.awaitStreamStart(); err != nil {
		trace.RecordError(span, err)
		trace.AddEvent(span, "call.aborted", trace.ErrorAttrs("protocol_violation", err.Error())...)
		return err
	}
	trace.SetAttributes(span, trace.CallAttrs(b.callSid, b.streamSid)...)

	session, err := b.acquireSession(ctx)
	if err != nil {
		trace.RecordError(span, err)
		return fmt.Errorf("acquire backend session: %w", err)
	}
	b.session = session

	b.openDumpers()

	b.setPhase(span, PhaseBridging)
	log.Printf("[Bridge] Call bridged (callSid: %s, streamSid: %s)", b.callSid, b.streamSid)

	backendCtx, cancelBackend := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.backendLoop(backendCtx)
	}()

	b.inboundLoop(ctx)

	b.setPhase(span, PhaseDraining)
	cancelBackend()
	wg.Wait()

	trace.AddEvent(span, "audio.inbound",
		trace.AudioAttrs(gemini.BackendInputSampleRate, int(b.bytesIn.Load()), "pcm")...)
	trace.AddEvent(span, "audio.outbound",
		trace.AudioAttrs(telephony.CallSampleRate, int(b.bytesOut.Load()), "mulaw")...)

	log.Printf("[Bridge] Call ended (callSid: %s, frames in: %d (%d bytes), out: %d (%d bytes), interruptions: %d)",
		b.callSid, b.framesIn.Load(), b.bytesIn.Load(),
		b.framesOut.Load(), b.bytesOut.Load(), b.interruptions.Load())
	return nil
}

// awaitHandshake expects exactly one connected event. Any other event
// this early is a protocol violation and aborts the call.
func (b *CallBridge) awaitHandshake() error {
	for {
		msg, err := b.readFrame()
		if err != nil {
			return fmt.Errorf("await handshake: %w", err)
		}
		if msg == nil {
			continue
		}
		if msg.Event != telephony.EventConnected {
			return fmt.Errorf("expected connected event, got %q", msg.Event)
		}
		log.Printf("[Bridge] Carrier connected (protocol: %s %s)", msg.Protocol, msg.Version)
		return nil
	}
}

// awaitStreamStart expects exactly one start event and records the
// stream identifiers. Any other event aborts the call.
func (b *CallBridge) awaitStreamStart() error {
	for {
		msg, err := b.readFrame()
		if err != nil {
			return fmt.Errorf("await stream start: %w", err)
		}
		if msg == nil {
			continue
		}
		if msg.Event != telephony.EventStart {
			return fmt.Errorf("expected start event, got %q", msg.Event)
		}
		if msg.Start == nil {
			return fmt.Errorf("start event without payload")
		}
		b.streamSid = msg.Start.StreamSid
		b.callSid = msg.Start.CallSid
		return nil
	}
}

// inboundLoop relays caller audio to the backend until the stream stops
// or the connection drops.
func (b *CallBridge) inboundLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := b.readFrame()
		if err != nil {
			log.Printf("[Bridge] Carrier read ended: %v", err)
			return
		}
		if msg == nil {
			continue
		}
		switch msg.Event {
		case telephony.EventMedia:
			b.handleCallerAudio(msg.Media)
		case telephony.EventStop:
			log.Printf("[Bridge] Stream stopped (callSid: %s)", b.callSid)
			return
		case telephony.EventMark:
			if msg.Mark != nil {
				b.marksAcked.Add(1)
			}
		case telephony.EventDTMF:
			if msg.DTMF != nil {
				log.Printf("[Bridge] DTMF digit %q (callSid: %s)", msg.DTMF.Digit, b.callSid)
			}
		}
	}
}

// handleCallerAudio converts one μ-law chunk to backend PCM and sends
// it. A chunk arriving while the backend is speaking marks a barge-in.
func (b *CallBridge) handleCallerAudio(media *telephony.MediaPayload) {
	if media == nil || media.Payload == "" {
		return
	}

	mulaw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		log.Printf("[Bridge] Dropping undecodable media frame: %v", err)
		return
	}
	if len(mulaw) == 0 {
		return
	}

	if b.backendSpeaking.CompareAndSwap(true, false) {
		b.interruptions.Add(1)
		log.Printf("[Bridge] Caller interrupted response (callSid: %s)", b.callSid)
	}

	pcm8k := audio.MuLawToPCM(mulaw)
	if b.callerDump != nil {
		b.callerDump.Write(pcm8k)
	}

	pcm16k := audio.Resample(pcm8k, telephony.CallSampleRate, gemini.BackendInputSampleRate)
	if err := b.session.SendAudio(pcm16k, gemini.BackendInputSampleRate); err != nil {
		log.Printf("[Bridge] Failed to send caller audio: %v", err)
		return
	}
	b.framesIn.Add(1)
	b.bytesIn.Add(int64(len(pcm16k)))
}

// backendLoop relays response audio to the caller, one turn at a time,
// resubscribing after each turn boundary until cancelled.
func (b *CallBridge) backendLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		turn := b.session.ReceiveTurn(ctx)
	turnLoop:
		for {
			select {
			case chunk, ok := <-turn:
				if !ok {
					break turnLoop
				}
				b.handleBackendAudio(chunk)
			case <-ctx.Done():
				return
			}
		}

		b.backendSpeaking.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interTurnDelay):
		}
	}
}

// handleBackendAudio converts one PCM response chunk to μ-law, writes
// it to the caller, and follows it with a mark so playback progress can
// be tracked through the carrier's mark acknowledgments.
func (b *CallBridge) handleBackendAudio(pcm24k []byte) {
	if len(pcm24k) == 0 {
		return
	}

	b.backendSpeaking.Store(true)
	if b.botDump != nil {
		b.botDump.Write(pcm24k)
	}

	pcm8k := audio.Resample(pcm24k, gemini.BackendOutputSampleRate, telephony.CallSampleRate)
	mulaw := audio.PCMToMuLaw(pcm8k)
	if err := b.transport.WriteMedia(b.streamSid, mulaw); err != nil {
		log.Printf("[Bridge] Failed to write response audio: %v", err)
		return
	}
	b.framesOut.Add(1)
	b.bytesOut.Add(int64(len(mulaw)))

	mark := fmt.Sprintf("chunk-%d", b.marksSent.Add(1))
	if err := b.transport.WriteMark(b.streamSid, mark); err != nil {
		log.Printf("[Bridge] Failed to write mark %s: %v", mark, err)
	}
}

// readFrame reads one frame, treating malformed JSON as a skippable
// frame rather than a fatal error.
func (b *CallBridge) readFrame() (*telephony.StreamMessage, error) {
	msg, err := b.transport.Read()
	if err != nil {
		if isMalformed(err) {
			log.Printf("[Bridge] Skipping malformed frame: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func (b *CallBridge) acquireSession(ctx context.Context) (gemini.Session, error) {
	if b.cfg.Pool != nil {
		return b.cfg.Pool.Acquire(ctx, b.callSid)
	}
	if b.cfg.Dial != nil {
		return b.cfg.Dial(ctx)
	}
	return nil, fmt.Errorf("no session source configured")
}

// releaseSession closes the backend session exactly once, through the
// pool when one owns it.
func (b *CallBridge) releaseSession() {
	b.releaseOnce.Do(func() {
		if b.session == nil {
			return
		}
		if b.cfg.Pool != nil {
			b.cfg.Pool.Release(b.callSid)
			return
		}
		if err := b.session.Close(); err != nil {
			log.Printf("[Bridge] Error closing session: %v", err)
		}
	})
}

// cleanup tears the call down in order: capture files, backend
// session, carrier transport. Each step proceeds regardless of earlier
// failures.
func (b *CallBridge) cleanup() {
	if b.callerDump != nil {
		if err := b.callerDump.Close(); err != nil {
			log.Printf("[Bridge] Error closing caller capture: %v", err)
		}
	}
	if b.botDump != nil {
		if err := b.botDump.Close(); err != nil {
			log.Printf("[Bridge] Error closing response capture: %v", err)
		}
	}

	b.releaseSession()
	b.transport.Close()
	b.phase.Store(int32(PhaseClosed))
}

func (b *CallBridge) openDumpers() {
	if !b.cfg.DumpAudio {
		return
	}
	var err error
	b.callerDump, err = audio.NewDumper(b.cfg.DumpDir, "caller", telephony.CallSampleRate, telephony.CallChannels)
	if err != nil {
		log.Printf("[Bridge] Caller capture disabled: %v", err)
	}
	b.botDump, err = audio.NewDumper(b.cfg.DumpDir, "bot", gemini.BackendOutputSampleRate, telephony.CallChannels)
	if err != nil {
		log.Printf("[Bridge] Response capture disabled: %v", err)
	}
}

func (b *CallBridge) setPhase(span oteltrace.Span, p Phase) {
	b.phase.Store(int32(p))
	trace.AddEvent(span, "phase."+p.String(), trace.PhaseAttrs(p.String())...)
}

func isMalformed(err error) bool {
	return errors.Is(err, telephony.ErrMalformedFrame)
}
