package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys used throughout the application
const (
	// Call attributes
	AttrCallSID    = "call.sid"
	AttrStreamSID  = "call.stream_sid"
	AttrCallPhase  = "call.phase"
	AttrCallTo     = "call.to"
	AttrAnsweredBy = "call.answered_by"

	// Audio attributes
	AttrAudioSampleRate = "audio.sample_rate"
	AttrAudioCodec      = "audio.codec"
	AttrAudioDataSize   = "audio.data_size"
	AttrAudioChunks     = "audio.chunks"

	// Backend session attributes
	AttrBackendModel = "backend.model"
	AttrPoolDepth    = "pool.depth"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// CallAttrs creates attributes identifying one call
func CallAttrs(callSid, streamSid string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCallSID, callSid),
		attribute.String(AttrStreamSID, streamSid),
	}
}

// AudioAttrs creates attributes for audio data
func AudioAttrs(sampleRate, dataSize int, codec string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAudioSampleRate, sampleRate),
		attribute.Int(AttrAudioDataSize, dataSize),
		attribute.String(AttrAudioCodec, codec),
	}
}

// PhaseAttrs creates attributes for bridge phase transitions
func PhaseAttrs(phase string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCallPhase, phase),
	}
}

// ErrorAttrs creates attributes for errors
func ErrorAttrs(errType, errMsg string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, errMsg),
	}
}
