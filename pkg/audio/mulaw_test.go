package audio

import (
	"testing"
)

func TestMuLawEncodeDecode(t *testing.T) {
	// Test round-trip encoding/decoding
	testSamples := []int16{0, 100, 1000, 10000, 32000, -100, -1000, -10000, -32000}

	for _, original := range testSamples {
		encoded := MuLawEncode(original)
		decoded := MuLawDecode(encoded)

		// μ-law is lossy, so we check if decoded is close to original.
		// The error should be within the quantization step for the segment.
		diff := original - decoded
		if diff < 0 {
			diff = -diff
		}

		// Allow up to 5% error or 200 absolute for μ-law lossy compression.
		// Large values have larger quantization steps.
		absOriginal := original
		if absOriginal < 0 {
			absOriginal = -absOriginal
		}
		maxError := int16(float64(absOriginal) * 0.05)
		if maxError < 200 {
			maxError = 200
		}

		if diff > maxError && original != 0 {
			t.Errorf("MuLaw round-trip for %d: encoded=%02x, decoded=%d, diff=%d (max allowed: %d)", original, encoded, decoded, diff, maxError)
		}
	}
}

func TestMuLawDecodeMatchesReference(t *testing.T) {
	// The lookup table must agree with the bit-manipulation reference
	// decoder for every possible input byte.
	for i := 0; i < 256; i++ {
		b := byte(i)
		table := MuLawDecode(b)
		ref := muLawDecodeRef(b)
		if table != ref {
			t.Errorf("Decode mismatch for %02x: table=%d, reference=%d", b, table, ref)
		}
	}
}

func TestMuLawRoundTripAllBytes(t *testing.T) {
	// decode→encode→decode must be stable: encoding a decoded value
	// yields a byte that decodes back to the same value.
	for i := 0; i < 256; i++ {
		decoded := MuLawDecode(byte(i))
		reencoded := MuLawEncode(decoded)
		redecoded := MuLawDecode(reencoded)
		if redecoded != decoded {
			t.Errorf("Unstable round-trip for %02x: decoded=%d, redecoded=%d", i, decoded, redecoded)
		}
	}
}

func TestMuLawToPCM(t *testing.T) {
	// Test buffer conversion
	mulaw := []byte{0x7F, 0xFF, 0x00, 0x80}
	pcm := MuLawToPCM(mulaw)

	if len(pcm) != len(mulaw)*2 {
		t.Errorf("Expected PCM length %d, got %d", len(mulaw)*2, len(pcm))
	}

	// Verify individual conversions
	for i, b := range mulaw {
		expected := MuLawDecode(b)
		got := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		if got != expected {
			t.Errorf("Sample %d: expected %d, got %d", i, expected, got)
		}
	}
}

func TestPCMToMuLaw(t *testing.T) {
	// Create PCM samples
	samples := []int16{0, 1000, -1000, 10000, -10000}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}

	mulaw := PCMToMuLaw(pcm)

	if len(mulaw) != len(samples) {
		t.Errorf("Expected μ-law length %d, got %d", len(samples), len(mulaw))
	}

	// Verify individual conversions
	for i, s := range samples {
		expected := MuLawEncode(s)
		if mulaw[i] != expected {
			t.Errorf("Sample %d (%d): expected %02x, got %02x", i, s, expected, mulaw[i])
		}
	}
}

func TestMuLawEmptyInput(t *testing.T) {
	if got := MuLawToPCM(nil); len(got) != 0 {
		t.Errorf("MuLawToPCM(nil) = %v, want empty", got)
	}
	if got := MuLawToPCM([]byte{}); len(got) != 0 {
		t.Errorf("MuLawToPCM(empty) = %v, want empty", got)
	}
	if got := PCMToMuLaw(nil); len(got) != 0 {
		t.Errorf("PCMToMuLaw(nil) = %v, want empty", got)
	}
	// A single odd byte carries no complete sample
	if got := PCMToMuLaw([]byte{0x01}); len(got) != 0 {
		t.Errorf("PCMToMuLaw(odd byte) = %v, want empty", got)
	}
}

func TestMuLawEncodeClips(t *testing.T) {
	// Values beyond the clip threshold must encode to the extremes
	// without wrapping sign.
	maxEncoded := MuLawEncode(32767)
	if MuLawDecode(maxEncoded) < 0 {
		t.Errorf("Positive overflow wrapped to negative: %d", MuLawDecode(maxEncoded))
	}
	minEncoded := MuLawEncode(-32768)
	if MuLawDecode(minEncoded) > 0 {
		t.Errorf("Negative overflow wrapped to positive: %d", MuLawDecode(minEncoded))
	}
}
