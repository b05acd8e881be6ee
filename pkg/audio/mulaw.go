// Package audio provides the audio processing primitives for the call
// bridge: μ-law (G.711) codec conversion, sample-rate conversion, and a
// WAV dumper for debug captures.
//
// mulaw.go implements μ-law audio codec conversions. μ-law is the standard
// audio encoding for telephone systems in North America and Japan; the
// telephony side delivers and expects it at 8kHz mono.
//
// Features:
//   - μ-law to Linear PCM (16-bit signed) conversion
//   - Linear PCM to μ-law conversion
//   - Lookup-table decode with a bit-manipulation reference decoder
//
// Reference: ITU-T G.711 specification

package audio

// MuLaw codec constants
const (
	MuLawBias      = 0x84  // Bias for linear code
	MuLawClip      = 32635 // Maximum linear value before clipping
	MuLawSegShift  = 4
	MuLawQuantMask = 0x0f
)

// muLawDecompressTable is a pre-computed lookup table for μ-law to linear
// PCM conversion. Each μ-law byte maps to a 16-bit signed PCM value. The
// table is the expansion of muLawDecodeRef over all 256 inputs; the tests
// cross-check the two.
var muLawDecompressTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// muLawSegmentTable holds the segment end values for μ-law encoding.
var muLawSegmentTable = [8]int16{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// muLawExpTable holds the segment base values used by the reference decoder.
var muLawExpTable = [8]int16{0, 132, 396, 924, 1980, 4092, 8316, 16764}

// MuLawDecode converts a single μ-law byte to a 16-bit signed PCM sample.
func MuLawDecode(mulaw byte) int16 {
	return muLawDecompressTable[mulaw]
}

// muLawDecodeRef is the direct ITU-T G.711 bit-manipulation decode. It is
// the reference the lookup table was generated from and serves as the
// decode fallback path.
func muLawDecodeRef(mulaw byte) int16 {
	mulaw = ^mulaw
	sign := mulaw & 0x80
	exponent := (mulaw >> MuLawSegShift) & 0x07
	mantissa := mulaw & MuLawQuantMask

	sample := muLawExpTable[exponent] + int16(mantissa)<<(exponent+3)
	if sign != 0 {
		sample = -sample
	}
	return sample
}

// MuLawEncode converts a 16-bit signed PCM sample to μ-law. Out-of-range
// magnitudes clip rather than wrap, so -32768 encodes like -32635.
func MuLawEncode(pcm int16) byte {
	// Determine sign and get magnitude; widen so -32768 negates cleanly
	var sign int32
	v := int32(pcm)
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > MuLawClip {
		v = MuLawClip
	}
	v += MuLawBias

	// Find segment
	segment := 7
	for i := 0; i < 8; i++ {
		if v <= int32(muLawSegmentTable[i]) {
			segment = i
			break
		}
	}

	// Combine sign, segment, and quantization
	return byte(^(sign | (int32(segment) << MuLawSegShift) | ((v >> (segment + 3)) & MuLawQuantMask)))
}

// MuLawToPCM converts μ-law encoded audio to 16-bit signed little-endian
// PCM. Empty input yields empty output. Returns a new slice.
func MuLawToPCM(mulaw []byte) []byte {
	if len(mulaw) == 0 {
		return []byte{}
	}
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		sample := muLawDecompressTable[b]
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// PCMToMuLaw converts 16-bit signed little-endian PCM audio to μ-law.
// Empty input yields empty output. A trailing odd byte is dropped.
func PCMToMuLaw(pcm []byte) []byte {
	numSamples := len(pcm) / 2
	if numSamples == 0 {
		return []byte{}
	}
	mulaw := make([]byte, numSamples)
	for i := 0; i < numSamples; i++ {
		sample := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		mulaw[i] = MuLawEncode(sample)
	}
	return mulaw
}
