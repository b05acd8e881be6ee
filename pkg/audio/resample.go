// resample.go implements stateless sample-rate conversion for 16-bit
// signed mono PCM via linear interpolation.
//
// The bridge needs three conversions: telephony input 8kHz → 16kHz for
// the AI backend, and backend output 24kHz → 8kHz for telephony. Linear
// interpolation is sufficient for narrowband telephone speech; the output
// is clamped to the int16 range rather than wrapped.

package audio

import (
	"encoding/binary"
	"math"
)

// Resample converts 16-bit signed little-endian mono PCM from fromRate to
// toRate. When fromRate == toRate the input slice is returned unchanged.
// The output holds round(n*toRate/fromRate) samples within ±1 of the
// exact ratio, so total duration is preserved up to one sample of
// rounding. Empty input yields empty output.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if len(pcm) == 0 || fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}

	numSamples := len(pcm) / 2
	if numSamples == 0 {
		return []byte{}
	}

	in := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	ratio := float64(toRate) / float64(fromRate)
	outLen := int(math.Round(float64(numSamples) * ratio))
	if outLen < 1 {
		outLen = 1
	}

	out := make([]byte, outLen*2)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= numSamples {
			i0 = numSamples - 1
		}
		i1 := i0 + 1
		if i1 >= numSamples {
			i1 = numSamples - 1
		}
		frac := srcPos - float64(i0)

		v := float64(in[i0])*(1.0-frac) + float64(in[i1])*frac
		// Clamp, never wrap
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v))))
	}

	return out
}
