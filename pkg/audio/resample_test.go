package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func samplesFromPCM(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func TestResampleIdentity(t *testing.T) {
	input := pcmFromSamples([]int16{1, -2, 300, -400, 32767, -32768})

	for _, rate := range []int{8000, 16000, 24000, 44100} {
		out := Resample(input, rate, rate)
		assert.Equal(t, input, out, "identity resample at %d Hz must return input unchanged", rate)
	}
}

func TestResampleEmptyInput(t *testing.T) {
	assert.Empty(t, Resample(nil, 8000, 16000))
	assert.Empty(t, Resample([]byte{}, 24000, 8000))
}

func TestResampleLength(t *testing.T) {
	// Output length must be round(n*toRate/fromRate) within ±1 for the
	// rate pairs the bridge uses.
	cases := []struct {
		name     string
		fromRate int
		toRate   int
		samples  int
	}{
		{"telephony up 8k to 16k", 8000, 16000, 160},
		{"telephony up odd chunk", 8000, 16000, 161},
		{"backend down 24k to 8k", 24000, 8000, 480},
		{"backend down odd chunk", 24000, 8000, 481},
		{"pipeline down 16k to 8k", 16000, 8000, 320},
		{"single sample", 8000, 16000, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := make([]int16, tc.samples)
			for i := range in {
				in[i] = int16(math.Round(10000 * math.Sin(float64(i)/7)))
			}

			out := Resample(pcmFromSamples(in), tc.fromRate, tc.toRate)
			require.Zero(t, len(out)%2, "output must hold whole samples")

			gotSamples := len(out) / 2
			want := int(math.Round(float64(tc.samples) * float64(tc.toRate) / float64(tc.fromRate)))
			assert.InDelta(t, want, gotSamples, 1, "sample count off by more than one")
		})
	}
}

func TestResampleDurationPreserved(t *testing.T) {
	// One second of 8kHz audio must still be one second at 16kHz within
	// a single sample of rounding.
	in := make([]int16, 8000)
	out := Resample(pcmFromSamples(in), 8000, 16000)

	inDur := float64(len(in)) / 8000
	outDur := float64(len(out)/2) / 16000
	assert.InDelta(t, inDur, outDur, 1.0/16000)
}

func TestResampleUpsamplePreservesEndpoints(t *testing.T) {
	in := []int16{0, 1000, -1000, 500}
	out := samplesFromPCM(Resample(pcmFromSamples(in), 8000, 16000))

	require.NotEmpty(t, out)
	assert.Equal(t, in[0], out[0], "first sample must survive upsampling")

	// Linear interpolation stays within the input's range
	for i, s := range out {
		assert.LessOrEqual(t, s, int16(1000), "sample %d exceeds input range", i)
		assert.GreaterOrEqual(t, s, int16(-1000), "sample %d exceeds input range", i)
	}
}

func TestResampleClampsExtremes(t *testing.T) {
	// Full-scale input must not wrap after conversion.
	in := make([]int16, 480)
	for i := range in {
		if i%2 == 0 {
			in[i] = math.MaxInt16
		} else {
			in[i] = math.MinInt16
		}
	}

	out := samplesFromPCM(Resample(pcmFromSamples(in), 24000, 8000))
	require.NotEmpty(t, out)
	for i, s := range out {
		assert.GreaterOrEqual(t, s, int16(math.MinInt16), "sample %d wrapped", i)
		assert.LessOrEqual(t, s, int16(math.MaxInt16), "sample %d wrapped", i)
	}
}
