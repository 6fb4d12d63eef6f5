package audio

import (
	"encoding/binary"
	"math"
)

// levelBoost lifts typical speech (RMS 0.02-0.1) into the middle of the meter.
const levelBoost = 1.6

// RMS returns the root mean square of samples normalized to [0,1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		normalized := float64(s) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// Amplitude maps a frame to a display level in [0,1]. The curve is a
// boosted square root of the RMS: monotonic, 0 for silence, saturating at 1.
func Amplitude(samples []int16) float64 {
	rms := RMS(samples)
	if rms <= 0 {
		return 0
	}
	return math.Min(1, math.Sqrt(rms)*levelBoost)
}

// Samples decodes little-endian int16 PCM bytes. A trailing odd byte is ignored.
func Samples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
