package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// BytesToText encodes raw bytes with standard base64 so they can travel
// inside JSON text frames.
func BytesToText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// TextToBytes is the inverse of [BytesToText]. It fails only for text that
// BytesToText could not have produced.
func TextToBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode text: %w", err)
	}
	return b, nil
}

// PCM16ToFloat maps each signed 16-bit sample to s/32768, giving values in
// [-1.0, 1.0).
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FloatToPCM16 maps floats to signed 16-bit samples by x*32768, clamped to the
// int16 range. NaN maps to 0.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, x := range samples {
		out[i] = floatSample(float64(x))
	}
	return out
}

func floatSample(x float64) int16 {
	if math.IsNaN(x) {
		return 0
	}
	v := x * 32768.0
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// BytesToPCM16 decodes little-endian 16-bit samples. A trailing odd byte is
// ignored.
func BytesToPCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// PCM16ToBytes encodes samples as little-endian 16-bit PCM.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FloatToBytes is FloatToPCM16 followed by PCM16ToBytes.
func FloatToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, x := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatSample(float64(x))))
	}
	return out
}

// BytesToFloat is BytesToPCM16 followed by PCM16ToFloat.
func BytesToFloat(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768.0
	}
	return out
}
