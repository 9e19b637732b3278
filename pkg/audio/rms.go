package audio

import "math"

// RMS returns the root mean square of samples. An empty slice yields 0.
func RMS(samples []float32) float64 {
	return RMSStride(samples, 1)
}

// RMSStride estimates RMS from every stride-th sample. Large capture blocks
// are cheap to gate this way without visibly changing the detector outcome.
// A stride below 1 is treated as 1.
func RMSStride(samples []float32, stride int) float64 {
	if stride < 1 {
		stride = 1
	}
	var sum float64
	var n int
	for i := 0; i < len(samples); i += stride {
		v := float64(samples[i])
		sum += v * v
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
