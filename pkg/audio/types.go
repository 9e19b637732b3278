package audio

import "time"

// Sample rates fixed by the live voice contract. They never change for the
// lifetime of a session.
const (
	// InputSampleRate is the rate of microphone audio sent to the model.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesised speech returned by the model.
	OutputSampleRate = 24000

	// BytesPerSample is the width of one signed 16-bit little-endian sample.
	BytesPerSample = 2
)

var (
	// InputFormat is the outbound (microphone → model) format.
	InputFormat = Format{SampleRate: InputSampleRate, Channels: 1}

	// OutputFormat is the inbound (model → speaker) format.
	OutputFormat = Format{SampleRate: OutputSampleRate, Channels: 1}
)

// SamplesDuration converts a sample count at rate Hz into a duration.
func SamplesDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(rate))
}
