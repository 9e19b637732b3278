package audio

import (
	"fmt"
	"log/slog"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }

// FormatConverter converts interleaved float sample blocks from a device
// format to a mono target rate. Downmixing happens before resampling so the
// resampler only ever sees one channel. It keeps resampler state between
// blocks; create one per stream.
type FormatConverter struct {
	Source Format
	Target Format

	once      sync.Once
	initErr   error
	resampler resampling.Resampler
}

// NewFormatConverter returns a converter from src to dst. dst must be mono.
func NewFormatConverter(src, dst Format) (*FormatConverter, error) {
	if dst.Channels != 1 {
		return nil, fmt.Errorf("audio: converter target must be mono, got %s", dst)
	}
	if src.SampleRate <= 0 || dst.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid converter formats %s -> %s", src, dst)
	}
	c := &FormatConverter{Source: src, Target: dst}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

// Passthrough reports whether Convert only downmixes.
func (c *FormatConverter) Passthrough() bool {
	return c.Source.SampleRate == c.Target.SampleRate
}

func (c *FormatConverter) init() error {
	c.once.Do(func() {
		if c.Passthrough() {
			return
		}
		slog.Debug("audio format converter: resampling",
			"from", c.Source.String(),
			"to", c.Target.String(),
		)
		c.resampler, c.initErr = resampling.New(&resampling.Config{
			InputRate:  float64(c.Source.SampleRate),
			OutputRate: float64(c.Target.SampleRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if c.initErr != nil {
			c.initErr = fmt.Errorf("audio: create resampler: %w", c.initErr)
		}
	})
	return c.initErr
}

// Convert downmixes block to mono and resamples it to the target rate. The
// output length may differ from the ideal ratio because the resampler
// buffers filter history across calls.
func (c *FormatConverter) Convert(block []float32) ([]float32, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	mono := DownmixFloat(block, c.Source.Channels)
	if c.resampler == nil {
		return mono, nil
	}
	in := make([]float64, len(mono))
	for i, s := range mono {
		in[i] = float64(s)
	}
	out, err := c.resampler.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}

// DownmixFloat averages interleaved channels into a mono block. Blocks that
// are already mono are returned unchanged.
func DownmixFloat(block []float32, channels int) []float32 {
	if channels <= 1 {
		return block
	}
	frames := len(block) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += block[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
