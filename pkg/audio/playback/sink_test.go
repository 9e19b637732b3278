package playback_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/searmo/yeiya/pkg/audio"
	"github.com/searmo/yeiya/pkg/audio/playback"
)

func TestWAVSink_FillsGaps(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	sink, err := playback.NewWAVSink(f)
	if err != nil {
		t.Fatalf("NewWAVSink: %v", err)
	}

	clock := playback.NewManualClock()
	s := playback.NewScheduler(clock, sink)
	if _, err := s.Enqueue(pcmFor(100*time.Millisecond, 1)); err != nil {
		t.Fatal(err)
	}
	// Arrives 100 ms after the first frame ended.
	clock.Advance(200 * time.Millisecond)
	if _, err := s.Enqueue(pcmFor(100*time.Millisecond, 2)); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	format, data, err := audio.ParseWAV(raw)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if format != audio.OutputFormat {
		t.Errorf("format = %v", format)
	}
	samples := audio.BytesToPCM16(data)
	if want := 3 * 2400; len(samples) != want {
		t.Fatalf("samples = %d, want %d", len(samples), want)
	}
	if samples[0] != 1 || samples[2400] != 0 || samples[4800] != 2 {
		t.Errorf("timeline = %d/%d/%d, want 1/0/2", samples[0], samples[2400], samples[4800])
	}
}

func TestMultiSink(t *testing.T) {
	t.Parallel()

	var a, b int
	m := playback.MultiSink{
		playback.SinkFunc(func(playback.Buffer) error { a++; return nil }),
		playback.SinkFunc(func(playback.Buffer) error { b++; return nil }),
	}
	if err := m.Play(playback.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if a != 1 || b != 1 {
		t.Errorf("a=%d b=%d, want 1/1", a, b)
	}
}
