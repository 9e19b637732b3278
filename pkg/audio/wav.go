package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// EncodeWAV wraps raw 16-bit signed little-endian PCM in a canonical
// RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) []byte {
	buf := make([]byte, wavHeaderSize+len(pcm))
	putWAVHeader(buf, f, len(pcm))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

func putWAVHeader(buf []byte, f Format, dataSize int) {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	byteRate := f.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}

// ParseWAV walks the RIFF chunks of wav and returns the stream format and the
// PCM payload of the data chunk. Only 16-bit PCM is accepted.
func ParseWAV(wav []byte) (Format, []byte, error) {
	if len(wav) < 12 {
		return Format{}, nil, errors.New("audio: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Format{}, nil, errors.New("audio: missing RIFF/WAVE header")
	}

	var f Format
	foundFmt := false
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return Format{}, nil, errors.New("audio: truncated fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(wav[body:]); tag != 1 {
				return Format{}, nil, fmt.Errorf("audio: unsupported WAV format tag %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			if bps := binary.LittleEndian.Uint16(wav[body+14:]); bps != bitsPerSample {
				return Format{}, nil, fmt.Errorf("audio: unsupported WAV bit depth %d", bps)
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return Format{}, nil, errors.New("audio: data chunk before fmt chunk")
			}
			end := min(body+size, len(wav))
			return f, wav[body:end], nil
		}

		// Chunks are word aligned.
		offset = body + size + size%2
	}
	return Format{}, nil, errors.New("audio: no data chunk")
}

// ReadWAV reads a whole WAV stream. See [ParseWAV].
func ReadWAV(r io.Reader) (Format, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Format{}, nil, fmt.Errorf("audio: read WAV: %w", err)
	}
	return ParseWAV(data)
}

// WAVWriter streams PCM into a WAV file. The header is rewritten with the
// final sizes on Close.
type WAVWriter struct {
	w      io.WriteSeeker
	format Format
	n      int
	closed bool
}

// NewWAVWriter writes a placeholder header to w and returns a writer for
// 16-bit PCM in format f.
func NewWAVWriter(w io.WriteSeeker, f Format) (*WAVWriter, error) {
	hdr := make([]byte, wavHeaderSize)
	putWAVHeader(hdr, f, 0)
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("audio: write WAV header: %w", err)
	}
	return &WAVWriter{w: w, format: f}, nil
}

// Write appends PCM bytes.
func (ww *WAVWriter) Write(pcm []byte) (int, error) {
	if ww.closed {
		return 0, errors.New("audio: WAV writer closed")
	}
	n, err := ww.w.Write(pcm)
	ww.n += n
	return n, err
}

// Written returns the number of PCM bytes written so far.
func (ww *WAVWriter) Written() int { return ww.n }

// Close finalises the header. It does not close the underlying writer.
func (ww *WAVWriter) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	hdr := make([]byte, wavHeaderSize)
	putWAVHeader(hdr, ww.format, ww.n)
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("audio: seek WAV header: %w", err)
	}
	if _, err := ww.w.Write(hdr); err != nil {
		return fmt.Errorf("audio: rewrite WAV header: %w", err)
	}
	_, err := ww.w.Seek(0, io.SeekEnd)
	return err
}
