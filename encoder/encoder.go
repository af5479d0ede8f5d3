// Package encoder turns captured PCM into transcription payloads. FLAC is
// the default (lossless, roughly half the raw size); WAV exists as a
// zero-dependency fallback accepted by every transcription API.
package encoder

import (
	"encoding/binary"
	"fmt"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

func New(format string) (Encoder, error) {
	switch format {
	case "flac":
		return NewFlac()
	case "wav":
		return NewWav(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Encode runs samples through a fresh encoder in BlockSize blocks and
// returns the finished payload. Window payloads are re-encoded from scratch
// on every transcription tick, so there is no streaming state to keep.
func Encode(samples []int16, format string) ([]byte, error) {
	enc, err := New(format)
	if err != nil {
		return nil, err
	}
	for len(samples) > 0 {
		n := min(len(samples), BlockSize)
		if err := enc.EncodeBlock(samples[:n]); err != nil {
			return nil, err
		}
		samples = samples[n:]
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// Samples reinterprets 16-bit little-endian PCM bytes; a trailing odd byte
// is dropped.
func Samples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Duration returns the audio length in seconds for a frame count.
func Duration(frames uint64) float64 {
	return float64(frames) / float64(SampleRate)
}
