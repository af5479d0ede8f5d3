//go:build linux

package playback

import (
	"context"
	"encoding/binary"

	"github.com/jfreymuth/pulse"

	"github.com/valon-loshaj/utter-sense/apperr"
)

type pulsePlayer struct{}

func New() (Player, error) {
	// The pulse client is per-playback; holding one open between replies
	// keeps a needless server connection alive.
	return &pulsePlayer{}, nil
}

func (p *pulsePlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) < 2 {
		return nil
	}
	c, err := pulse.NewClient()
	if err != nil {
		return apperr.Wrap(apperr.CodeDevice, "pulseaudio connect failed", err)
	}
	defer c.Close()

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})

	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDevice, "pulseaudio playback stream failed", err)
	}
	defer stream.Close()

	stream.Start()
	done := make(chan struct{})
	go func() {
		stream.Drain()
		close(done)
	}()
	select {
	case <-ctx.Done():
		stream.Stop()
		return ctx.Err()
	case <-done:
		stream.Stop()
		return nil
	}
}
