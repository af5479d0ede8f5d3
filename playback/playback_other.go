//go:build !linux

package playback

import (
	"context"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/valon-loshaj/utter-sense/apperr"
)

type malgoPlayer struct{}

func New() (Player, error) {
	return &malgoPlayer{}, nil
}

func (p *malgoPlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) < 2 {
		return nil
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeDevice, "audio context init failed", err)
	}
	defer func() {
		mctx.Uninit()
		mctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)

	var mu sync.Mutex
	pos := 0
	done := make(chan struct{})
	var once sync.Once

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			mu.Lock()
			n := copy(output, pcm[pos:])
			pos += n
			finished := pos >= len(pcm)
			mu.Unlock()
			if finished {
				once.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return apperr.Wrap(apperr.CodeDevice, "playback device init failed", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return apperr.Wrap(apperr.CodeDevice, "playback start failed", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
