// Package playback renders 16-bit little-endian mono PCM on the default
// output device.
package playback

import "context"

type Player interface {
	// Play blocks until the audio has been rendered or ctx is canceled.
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}
