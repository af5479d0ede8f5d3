package playback

import (
	"context"
	"sync"
	"time"
)

// Fake records what was played. Delay simulates render time; Err fails
// every call.
type Fake struct {
	Delay time.Duration
	Err   error

	mu     sync.Mutex
	played [][]byte
	rates  []int
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	f.mu.Lock()
	f.played = append(f.played, append([]byte(nil), pcm...))
	f.rates = append(f.rates, sampleRate)
	f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	return nil
}

func (f *Fake) Played() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.played...)
}

func (f *Fake) Rates() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.rates...)
}
