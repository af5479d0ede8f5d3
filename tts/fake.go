package tts

import (
	"context"
	"sync"
)

// Fake synthesizes a fixed-length buffer per call and records the input
// text.
type Fake struct {
	Err error

	mu    sync.Mutex
	texts []string
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Synthesize(_ context.Context, text string) (Audio, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.Err != nil {
		return Audio{}, f.Err
	}
	return Audio{PCM: make([]byte, 3200), SampleRate: 16000}, nil
}

func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}
