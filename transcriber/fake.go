package transcriber

import (
	"context"
	"sync"
)

// Fake returns scripted transcripts in call order, repeating the last one
// once the script runs out. An entry with a non-nil Err fails that call.
type Fake struct {
	mu     sync.Mutex
	script []FakeResponse
	calls  []FakeCall
}

type FakeResponse struct {
	Text string
	Err  error
}

type FakeCall struct {
	Audio  []byte
	Format string
}

func NewFake(script ...FakeResponse) *Fake {
	return &Fake{script: script}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Transcribe(_ context.Context, audio []byte, format string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Audio: audio, Format: format})

	if len(f.script) == 0 {
		return &Result{}, nil
	}
	idx := len(f.calls) - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	r := f.script[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return &Result{Text: r.Text}, nil
}

func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}
