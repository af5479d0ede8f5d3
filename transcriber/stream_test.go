package transcriber

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/valon-loshaj/utter-sense/apperr"
)

// testStreamCfg keeps chunks tiny and the tick loop out of the way so tests
// drive maybeProcess directly.
func testStreamCfg() StreamConfig {
	return StreamConfig{
		ChunkDuration:   10 * time.Millisecond, // 160 samples
		ProcessInterval: time.Hour,
		WindowChunks:    60,
		MinPayload:      1,
		PreviewDepth:    20,
		Format:          "wav",
	}
}

const wavHeaderBytes = 44

func feedChunks(s *Streamer, n int) {
	samples := n * s.chunkSamples()
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(100))
	}
	s.Feed(pcm)
}

func processOnce(t *testing.T, s *Streamer) {
	t.Helper()
	done := s.maybeProcess()
	if done == nil {
		t.Fatal("maybeProcess skipped, expected a window call")
	}
	<-done
}

func TestWindowPreviewCleaned(t *testing.T) {
	fake := NewFake(FakeResponse{Text: "  hel\nlo   thereé "})
	s := NewStreamer(testStreamCfg(), fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	feedChunks(s, 2)
	processOnce(t, s)

	if got := s.Preview(); got != "hel lo there" {
		t.Errorf("Preview = %q, want %q", got, "hel lo there")
	}
	calls := fake.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Format != "wav" {
		t.Errorf("format = %q, want wav", calls[0].Format)
	}
}

func TestWindowSlides(t *testing.T) {
	cfg := testStreamCfg()
	cfg.WindowChunks = 2
	fake := NewFake(FakeResponse{Text: "x"})
	s := NewStreamer(cfg, fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	feedChunks(s, 3)
	processOnce(t, s)

	want := wavHeaderBytes + 2*s.chunkSamples()*2
	if got := len(fake.Calls()[0].Audio); got != want {
		t.Errorf("window payload = %d bytes, want %d (trailing 2 chunks)", got, want)
	}
}

type blockingClient struct {
	release chan struct{}
}

func (b *blockingClient) Name() string { return "blocking" }

func (b *blockingClient) Transcribe(_ context.Context, _ []byte, _ string) (*Result, error) {
	<-b.release
	return &Result{Text: "done"}, nil
}

func TestPendingCallGatesNextTick(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	s := NewStreamer(testStreamCfg(), client, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	feedChunks(s, 1)
	done := s.maybeProcess()
	if done == nil {
		t.Fatal("first tick should issue a call")
	}

	feedChunks(s, 1)
	if s.maybeProcess() != nil {
		t.Error("tick during a pending call should skip")
	}

	close(client.release)
	<-done
	processOnce(t, s) // pending cleared, new chunk processed
}

func TestFailedWindowAdvancesMarker(t *testing.T) {
	fake := NewFake(
		FakeResponse{Err: errors.New("boom")},
		FakeResponse{Text: "recovered"},
	)
	s := NewStreamer(testStreamCfg(), fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	feedChunks(s, 1)
	processOnce(t, s)
	if got := s.Preview(); got != "" {
		t.Errorf("Preview after failed window = %q, want empty", got)
	}

	// No new chunks: the failed window is not retried.
	if s.maybeProcess() != nil {
		t.Error("failed window was retried without new audio")
	}

	feedChunks(s, 1)
	processOnce(t, s)
	if got := s.Preview(); got != "recovered" {
		t.Errorf("Preview = %q, want %q", got, "recovered")
	}
}

func TestBelowMinPayloadDefersCall(t *testing.T) {
	cfg := testStreamCfg()
	cfg.MinPayload = 1 << 20
	fake := NewFake(FakeResponse{Text: "x"})
	s := NewStreamer(cfg, fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	feedChunks(s, 1)
	done := s.maybeProcess()
	if done == nil {
		t.Fatal("expected a processing attempt")
	}
	<-done
	if len(fake.Calls()) != 0 {
		t.Error("payload below the floor was still sent")
	}
	// The marker did not advance, so more audio triggers a retry.
	if s.maybeProcess() == nil {
		t.Error("undersized window was not retried")
	}
}

func TestPreviewBufferBounded(t *testing.T) {
	cfg := testStreamCfg()
	cfg.PreviewDepth = 2
	fake := NewFake(FakeResponse{Text: "a"}, FakeResponse{Text: "b"}, FakeResponse{Text: "c"})
	s := NewStreamer(cfg, fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for i := 0; i < 3; i++ {
		feedChunks(s, 1)
		processOnce(t, s)
	}
	s.mu.Lock()
	depth := len(s.previews)
	s.mu.Unlock()
	if depth != 2 {
		t.Errorf("preview buffer depth = %d, want 2", depth)
	}
	if got := s.Preview(); got != "c" {
		t.Errorf("Preview = %q, want newest", got)
	}
}

func TestFinalCoversWholeUtterance(t *testing.T) {
	fake := NewFake(FakeResponse{Text: " the final  text "})
	s := NewStreamer(testStreamCfg(), fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	feedChunks(s, 2)
	// A partial chunk that never crossed the boundary still counts.
	partial := make([]byte, 100*2)
	s.Feed(partial)
	s.Stop()

	text, err := s.Final(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if text != "the final text" {
		t.Errorf("Final = %q", text)
	}
	wantSamples := 2*s.chunkSamples() + 100
	if got := len(fake.Calls()[0].Audio); got != wavHeaderBytes+wantSamples*2 {
		t.Errorf("final payload = %d bytes, want %d", got, wavHeaderBytes+wantSamples*2)
	}
}

func TestFinalWithNoAudio(t *testing.T) {
	fake := NewFake()
	s := NewStreamer(testStreamCfg(), fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	text, err := s.Final(context.Background())
	if err != nil || text != "" {
		t.Errorf("Final = %q, %v; want empty, nil", text, err)
	}
	if len(fake.Calls()) != 0 {
		t.Error("empty utterance still issued a call")
	}
}

func TestFinalErrorSurfaces(t *testing.T) {
	fake := NewFake(FakeResponse{Err: errors.New("provider down")})
	s := NewStreamer(testStreamCfg(), fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	feedChunks(s, 1)
	s.Stop()

	if _, err := s.Final(context.Background()); err == nil {
		t.Error("expected final transcription error")
	}
}

func TestStartWithoutClient(t *testing.T) {
	s := NewStreamer(testStreamCfg(), nil, nil)
	err := s.Start()
	if !apperr.HasCode(err, apperr.CodeInitialization) {
		t.Errorf("got %v, want initialization error", err)
	}
}

func TestStartResetsUtterance(t *testing.T) {
	fake := NewFake(FakeResponse{Text: "x"})
	s := NewStreamer(testStreamCfg(), fake, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	feedChunks(s, 2)
	s.Stop()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	text, err := s.Final(context.Background())
	if err != nil || text != "" {
		t.Errorf("audio from previous utterance leaked into Final: %q, %v", text, err)
	}
}
