package transcriber

import (
	"context"
	"sync"
	"time"

	"github.com/valon-loshaj/utter-sense/apperr"
	"github.com/valon-loshaj/utter-sense/encoder"
	"github.com/valon-loshaj/utter-sense/log"
)

type StreamConfig struct {
	ChunkDuration   time.Duration // audio accumulates in chunks of this length
	ProcessInterval time.Duration // preview tick cadence
	WindowChunks    int           // trailing context sent per preview call
	MinPayload      int           // encoded bytes below this skip the call
	PreviewDepth    int           // rolling preview buffer size
	Format          string        // payload encoding, "flac" or "wav"
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ChunkDuration:   time.Second,
		ProcessInterval: 2 * time.Second,
		WindowChunks:    60,
		MinPayload:      1024,
		PreviewDepth:    20,
		Format:          "flac",
	}
}

// Streamer accumulates one utterance worth of capture audio and keeps a
// rolling preview transcript while the user speaks. Ticks are time-based
// rather than chained to call completion; a pending flag makes sure only
// one window call is in flight, and the processed marker advances whether
// or not the call succeeded, so one bad window never stalls the next.
type Streamer struct {
	cfg       StreamConfig
	client    Client
	onPreview func(text string)

	mu            sync.Mutex
	active        bool
	pending       bool
	current       []int16
	chunks        [][]int16
	lastProcessed int
	previews      []string
	stopCh        chan struct{}
	loopDone      chan struct{}
}

func NewStreamer(cfg StreamConfig, client Client, onPreview func(text string)) *Streamer {
	return &Streamer{cfg: cfg, client: client, onPreview: onPreview}
}

func (s *Streamer) chunkSamples() int {
	return int(s.cfg.ChunkDuration.Seconds() * encoder.SampleRate)
}

// Start begins a fresh utterance, discarding any previous audio.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return apperr.New(apperr.CodeInitialization, "no transcription client")
	}
	if s.active {
		return nil
	}
	s.active = true
	s.pending = false
	s.current = nil
	s.chunks = nil
	s.lastProcessed = 0
	s.previews = nil
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	if w, ok := s.client.(warmer); ok {
		go w.Warm()
	}
	go s.loop(s.stopCh, s.loopDone)
	return nil
}

// Stop halts the preview tick. Accumulated audio is kept so Final can still
// transcribe the whole utterance; a window call already in flight finishes
// in the background and its preview is dropped.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	done := s.loopDone
	s.mu.Unlock()
	<-done
}

// Feed accepts 16-bit little-endian mono PCM from the capture callback.
func (s *Streamer) Feed(pcm []byte) {
	samples := encoder.Samples(pcm)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.current = append(s.current, samples...)
	for n := s.chunkSamples(); len(s.current) >= n; {
		chunk := make([]int16, n)
		copy(chunk, s.current[:n])
		s.chunks = append(s.chunks, chunk)
		s.current = s.current[n:]
	}
}

// Preview returns the newest buffered preview transcript.
func (s *Streamer) Preview() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.previews) == 0 {
		return ""
	}
	return s.previews[len(s.previews)-1]
}

func (s *Streamer) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.ProcessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.maybeProcess()
		}
	}
}

// maybeProcess issues one window call if new chunks arrived and no call is
// pending. The returned channel closes when the call (if any) completes.
func (s *Streamer) maybeProcess() <-chan struct{} {
	s.mu.Lock()
	if !s.active || s.pending || len(s.chunks) == s.lastProcessed {
		s.mu.Unlock()
		return nil
	}
	start := max(len(s.chunks)-s.cfg.WindowChunks, 0)
	var samples []int16
	for _, c := range s.chunks[start:] {
		samples = append(samples, c...)
	}
	target := len(s.chunks)
	s.pending = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.processWindow(samples, target)
	}()
	return done
}

func (s *Streamer) processWindow(samples []int16, target int) {
	payload, err := encoder.Encode(samples, s.cfg.Format)
	if err != nil {
		log.Errorf("window encode failed: %v", err)
		s.finishWindow(target, "")
		return
	}
	if len(payload) < s.cfg.MinPayload {
		// Too little audio to be worth a call; leave the marker so the
		// next tick retries with more chunks.
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
		return
	}

	res, err := s.client.Transcribe(context.Background(), payload, s.cfg.Format)
	if err != nil {
		log.Errorf("window transcription failed: %v", err)
		s.finishWindow(target, "")
		return
	}
	s.logMetrics(res, len(samples), len(payload), true)
	s.finishWindow(target, Clean(res.Text))
}

// finishWindow advances the processed marker regardless of outcome and
// publishes a non-empty preview.
func (s *Streamer) finishWindow(target int, preview string) {
	s.mu.Lock()
	s.pending = false
	if target > s.lastProcessed {
		s.lastProcessed = target
	}
	publish := s.active && preview != ""
	if publish {
		s.previews = append(s.previews, preview)
		if len(s.previews) > s.cfg.PreviewDepth {
			s.previews = s.previews[len(s.previews)-s.cfg.PreviewDepth:]
		}
	}
	cb := s.onPreview
	s.mu.Unlock()
	if publish && cb != nil {
		cb(preview)
	}
}

// Final transcribes the entire accumulated utterance. Unlike window calls,
// a failure here is surfaced: the caller cannot complete the turn without
// the authoritative transcript.
func (s *Streamer) Final(ctx context.Context) (string, error) {
	s.mu.Lock()
	var samples []int16
	for _, c := range s.chunks {
		samples = append(samples, c...)
	}
	samples = append(samples, s.current...)
	s.mu.Unlock()

	if len(samples) == 0 {
		return "", nil
	}
	payload, err := encoder.Encode(samples, s.cfg.Format)
	if err != nil {
		return "", err
	}
	res, err := s.client.Transcribe(ctx, payload, s.cfg.Format)
	if err != nil {
		return "", err
	}
	s.logMetrics(res, len(samples), len(payload), false)
	return Clean(res.Text), nil
}

func (s *Streamer) logMetrics(res *Result, sampleCount, payloadLen int, window bool) {
	m := log.TranscriptionMetricsData{
		Window:       window,
		AudioLengthS: encoder.Duration(uint64(sampleCount)),
		PayloadKB:    float64(payloadLen) / 1024,
	}
	if res.Metrics != nil {
		m.TLSMs = float64(res.Metrics.TLS.Milliseconds())
		m.TTFBMs = float64(res.Metrics.TTFB.Milliseconds())
		m.TotalMs = float64(res.Metrics.Total.Milliseconds())
		m.ConnReused = res.Metrics.ConnReused
	}
	log.TranscriptionMetrics(s.client.Name(), s.cfg.Format, m)
}
