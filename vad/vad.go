// Package vad watches the capture stream's energy level and decides when
// the speaker has gone quiet for long enough to end the utterance.
package vad

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/valon-loshaj/utter-sense/apperr"
	"github.com/valon-loshaj/utter-sense/log"
)

type Config struct {
	ThresholdDB   float64       // dBFS floor below which a poll counts as silence
	MaxSilence    time.Duration // smoothed silence needed to end the utterance
	MinSilence    time.Duration // raw silence needed before progress is reported
	SoundDebounce time.Duration // how long sound must persist to reset the timer
	Smoothing     float64       // exponential smoothing factor for the duration
	PollInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ThresholdDB:   -65,
		MaxSilence:    3 * time.Second,
		MinSilence:    500 * time.Millisecond,
		SoundDebounce: 300 * time.Millisecond,
		Smoothing:     0.15,
		PollInterval:  10 * time.Millisecond,
	}
}

// Monitor accumulates PCM fed by the capture callback and polls it on a
// fixed cadence. Below-threshold polls grow a silence timer; the reported
// duration is exponentially smoothed to suppress jitter, and once it
// reaches MaxSilence the silence callback fires exactly once and polling
// stops. Sound must persist past SoundDebounce before the timer resets.
type Monitor struct {
	cfg        Config
	onProgress func(seconds float64)
	onSilence  func()
	now        func() time.Time

	mu       sync.Mutex
	attached bool
	active   bool
	stopCh   chan struct{}
	done     chan struct{}

	sumSquares  float64
	sampleCount int
	lastDB      float64
	hasLevel    bool

	silenceStart time.Time
	soundStart   time.Time
	smoothed     float64
	reporting    bool
}

func New(cfg Config, onProgress func(seconds float64), onSilence func()) *Monitor {
	return &Monitor{
		cfg:        cfg,
		onProgress: onProgress,
		onSilence:  onSilence,
		now:        time.Now,
	}
}

// Attach marks a capture stream as wired into Process. Start refuses to
// run without one.
func (m *Monitor) Attach() {
	m.mu.Lock()
	m.attached = true
	m.mu.Unlock()
}

// Process accumulates 16-bit little-endian mono PCM. Safe to call from the
// capture callback goroutine; samples fed while the monitor is stopped are
// dropped.
func (m *Monitor) Process(pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		m.sumSquares += s * s
		m.sampleCount++
	}
}

func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.attached {
		return apperr.New(apperr.CodeDevice, "no audio source attached")
	}
	if m.active {
		return nil
	}
	m.active = true
	m.sumSquares = 0
	m.sampleCount = 0
	m.hasLevel = false
	m.silenceStart = time.Time{}
	m.soundStart = time.Time{}
	m.smoothed = 0
	m.reporting = false
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stopCh, m.done)
	return nil
}

// Stop halts the poll loop and waits for it to exit. Idempotent; a poll
// scheduled before Stop observes the cleared active flag and no-ops.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()
	<-done
}

func (m *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		progress, report, fired := m.step(m.now())
		if report && m.onProgress != nil {
			m.onProgress(progress)
		}
		if fired {
			log.SilenceDetected(progress)
			if m.onSilence != nil {
				m.onSilence()
			}
			return
		}
	}
}

// step runs one poll against the samples accumulated since the last one.
// With no fresh samples the previous level is carried forward, so the
// silence timer keeps advancing between capture callbacks.
func (m *Monitor) step(now time.Time) (progress float64, report, fired bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return 0, false, false
	}

	if m.sampleCount > 0 {
		rms := math.Sqrt(m.sumSquares / float64(m.sampleCount))
		m.lastDB = 20 * math.Log10(rms) // rms 0 gives -Inf, counts as silence
		m.hasLevel = true
		m.sumSquares = 0
		m.sampleCount = 0
	}
	if !m.hasLevel {
		return 0, false, false
	}

	if m.lastDB < m.cfg.ThresholdDB {
		m.soundStart = time.Time{}
		if m.silenceStart.IsZero() {
			m.silenceStart = now
		}
		raw := now.Sub(m.silenceStart).Seconds()
		if raw < m.cfg.MinSilence.Seconds() {
			return 0, false, false
		}
		if !m.reporting {
			m.reporting = true
			m.smoothed = raw
		} else {
			m.smoothed += (raw - m.smoothed) * m.cfg.Smoothing
		}
		if m.smoothed >= m.cfg.MaxSilence.Seconds() {
			m.active = false
			return m.smoothed, true, true
		}
		return m.smoothed, true, false
	}

	if m.silenceStart.IsZero() {
		return 0, false, false
	}
	if m.soundStart.IsZero() {
		m.soundStart = now
	}
	if now.Sub(m.soundStart) < m.cfg.SoundDebounce {
		return 0, false, false
	}
	m.silenceStart = time.Time{}
	m.soundStart = time.Time{}
	m.smoothed = 0
	m.reporting = false
	return 0, true, false
}
