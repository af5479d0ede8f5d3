// Package turn drives the conversation loop: listen, finalize, submit,
// play the reply, listen again. All transitions go through one mutex;
// async completions re-check the state they were scheduled under and
// become no-ops when it moved on.
package turn

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valon-loshaj/utter-sense/apperr"
	"github.com/valon-loshaj/utter-sense/conversation"
	"github.com/valon-loshaj/utter-sense/log"
	"github.com/valon-loshaj/utter-sense/tts"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateFinalizing
	StateAwaitingReply
	StatePlayingReply
	StateError
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StatePlayingReply:
		return "playing_reply"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Narrow views of the collaborators so the package tests with fakes.
type Capture interface {
	Start() error
	Stop()
}

type Monitor interface {
	Start() error
	Stop()
}

type Streamer interface {
	Start() error
	Stop()
	Final(ctx context.Context) (string, error)
}

type Channel interface {
	Send(ctx context.Context, text string) error
}

type Ledger interface {
	AddMessage(text string, role conversation.Role, displayName string, fadeIn bool) conversation.Entry
	UpsertPreview(text string)
	ResolvePreview()
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.Audio, error)
}

type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}

type Config struct {
	ResumeDelay time.Duration // pause before listening resumes after a reply
	AutoResume  bool
	MaxSilence  time.Duration // for the silence progress fraction
	UserName    string
}

func DefaultConfig() Config {
	return Config{
		ResumeDelay: time.Second,
		AutoResume:  true,
		MaxSilence:  3 * time.Second,
		UserName:    "You",
	}
}

type Deps struct {
	Capture  Capture
	Monitor  Monitor
	Streamer Streamer
	Channel  Channel
	Synth    Synthesizer
	Player   Player
	Ledger   Ledger
}

type Orchestrator struct {
	cfg  Config
	deps Deps

	progress atomic.Uint64 // float64 bits, smoothed silence seconds
	turns    atomic.Int32

	mu          sync.Mutex
	state       State
	manualStop  bool
	autoResume  bool
	resumeTimer *time.Timer
	playCancel  context.CancelFunc
	// onState runs with the mutex held; it must not call back in.
	onState func(from, to State)
}

func New(cfg Config, deps Deps) *Orchestrator {
	return &Orchestrator{cfg: cfg, deps: deps}
}

func (o *Orchestrator) OnStateChange(fn func(from, to State)) {
	o.mu.Lock()
	o.onState = fn
	o.mu.Unlock()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Turns counts completed submissions this session.
func (o *Orchestrator) Turns() int {
	return int(o.turns.Load())
}

func (o *Orchestrator) setStateLocked(to State) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	log.TurnState(from.String(), to.String())
	if o.onState != nil {
		o.onState(from, to)
	}
}

// Start begins a new turn. No-op unless Idle.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil
	}
	if o.deps.Capture == nil || o.deps.Monitor == nil || o.deps.Streamer == nil ||
		o.deps.Channel == nil || o.deps.Ledger == nil {
		o.mu.Unlock()
		return apperr.New(apperr.CodeInitialization, "conversation loop dependencies not initialized")
	}
	o.manualStop = false
	o.autoResume = o.cfg.AutoResume
	o.stopResumeTimerLocked()
	o.mu.Unlock()

	o.deps.Ledger.ResolvePreview() // stale preview from a previous turn

	o.mu.Lock()
	err := o.startListeningLocked()
	o.mu.Unlock()
	if err != nil {
		o.fail(err)
		return err
	}
	return nil
}

// Stop is the manual stop: it permanently disables auto-resume for this
// loop. A turn in Listening is finalized and still submitted; a playing
// reply is cut off.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.manualStop = true
	o.autoResume = false
	o.stopResumeTimerLocked()
	cancel := o.playCancel
	finalize := o.state == StateListening
	if finalize {
		o.setStateLocked(StateFinalizing)
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if finalize {
		go o.runFinalize()
	}
}

// SilenceDetected is the monitor's one-shot trigger. Stale signals (the
// state already left Listening) are ignored.
func (o *Orchestrator) SilenceDetected() {
	o.mu.Lock()
	if o.state != StateListening {
		o.mu.Unlock()
		log.Infof("turn: ignoring stale silence signal")
		return
	}
	o.setStateLocked(StateFinalizing)
	o.mu.Unlock()
	go o.runFinalize()
}

// SilenceProgress records the smoothed silence duration in seconds.
func (o *Orchestrator) SilenceProgress(seconds float64) {
	o.progress.Store(math.Float64bits(seconds))
}

// Progress is the fraction of MaxSilence already observed, capped at 1.
func (o *Orchestrator) Progress() float64 {
	if o.cfg.MaxSilence <= 0 {
		return 0
	}
	f := math.Float64frombits(o.progress.Load()) / o.cfg.MaxSilence.Seconds()
	return min(f, 1)
}

// AgentReply is the ledger's agent-message hook. Only an AwaitingReply
// turn plays it; anything else is a stray event.
func (o *Orchestrator) AgentReply(entry conversation.Entry) {
	o.mu.Lock()
	if o.state != StateAwaitingReply {
		o.mu.Unlock()
		log.Infof("turn: agent entry outside a turn, not playing")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.playCancel = cancel
	o.setStateLocked(StatePlayingReply)
	o.mu.Unlock()
	go o.runPlay(ctx, entry.Text)
}

func (o *Orchestrator) startListeningLocked() error {
	o.progress.Store(0)
	o.setStateLocked(StateListening)
	if err := o.deps.Capture.Start(); err != nil {
		return err
	}
	if err := o.deps.Monitor.Start(); err != nil {
		o.deps.Capture.Stop()
		return err
	}
	if err := o.deps.Streamer.Start(); err != nil {
		o.deps.Monitor.Stop()
		o.deps.Capture.Stop()
		return err
	}
	return nil
}

// runFinalize stops the capture side, fetches the authoritative transcript
// and submits it. Runs outside the mutex; network calls must not block
// state reads.
func (o *Orchestrator) runFinalize() {
	o.deps.Monitor.Stop()
	o.deps.Capture.Stop()
	o.deps.Streamer.Stop()
	o.deps.Ledger.ResolvePreview()

	text, err := o.deps.Streamer.Final(context.Background())
	if err != nil {
		o.fail(err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Infof("turn: empty transcript, skipping submission")
		o.continueOrIdle()
		return
	}

	o.deps.Ledger.AddMessage(text, conversation.RoleUser, o.cfg.UserName, false)

	o.mu.Lock()
	if o.state != StateFinalizing {
		o.mu.Unlock()
		return
	}
	o.setStateLocked(StateAwaitingReply)
	o.mu.Unlock()

	if err := o.deps.Channel.Send(context.Background(), text); err != nil {
		o.fail(err)
		return
	}
	o.turns.Add(1)
	// The reply arrives through the push stream and AgentReply.
}

func (o *Orchestrator) runPlay(ctx context.Context, text string) {
	defer func() {
		o.mu.Lock()
		o.playCancel = nil
		o.mu.Unlock()
	}()

	if o.deps.Synth == nil || o.deps.Player == nil {
		o.continueOrIdle()
		return
	}
	audio, err := o.deps.Synth.Synthesize(ctx, text)
	if err != nil {
		log.Errorf("turn: synthesis failed: %v", err)
		o.continueOrIdle()
		return
	}
	if err := o.deps.Player.Play(ctx, audio.PCM, audio.SampleRate); err != nil {
		log.Errorf("turn: playback failed: %v", err)
	}
	o.continueOrIdle()
}

// fail is the error path: surface the failure, make sure the capture side
// is down, then run the continuation check so the loop never wedges.
func (o *Orchestrator) fail(err error) {
	log.Errorf("turn error: %v", err)
	o.deps.Ledger.AddMessage("Something went wrong: "+err.Error(), conversation.RoleSystem, "System", false)
	o.mu.Lock()
	o.setStateLocked(StateError)
	o.mu.Unlock()

	o.deps.Monitor.Stop()
	o.deps.Capture.Stop()
	o.deps.Streamer.Stop()
	o.continueOrIdle()
}

func (o *Orchestrator) continueOrIdle() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setStateLocked(StateIdle)
	if o.manualStop || !o.autoResume {
		return
	}
	o.stopResumeTimerLocked()
	o.resumeTimer = time.AfterFunc(o.cfg.ResumeDelay, o.resume)
}

// resume re-checks the manual flag when the timer fires; a Stop issued
// during the delay wins.
func (o *Orchestrator) resume() {
	o.mu.Lock()
	if o.manualStop || !o.autoResume || o.state != StateIdle {
		o.mu.Unlock()
		return
	}
	err := o.startListeningLocked()
	o.mu.Unlock()
	if err != nil {
		o.fail(err)
	}
}

func (o *Orchestrator) stopResumeTimerLocked() {
	if o.resumeTimer != nil {
		o.resumeTimer.Stop()
		o.resumeTimer = nil
	}
}
