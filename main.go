package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/valon-loshaj/utter-sense/audio"
	"github.com/valon-loshaj/utter-sense/conversation"
	"github.com/valon-loshaj/utter-sense/log"
	"github.com/valon-loshaj/utter-sense/messaging"
	"github.com/valon-loshaj/utter-sense/playback"
	"github.com/valon-loshaj/utter-sense/shutdown"
	"github.com/valon-loshaj/utter-sense/transcriber"
	"github.com/valon-loshaj/utter-sense/tts"
	"github.com/valon-loshaj/utter-sense/turn"
	"github.com/valon-loshaj/utter-sense/vad"
)

var version = "dev"

func main() {
	var (
		setup       = flag.Bool("setup", false, "pick the capture device interactively")
		deviceName  = flag.String("device", "", "capture device name substring")
		wavPath     = flag.String("wav", "", "replay a 16 kHz mono WAV file instead of the microphone")
		sttProvider = flag.String("stt", "", "transcription provider (groq, openai; default from env)")
		ttsProvider = flag.String("tts", "", "synthesis provider (elevenlabs, openai; default from env)")
		format      = flag.String("format", "flac", "transcription payload format (flac, wav)")
		lang        = flag.String("lang", "", "transcription language hint, e.g. en")
		thresholdDB = flag.Float64("threshold", -65, "silence threshold in dBFS")
		maxSilence  = flag.Duration("max-silence", 3*time.Second, "silence needed to end an utterance")
		resumeDelay = flag.Duration("resume-delay", time.Second, "pause before listening resumes after a reply")
		noResume    = flag.Bool("no-auto-resume", false, "stop after each turn instead of listening again")
		logPath     = flag.String("log-path", "", "log directory (default per-OS data dir)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("utter-sense", version)
		return
	}

	godotenv.Load()

	dir, err := log.ResolveDir(*logPath)
	if err == nil {
		log.SetDir(dir)
		if err := log.Init(); err != nil {
			fmt.Fprintf(os.Stderr, "logging disabled: %v\n", err)
		}
	}
	defer log.Close()

	if err := run(options{
		setup:       *setup,
		deviceName:  *deviceName,
		wavPath:     *wavPath,
		sttProvider: *sttProvider,
		ttsProvider: *ttsProvider,
		format:      *format,
		lang:        *lang,
		thresholdDB: *thresholdDB,
		maxSilence:  *maxSilence,
		resumeDelay: *resumeDelay,
		autoResume:  !*noResume,
	}); err != nil {
		log.Errorf("fatal: %v", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type options struct {
	setup       bool
	deviceName  string
	wavPath     string
	sttProvider string
	ttsProvider string
	format      string
	lang        string
	thresholdDB float64
	maxSilence  time.Duration
	resumeDelay time.Duration
	autoResume  bool
}

func run(opts options) error {
	actx, err := newAudioContext(opts)
	if err != nil {
		return err
	}
	defer actx.Close()

	device, err := pickDevice(actx, opts)
	if err != nil {
		return err
	}

	capture, err := actx.NewCapture(device, audio.CaptureConfig{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGain:         true,
	})
	if err != nil {
		return err
	}
	defer capture.Close()

	if audio.IsBluetooth(capture.DeviceName()) {
		fmt.Println("warning: bluetooth microphones often capture at low quality")
		log.Warnf("bluetooth capture device: %s", capture.DeviceName())
	}

	stt, err := transcriber.New(opts.sttProvider)
	if err != nil {
		return err
	}
	if opts.lang != "" {
		if l, ok := stt.(interface{ SetLanguage(string) }); ok {
			l.SetLanguage(opts.lang)
		}
	}

	synth, err := tts.New(opts.ttsProvider)
	if err != nil {
		return err
	}
	player, err := playback.New()
	if err != nil {
		return err
	}

	ledger := conversation.New(conversation.DefaultConfig())
	r := newRenderer()
	ledger.Subscribe(r.show)

	streamCfg := transcriber.DefaultStreamConfig()
	streamCfg.Format = opts.format
	streamer := transcriber.NewStreamer(streamCfg, stt, ledger.UpsertPreview)

	var orch *turn.Orchestrator
	vadCfg := vad.DefaultConfig()
	vadCfg.ThresholdDB = opts.thresholdDB
	vadCfg.MaxSilence = opts.maxSilence
	monitor := vad.New(vadCfg,
		func(s float64) { orch.SilenceProgress(s) },
		func() { orch.SilenceDetected() })

	capture.SetCallback(func(data []byte, _ uint32) {
		monitor.Process(data)
		streamer.Feed(data)
	})
	monitor.Attach()

	creds, err := messaging.ProviderFromEnv()
	if err != nil {
		return err
	}
	msgCfg, err := messaging.ConfigFromEnv()
	if err != nil {
		return err
	}
	svc := messaging.NewService(msgCfg, creds)

	ctx := context.Background()
	sess, err := svc.CreateSession(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("connected to conversation %s\n", sess.ConversationID)

	var stream *messaging.Stream
	if msgCfg.StreamURL != "" {
		stream = messaging.NewStream(
			messaging.DefaultStreamConfig(msgCfg.StreamURL),
			sess.ConversationID, creds,
			ledger.HandleRemoteEvent,
			func(st messaging.Status) { log.Infof("stream %s", st) },
		)
		if err := stream.Subscribe(ctx); err != nil {
			return err
		}
		defer stream.Close()
	} else {
		fmt.Println("warning: no UTTER_SENSE_STREAM_URL, agent replies will not arrive")
	}

	turnCfg := turn.DefaultConfig()
	turnCfg.ResumeDelay = opts.resumeDelay
	turnCfg.AutoResume = opts.autoResume
	turnCfg.MaxSilence = opts.maxSilence
	orch = turn.New(turnCfg, turn.Deps{
		Capture:  capture,
		Monitor:  monitor,
		Streamer: streamer,
		Channel:  sendVia{svc},
		Synth:    synth,
		Player:   player,
		Ledger:   ledger,
	})
	ledger.OnAgentMessage(orch.AgentReply)
	orch.OnStateChange(func(_, to turn.State) {
		switch to {
		case turn.StateListening:
			playback.PlayCue(player, playback.CueListening)
			fmt.Println("listening...")
		case turn.StateFinalizing:
			playback.PlayCue(player, playback.CueDone)
		case turn.StateError:
			playback.PlayCue(player, playback.CueError)
		}
	})

	log.SessionStart(stt.Name(), synth.Name(), sess.ConversationID)

	if err := orch.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	shutdown.Notify(sigCh)
	<-sigCh
	fmt.Println("\nshutting down")
	orch.Stop()
	if stream != nil {
		stream.Close()
	}
	log.SessionEnd(orch.Turns())
	return nil
}

func newAudioContext(opts options) (audio.Context, error) {
	if opts.wavPath != "" {
		fmt.Printf("replaying %s as the capture source\n", opts.wavPath)
		return audio.NewFakeContext(opts.wavPath, 16000, true)
	}
	return audio.NewContext()
}

func pickDevice(actx audio.Context, opts options) (*audio.DeviceInfo, error) {
	if opts.setup {
		return audio.SelectDevice(actx)
	}
	if opts.deviceName == "" {
		return nil, nil // system default
	}
	devices, err := actx.Devices()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(opts.deviceName)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), needle) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no capture device matches %q", opts.deviceName)
}

// sendVia adapts the messaging service to the orchestrator's channel.
type sendVia struct {
	svc *messaging.Service
}

func (s sendVia) Send(ctx context.Context, text string) error {
	_, err := s.svc.SendMessage(ctx, text)
	return err
}

// renderer prints ledger snapshots: finals once, the open preview as an
// overwritten status line.
type renderer struct {
	mu      sync.Mutex
	printed map[string]bool
}

func newRenderer() *renderer {
	return &renderer{printed: make(map[string]bool)}
}

func (r *renderer) show(entries []conversation.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if e.Role == conversation.RolePreview {
			if !e.FadeOut {
				fmt.Printf("\r  ~ %s ", e.Text)
			}
			continue
		}
		if !e.IsFinal || r.printed[e.ID] {
			continue
		}
		r.printed[e.ID] = true
		fmt.Printf("\r%s %s\n", rolePrefix(e), e.Text)
	}
}

func rolePrefix(e conversation.Entry) string {
	switch e.Role {
	case conversation.RoleUser:
		return "you:"
	case conversation.RoleAgent:
		if e.DisplayName != "" {
			return e.DisplayName + ":"
		}
		return "agent:"
	default:
		return "[system]"
	}
}
