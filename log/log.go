package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: UTTER_SENSE_LOG_PATH environment variable
	envPath := os.Getenv("UTTER_SENSE_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(dir, "conversation_log.txt")
	transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// TurnState records a turn state machine transition.
func TurnState(from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("from", from).
		Str("to", to).
		Msg("turn_state")
}

// ConversationEntry appends one line per finalized entry to the conversation log.
func ConversationEntry(role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, role, text)
	transcriptFile.WriteString(line)
}

type TranscriptionMetricsData struct {
	Window       bool
	AudioLengthS float64
	PayloadKB    float64
	TLSMs        float64
	TTFBMs       float64
	TotalMs      float64
	ConnReused   bool
}

func TranscriptionMetrics(provider, format string, m TranscriptionMetricsData) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	kind := "final"
	if m.Window {
		kind = "window"
	}
	diagLog.Info().
		Str("provider", provider).
		Str("format", format).
		Str("kind", kind).
		Str("conn", connStatus).
		Float64("audio_s", m.AudioLengthS).
		Float64("payload_kb", m.PayloadKB).
		Float64("tls_ms", m.TLSMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("transcription")
}

// SilenceDetected records the one-shot silence trigger with the smoothed duration.
func SilenceDetected(smoothedS float64) {
	if !logReady {
		return
	}
	diagLog.Info().Float64("smoothed_s", smoothedS).Msg("silence_detected")
}

// StreamReconnect records a push-stream reconnect attempt.
func StreamReconnect(attempt, max int) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Int("attempt", attempt).
		Int("max", max).
		Msg("stream_reconnect")
}

func SessionStart(sttProvider, ttsProvider, conversationID string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("stt", sttProvider).
		Str("tts", ttsProvider).
		Str("conversation_id", conversationID).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}
