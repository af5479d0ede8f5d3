// Package transcriber produces text from captured audio: rolling preview
// transcripts while the user is still speaking, and one authoritative final
// transcript per utterance.
package transcriber

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/valon-loshaj/utter-sense/apperr"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

type Result struct {
	Text      string
	Metrics   *NetworkMetrics
	RateLimit string
}

// Client is one remote transcription provider. Implementations must be safe
// for concurrent calls; the streamer issues window and final requests from
// different goroutines.
type Client interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, format string) (*Result, error)
}

// warmer is implemented by clients that can pre-establish their TLS
// connection before the first real request.
type warmer interface {
	Warm()
}

// New picks a provider. With provider empty the environment decides:
// GROQ_API_KEY wins over OPENAI_API_KEY.
func New(provider string) (Client, error) {
	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")

	switch provider {
	case "groq":
		if groqKey == "" {
			return nil, apperr.New(apperr.CodeInitialization, "GROQ_API_KEY not set")
		}
		return NewGroq(groqKey), nil
	case "openai":
		if openaiKey == "" {
			return nil, apperr.New(apperr.CodeInitialization, "OPENAI_API_KEY not set")
		}
		return NewOpenAI(openaiKey), nil
	case "":
		if groqKey != "" {
			return NewGroq(groqKey), nil
		}
		if openaiKey != "" {
			return NewOpenAI(openaiKey), nil
		}
		return nil, apperr.New(apperr.CodeInitialization, "set GROQ_API_KEY or OPENAI_API_KEY")
	default:
		return nil, apperr.Newf(apperr.CodeValidation, "unknown transcription provider %q", provider)
	}
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

// Clean normalizes provider output for display: drop characters outside
// printable ASCII, collapse whitespace runs, trim.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x20 && r <= 0x7e {
			b.WriteRune(r)
		} else if r == '\n' || r == '\t' {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
