// Package tts turns agent reply text into playable audio.
package tts

import (
	"context"
	"os"

	"github.com/valon-loshaj/utter-sense/apperr"
)

// Audio is synthesized speech: 16-bit little-endian mono PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

func (a Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.PCM)/2) / float64(a.SampleRate)
}

type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// New picks a synthesis provider. With provider empty the environment
// decides: ELEVENLABS_API_KEY wins over OPENAI_API_KEY.
func New(provider string) (Synthesizer, error) {
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")

	switch provider {
	case "elevenlabs":
		if elevenKey == "" {
			return nil, apperr.New(apperr.CodeInitialization, "ELEVENLABS_API_KEY not set")
		}
		return NewElevenLabs(elevenKey, os.Getenv("ELEVENLABS_VOICE_ID")), nil
	case "openai":
		if openaiKey == "" {
			return nil, apperr.New(apperr.CodeInitialization, "OPENAI_API_KEY not set")
		}
		return NewOpenAI(openaiKey), nil
	case "":
		if elevenKey != "" {
			return NewElevenLabs(elevenKey, os.Getenv("ELEVENLABS_VOICE_ID")), nil
		}
		if openaiKey != "" {
			return NewOpenAI(openaiKey), nil
		}
		return nil, apperr.New(apperr.CodeInitialization, "set ELEVENLABS_API_KEY or OPENAI_API_KEY")
	default:
		return nil, apperr.Newf(apperr.CodeValidation, "unknown synthesis provider %q", provider)
	}
}
