package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/valon-loshaj/utter-sense/apperr"
)

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io/v1/text-to-speech"
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"
	elevenLabsModel        = "eleven_turbo_v2_5"
)

// ElevenLabs synthesizes with output_format pcm_16000, which matches the
// capture pipeline's sample rate so playback needs no conversion.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	baseURL string
	client  *http.Client
}

func NewElevenLabs(apiKey, voiceID string) *ElevenLabs {
	if voiceID == "" {
		voiceID = elevenLabsDefaultVoice
	}
	return &ElevenLabs{
		apiKey:  apiKey,
		voiceID: voiceID,
		baseURL: elevenLabsBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (Audio, error) {
	body, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": elevenLabsModel,
	})
	if err != nil {
		return Audio{}, err
	}

	endpoint := e.baseURL + "/" + url.PathEscape(e.voiceID) + "?output_format=pcm_16000"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Audio{}, apperr.Wrap(apperr.CodeNetwork, "elevenlabs request failed", err)
	}
	defer resp.Body.Close()
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, err
	}
	if resp.StatusCode != 200 {
		return Audio{}, apperr.Newf(apperr.CodeNetwork, "elevenlabs API error %d: %s", resp.StatusCode, string(pcm))
	}
	return Audio{PCM: pcm, SampleRate: 16000}, nil
}
