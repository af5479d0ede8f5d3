package tts

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/valon-loshaj/utter-sense/apperr"
)

// OpenAI speech in pcm format is 24 kHz mono.
const openaiPCMRate = 24000

type OpenAI struct {
	client *openai.Client
	voice  openai.SpeechVoice
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{client: openai.NewClient(apiKey), voice: openai.VoiceAlloy}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Synthesize(ctx context.Context, text string) (Audio, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return Audio{}, apperr.Wrap(apperr.CodeNetwork, "openai speech failed", err)
	}
	defer resp.Close()
	pcm, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, err
	}
	return Audio{PCM: pcm, SampleRate: openaiPCMRate}, nil
}
