package transcriber

import (
	"bytes"
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/valon-loshaj/utter-sense/apperr"
)

type OpenAI struct {
	client *openai.Client
	model  string
	lang   string
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  "gpt-4o-transcribe",
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) SetLanguage(lang string) { o.lang = lang }

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, format string) (*Result, error) {
	start := time.Now()
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: "audio." + format,
		Reader:   bytes.NewReader(audio),
		Language: o.lang,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNetwork, "openai transcription failed", err)
	}
	// The SDK owns the transport, so only total latency is observable here.
	return &Result{
		Text:    resp.Text,
		Metrics: &NetworkMetrics{Total: time.Since(start)},
	}, nil
}
