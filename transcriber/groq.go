package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/valon-loshaj/utter-sense/apperr"
)

const groqAPIURL = "https://api.groq.com/openai/v1/audio/transcriptions"

type Groq struct {
	client *TracedClient
	apiKey string
	model  string
	lang   string
}

func NewGroq(apiKey string) *Groq {
	return &Groq{
		client: NewTracedClient(groqAPIURL),
		apiKey: apiKey,
		model:  "whisper-large-v3-turbo",
	}
}

func (g *Groq) Name() string { return "groq" }

func (g *Groq) SetLanguage(lang string) { g.lang = lang }

func (g *Groq) Warm() { g.client.Warm() }

type groqResponse struct {
	Text string `json:"text"`
}

func (g *Groq) Transcribe(ctx context.Context, audio []byte, format string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}

	writer.WriteField("model", g.model)
	writer.WriteField("response_format", "json")
	if g.lang != "" {
		writer.WriteField("language", g.lang)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", groqAPIURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNetwork, "groq request failed", err)
	}
	if resp.StatusCode != 200 {
		return nil, apperr.Newf(apperr.CodeNetwork, "groq API error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var gResp groqResponse
	if err := json.Unmarshal(resp.Body, &gResp); err != nil {
		return nil, fmt.Errorf("groq response parse error: %w", err)
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &Result{
		Text:      gResp.Text,
		Metrics:   resp.Metrics,
		RateLimit: remaining + "/" + limit,
	}, nil
}
