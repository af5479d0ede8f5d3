package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/valon-loshaj/utter-sense/apperr"
)

func TestElevenLabsSynthesize(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice-7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_16000" {
			t.Errorf("output_format = %q", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "key-1" {
			t.Errorf("xi-api-key = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["text"] != "hello" {
			t.Errorf("text = %q", body["text"])
		}
		w.Write(pcm)
	}))
	defer srv.Close()

	e := NewElevenLabs("key-1", "voice-7")
	e.baseURL = srv.URL

	audio, err := e.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if audio.SampleRate != 16000 || len(audio.PCM) != len(pcm) {
		t.Errorf("audio = %d bytes at %d Hz", len(audio.PCM), audio.SampleRate)
	}
	if audio.Duration() != 3.0/16000 {
		t.Errorf("Duration = %f", audio.Duration())
	}
}

func TestElevenLabsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad voice", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	e := NewElevenLabs("key-1", "v")
	e.baseURL = srv.URL
	if _, err := e.Synthesize(context.Background(), "x"); !apperr.HasCode(err, apperr.CodeNetwork) {
		t.Errorf("got %v, want network error", err)
	}
}

func TestNewProviderSelection(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "e")
	t.Setenv("OPENAI_API_KEY", "o")

	s, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "elevenlabs" {
		t.Errorf("auto-selected %q", s.Name())
	}

	t.Setenv("ELEVENLABS_API_KEY", "")
	s, err = New("")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "openai" {
		t.Errorf("fallback selected %q", s.Name())
	}

	if _, err := New("espeak"); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("got %v, want validation error", err)
	}

	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New(""); !apperr.HasCode(err, apperr.CodeInitialization) {
		t.Errorf("got %v, want initialization error", err)
	}
}
