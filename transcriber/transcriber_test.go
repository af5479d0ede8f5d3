package transcriber

import (
	"testing"

	"github.com/valon-loshaj/utter-sense/apperr"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello world", "hello world"},
		{"  padded   out  ", "padded out"},
		{"line\nbreak\tand tab", "line break and tab"},
		{"smart“quotes” stripped", "smartquotes stripped"},
		{"éèê", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewPicksProviderFromEnv(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "g")
	t.Setenv("OPENAI_API_KEY", "o")

	c, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "groq" {
		t.Errorf("auto-selected %q, want groq first", c.Name())
	}

	c, err = New("openai")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "openai" {
		t.Errorf("explicit provider gave %q", c.Name())
	}
}

func TestNewMissingKeys(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New(""); !apperr.HasCode(err, apperr.CodeInitialization) {
		t.Errorf("got %v, want initialization error", err)
	}
	if _, err := New("groq"); !apperr.HasCode(err, apperr.CodeInitialization) {
		t.Errorf("got %v, want initialization error", err)
	}
	if _, err := New("whisperx"); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}
