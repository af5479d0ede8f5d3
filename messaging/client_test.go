package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valon-loshaj/utter-sense/apperr"
)

type countingProvider struct {
	mu    sync.Mutex
	calls int
	cred  Credential
}

func (p *countingProvider) Token(context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.cred, nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func conversationServer(t *testing.T) (*httptest.Server, *[]map[string]string) {
	t.Helper()
	var bodies []map[string]string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		n := len(bodies)
		mu.Unlock()

		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/conversation":
			json.NewEncoder(w).Encode(Session{ConversationID: "conv-1", MessageID: "msg-0"})
		default:
			json.NewEncoder(w).Encode(Message{MessageID: "msg-" + string(rune('0'+n)), Text: body["text"]})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func TestCreateSession(t *testing.T) {
	srv, bodies := conversationServer(t)
	svc := NewService(Config{BaseURL: srv.URL, BotName: "Utter_Sense_ES"}, NewStaticProvider("tok"))

	sess, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "conv-1", sess.ConversationID)
	assert.Equal(t, "conv-1", svc.ConversationID())

	require.Len(t, *bodies, 1)
	assert.Equal(t, "Utter_Sense_ES", (*bodies)[0]["botDeveloperName"])
	assert.Equal(t, clientType, (*bodies)[0]["clientType"])
}

func TestSendMessageThreadsReplies(t *testing.T) {
	srv, bodies := conversationServer(t)
	svc := NewService(Config{BaseURL: srv.URL}, NewStaticProvider("tok"))

	_, err := svc.CreateSession(context.Background())
	require.NoError(t, err)

	msg, err := svc.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), "again")
	require.NoError(t, err)

	require.Len(t, *bodies, 3)
	// First message replies to the session's seed id, the second to the
	// previous message.
	assert.Equal(t, "msg-0", (*bodies)[1]["replyToMessageId"])
	assert.Equal(t, msg.MessageID, (*bodies)[2]["replyToMessageId"])
}

func TestSendMessageWithoutSession(t *testing.T) {
	svc := NewService(Config{BaseURL: "http://unused"}, NewStaticProvider("tok"))
	_, err := svc.SendMessage(context.Background(), "hello")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestExpiredTokenRefetched(t *testing.T) {
	srv, _ := conversationServer(t)
	provider := &countingProvider{cred: Credential{
		AccessToken: "tok",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}}
	svc := NewService(Config{BaseURL: srv.URL}, provider)

	_, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	// The expired credential forces a provider round-trip per call.
	assert.GreaterOrEqual(t, provider.count(), 2)
}

func TestOAuthProviderCachesToken(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		assert.Equal(t, "client-1", r.FormValue("client_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	p := NewOAuthProvider(srv.URL, "client-1")
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.False(t, tok.Expired())

	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("UTTER_SENSE_BASE_URL", "")
	_, err := ConfigFromEnv()
	assert.True(t, apperr.HasCode(err, apperr.CodeInitialization))

	t.Setenv("UTTER_SENSE_BASE_URL", "https://example.test/api")
	t.Setenv("UTTER_SENSE_STREAM_URL", "wss://example.test/events")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/api", cfg.BaseURL)
	assert.Equal(t, "wss://example.test/events", cfg.StreamURL)
}
