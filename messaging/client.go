package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/valon-loshaj/utter-sense/apperr"
)

const (
	clientType    = "UtterSense_VoiceAgent"
	clientVersion = "1.0.0"
)

type Config struct {
	BaseURL   string // REST endpoint root, no trailing slash
	StreamURL string // websocket endpoint for the push-event stream
	BotName   string
}

// ConfigFromEnv reads the channel endpoints. Only BaseURL is mandatory;
// without a StreamURL the push stream is simply unavailable.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:   os.Getenv("UTTER_SENSE_BASE_URL"),
		StreamURL: os.Getenv("UTTER_SENSE_STREAM_URL"),
		BotName:   os.Getenv("UTTER_SENSE_BOT_NAME"),
	}
	if cfg.BaseURL == "" {
		return Config{}, apperr.New(apperr.CodeInitialization, "UTTER_SENSE_BASE_URL not set")
	}
	return cfg, nil
}

type Session struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type Message struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// Service talks to the conversation REST API. It remembers the session and
// the last message id so each outbound message threads onto the previous
// one.
type Service struct {
	cfg    Config
	creds  CredentialProvider
	client *http.Client

	mu            sync.Mutex
	token         Credential
	session       Session
	lastMessageID string
}

func NewService(cfg Config, creds CredentialProvider) *Service {
	return &Service{
		cfg:    cfg,
		creds:  creds,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Service) freshToken(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()
	if tok.AccessToken != "" && !tok.Expired() {
		return tok, nil
	}
	tok, err := s.creds.Token(ctx)
	if err != nil {
		return Credential{}, err
	}
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	return tok, nil
}

func (s *Service) post(ctx context.Context, url string, payload, out any) error {
	tok, err := s.freshToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeNetwork, "conversation request failed", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Newf(apperr.CodeNetwork, "conversation API error %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperr.Wrap(apperr.CodeValidation, "conversation response parse error", err)
		}
	}
	return nil
}

// CreateSession opens a new remote conversation and remembers its ids.
func (s *Service) CreateSession(ctx context.Context) (Session, error) {
	payload := map[string]string{
		"botDeveloperName": s.cfg.BotName,
		"clientType":       clientType,
		"clientVersion":    clientVersion,
	}
	var sess Session
	if err := s.post(ctx, s.cfg.BaseURL+"/conversation", payload, &sess); err != nil {
		return Session{}, err
	}
	if sess.ConversationID == "" {
		return Session{}, apperr.New(apperr.CodeValidation, "conversation response missing conversationId")
	}
	s.mu.Lock()
	s.session = sess
	s.lastMessageID = sess.MessageID
	s.mu.Unlock()
	return sess, nil
}

// SendMessage submits one utterance, threading it onto the previous
// message. An expired token is refreshed through the provider before the
// call.
func (s *Service) SendMessage(ctx context.Context, text string) (Message, error) {
	s.mu.Lock()
	sess := s.session
	replyTo := s.lastMessageID
	if s.token.Expired() {
		s.token = Credential{} // force a provider refresh
	}
	s.mu.Unlock()
	if sess.ConversationID == "" {
		return Message{}, apperr.New(apperr.CodeValidation, "no active conversation session")
	}

	payload := map[string]string{
		"text":             text,
		"replyToMessageId": replyTo,
	}
	var msg Message
	url := s.cfg.BaseURL + "/conversation/" + sess.ConversationID + "/message"
	if err := s.post(ctx, url, payload, &msg); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	s.lastMessageID = msg.MessageID
	s.mu.Unlock()
	return msg, nil
}

// ConversationID returns the active session id, empty before CreateSession.
func (s *Service) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ConversationID
}
