// Package messaging is the remote conversation channel: session creation
// and message submission over HTTP, plus a reconnectable push-event stream
// for everything the other side says back.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/valon-loshaj/utter-sense/apperr"
)

type Credential struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

func (c Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// CredentialProvider supplies the channel's access token. Refresh is the
// provider's concern; the channel just asks again when a call sees an
// expired credential.
type CredentialProvider interface {
	Token(ctx context.Context) (Credential, error)
}

// StaticProvider hands out one fixed token that never expires.
type StaticProvider struct {
	cred Credential
}

func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{cred: Credential{AccessToken: token, TokenType: "Bearer"}}
}

func (p *StaticProvider) Token(context.Context) (Credential, error) {
	return p.cred, nil
}

// OAuthProvider fetches client-credentials tokens and caches them until
// expiry.
type OAuthProvider struct {
	authURL  string
	clientID string
	scope    string
	client   *http.Client

	mu     sync.Mutex
	cached Credential
}

func NewOAuthProvider(authURL, clientID string) *OAuthProvider {
	return &OAuthProvider{
		authURL:  authURL,
		clientID: clientID,
		scope:    "api messaging_api",
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *OAuthProvider) Token(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached.AccessToken != "" && !p.cached.Expired() {
		return p.cached, nil
	}

	form := url.Values{
		"grant_type": {"client_credentials"},
		"client_id":  {p.clientID},
		"scope":      {p.scope},
	}
	req, err := http.NewRequestWithContext(ctx, "POST", p.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Credential{}, apperr.Wrap(apperr.CodeNetwork, "token request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, err
	}
	if resp.StatusCode != 200 {
		return Credential{}, apperr.Newf(apperr.CodeConnection, "token request failed: %s: %s", resp.Status, string(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return Credential{}, fmt.Errorf("token response parse error: %w", err)
	}

	p.cached = Credential{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresAt:   time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	return p.cached, nil
}

// ProviderFromEnv wires a provider from the environment: a pre-issued
// UTTER_SENSE_ACCESS_TOKEN wins, otherwise client-credentials via
// UTTER_SENSE_AUTH_URL and UTTER_SENSE_CLIENT_ID.
func ProviderFromEnv() (CredentialProvider, error) {
	if token := os.Getenv("UTTER_SENSE_ACCESS_TOKEN"); token != "" {
		return NewStaticProvider(token), nil
	}
	authURL := os.Getenv("UTTER_SENSE_AUTH_URL")
	clientID := os.Getenv("UTTER_SENSE_CLIENT_ID")
	if authURL != "" && clientID != "" {
		return NewOAuthProvider(authURL, clientID), nil
	}
	return nil, apperr.New(apperr.CodeInitialization,
		"set UTTER_SENSE_ACCESS_TOKEN, or UTTER_SENSE_AUTH_URL and UTTER_SENSE_CLIENT_ID")
}
