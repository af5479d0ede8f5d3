package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/valon-loshaj/utter-sense/log"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

type StreamConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectDelay time.Duration
}

func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{URL: url, MaxReconnects: 3, ReconnectDelay: 5 * time.Second}
}

// streamConn is the slice of a websocket connection the reader needs.
type streamConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (streamConn, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (streamConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Stream is the push-event side of the channel, scoped to one conversation.
// Events arrive in transport order. A broken connection is redialed up to
// MaxReconnects times per outage; when the ceiling is exhausted one terminal
// connection_failed envelope is delivered and the stream stops for good,
// leaving re-initialization to the caller.
type Stream struct {
	cfg            StreamConfig
	conversationID string
	creds          CredentialProvider
	dial           dialFunc
	onEvent        func(Envelope)
	onStatus       func(Status)

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   streamConn
	done   chan struct{}
}

func NewStream(cfg StreamConfig, conversationID string, creds CredentialProvider, onEvent func(Envelope), onStatus func(Status)) *Stream {
	return &Stream{
		cfg:            cfg,
		conversationID: conversationID,
		creds:          creds,
		dial:           gorillaDial,
		onEvent:        onEvent,
		onStatus:       onStatus,
	}
}

func (s *Stream) setStatus(st Status) {
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

// Subscribe connects and starts delivering events. An existing subscription
// is torn down first, so re-subscribing never leaks a second reader.
func (s *Stream) Subscribe(ctx context.Context) error {
	s.Close()

	ctx, cancel := context.WithCancel(ctx)
	conn, err := s.connect(ctx, StatusConnecting)
	if err != nil {
		cancel()
		s.terminate()
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	s.setStatus(StatusConnected)
	go s.read(ctx, conn, done)
	return nil
}

// Close stops the stream without emitting connection_failed. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	cancel, conn, done := s.cancel, s.conn, s.done
	s.cancel, s.conn, s.done = nil, nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done
}

func (s *Stream) read(ctx context.Context, conn streamConn, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				s.setStatus(StatusDisconnected)
				return
			}
			next, cerr := s.connect(ctx, StatusReconnecting)
			if cerr != nil {
				if ctx.Err() != nil {
					s.setStatus(StatusDisconnected)
					return
				}
				s.terminate()
				return
			}
			s.mu.Lock()
			s.conn = next
			s.mu.Unlock()
			conn = next
			s.setStatus(StatusConnected)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Errorf("stream: dropping malformed event: %v", err)
			continue
		}
		if env.ConversationID != "" && env.ConversationID != s.conversationID {
			log.Infof("stream: dropping event for conversation %s", env.ConversationID)
			continue
		}
		if s.onEvent != nil {
			s.onEvent(env)
		}
	}
}

// connect dials with a fixed delay between attempts. Each outage gets a
// fresh attempt budget, so a successful reconnect resets the count.
func (s *Stream) connect(ctx context.Context, st Status) (streamConn, error) {
	s.setStatus(st)

	header := http.Header{}
	if s.creds != nil {
		if tok, err := s.creds.Token(ctx); err == nil {
			header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
		} else {
			log.Errorf("stream: credential fetch failed: %v", err)
		}
	}
	url := s.cfg.URL + "?conversationId=" + s.conversationID

	retries := uint64(0)
	if s.cfg.MaxReconnects > 1 {
		retries = uint64(s.cfg.MaxReconnects - 1)
	}
	backoff := retry.WithMaxRetries(retries, retry.NewConstant(s.cfg.ReconnectDelay))

	attempt := 0
	var conn streamConn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			log.StreamReconnect(attempt, s.cfg.MaxReconnects)
		}
		c, derr := s.dial(ctx, url, header)
		if derr != nil {
			return retry.RetryableError(derr)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// terminate emits the one terminal failure signal.
func (s *Stream) terminate() {
	if s.onEvent != nil {
		s.onEvent(Envelope{
			Type:           EventConnectionFailed,
			ConversationID: s.conversationID,
			Timestamp:      time.Now(),
		})
	}
	s.setStatus(StatusDisconnected)
}
