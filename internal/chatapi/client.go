// Package chatapi talks to the chat backend's REST surface. Each method is
// one HTTP round trip; retry policy belongs to the caller.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/chatsync/internal/logging"
)

// Session is the immutable connection context shared by every call.
type Session struct {
	BaseURL   string
	Token     string
	Model     string
	SessionID string
}

// NewSession trims the base URL and assigns a fresh session id.
func NewSession(baseURL, token, model string) Session {
	return Session{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		Model:     model,
		SessionID: uuid.NewString(),
	}
}

// ChatURL returns the browser URL of a conversation.
func (s Session) ChatURL(chatID string) string {
	return fmt.Sprintf("%s/c/%s", s.BaseURL, chatID)
}

// Options tunes the transport.
type Options struct {
	Timeout   time.Duration      // per request; default 30s
	RateLimit float64            // requests per second; default 5, negative disables
	Burst     int                // default 5
	Logger    *logging.RunLogger // request/response bodies go here when set
}

// Client is the remote chat client.
type Client struct {
	session    Session
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.RunLogger
}

// NewClient builds a client bound to session.
func NewClient(session Session, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		session:    session,
		httpClient: &http.Client{Timeout: timeout},
		logger:     opts.Logger,
	}
	switch {
	case opts.RateLimit < 0:
	case opts.RateLimit == 0:
		c.limiter = rate.NewLimiter(rate.Limit(5), 5)
	default:
		burst := opts.Burst
		if burst <= 0 {
			burst = 5
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Session returns the client's session.
func (c *Client) Session() Session {
	return c.session
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.session.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.logger.LogPayload(method+" "+path+" REQUEST", raw)
	return c.send(req, path)
}

func (c *Client) send(req *http.Request, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req.Header.Set("Authorization", "Bearer "+c.session.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "chatsync")

	client := c.httpClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("method", req.Method).Str("path", path).Msg("Chat API request failed")
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	log.Debug().
		Str("method", req.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Chat API call")
	c.logger.LogPayload(req.Method+" "+path+" RESPONSE", data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{
			Method:     req.Method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), 500),
		}
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
