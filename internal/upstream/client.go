// Package upstream is a small client for the Grok web chat endpoint. It
// sends one conversation request and hands the line-delimited response
// back as a Stream.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/storage"
	"github.com/dotcommander/groksearch/internal/stream"
)

const (
	conversationPath = "/rest/app-chat/conversations/new"
	maxErrorBody     = 8 * 1024
)

// ChatRequest is one search request.
type ChatRequest struct {
	Token             string
	Message           string
	Model             string
	Mode              string
	CustomPersonality string
}

// Stream is an open response body.
type Stream interface {
	Lines() iter.Seq2[string, error]
	Close() error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, body)
}

// Client talks to the chat endpoint.
type Client struct {
	baseURL   string
	userAgent string
	temporary bool
	http      *http.Client
}

// New returns a client for cfg. A zero timeout.Request leaves the wait for
// response headers unbounded; the body is never bounded here.
func New(cfg config.Upstream, timeout config.Timeout) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid upstream base-url %q", cfg.BaseURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout.Request
	if cfg.HTTPProxy != "" {
		proxy, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream http-proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		temporary: cfg.Temporary,
		http:      &http.Client{Transport: transport},
	}, nil
}

// Chat starts a conversation and returns its response stream. The caller
// must close the stream.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	token := storage.CleanToken(req.Token)
	if token == "" {
		return nil, fmt.Errorf("chat: empty token")
	}

	body, err := json.Marshal(c.payload(req))
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+conversationPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "*/*")
	httpReq.Header.Set("Origin", c.baseURL)
	httpReq.Header.Set("Referer", c.baseURL+"/")
	httpReq.Header.Set("Cookie", fmt.Sprintf("sso=%s; sso-rw=%s", token, token))
	httpReq.Header.Set("x-xai-request-id", uuid.NewString())
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		bts, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bts)}
	}
	return &bodyStream{body: resp.Body}, nil
}

type bodyStream struct {
	body io.ReadCloser
}

func (s *bodyStream) Lines() iter.Seq2[string, error] {
	return stream.Scan(s.body)
}

func (s *bodyStream) Close() error {
	return s.body.Close()
}
