package search

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/groksearch/internal/metrics"
	"github.com/dotcommander/groksearch/internal/models"
	"github.com/dotcommander/groksearch/internal/tokens"
	"github.com/dotcommander/groksearch/internal/upstream"
)

type fakePool struct {
	mu         sync.Mutex
	byPool     map[string]string
	reloadErr  error
	consumeErr error
	disableErr error
	consumed   []string
	disabled   []string
	asked      []string
}

func (p *fakePool) ReloadIfStale(context.Context) error { return p.reloadErr }

func (p *fakePool) Get(pool string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, pool)
	t, ok := p.byPool[pool]
	return t, ok
}

func (p *fakePool) Consume(_ context.Context, token string, effort tokens.Effort) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumed = append(p.consumed, token+":"+effort.String())
	return p.consumeErr
}

func (p *fakePool) Disable(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = append(p.disabled, token)
	return p.disableErr
}

type fakeStream struct {
	lines  []string
	err    error
	closed bool
}

func (s *fakeStream) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, l := range s.lines {
			if !yield(l, nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeChat struct {
	stream *fakeStream
	err    error
	calls  []upstream.ChatRequest
}

func (c *fakeChat) Chat(_ context.Context, req upstream.ChatRequest) (upstream.Stream, error) {
	c.calls = append(c.calls, req)
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

func msgLine(s string) string {
	return `{"result":{"response":{"modelResponse":{"message":"` + s + `"}}}}`
}

func newService(pool *fakePool, chat *fakeChat, opts ...Option) *Service {
	opts = append([]Option{WithLogger(zerolog.Nop()), WithRequestID(func() string { return "req-1" })}, opts...)
	return New(models.New(nil), pool, chat, opts...)
}

func basicPool() *fakePool {
	return &fakePool{byPool: map[string]string{tokens.PoolBasic: "tok-basic"}}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		pool := basicPool()
		st := &fakeStream{lines: []string{msgLine("A"), "junk", msgLine("B"), "data: [DONE]"}}
		chat := &fakeChat{stream: st}

		res := newService(pool, chat).Search(ctx, "latest go release", "")
		require.Equal(t, OutcomeFound, res.Outcome)
		require.Equal(t, "AB", res.String())
		require.Equal(t, "grok-3", res.Model)
		require.Equal(t, "req-1", res.RequestID)
		require.True(t, st.closed)
		require.Equal(t, []string{"tok-basic:low"}, pool.consumed)

		require.Len(t, chat.calls, 1)
		call := chat.calls[0]
		require.Equal(t, "tok-basic", call.Token)
		require.Equal(t, "latest go release", call.Message)
		require.Equal(t, SystemPrompt, call.CustomPersonality)
	})

	t.Run("no token", func(t *testing.T) {
		pool := &fakePool{}
		chat := &fakeChat{stream: &fakeStream{}}

		res := newService(pool, chat).Search(ctx, "q", "grok-3")
		require.Equal(t, OutcomeNoToken, res.Outcome)
		require.Equal(t, "Error: No available tokens. Please try again later.", res.String())
		require.Empty(t, chat.calls)
		require.Empty(t, pool.consumed)
		require.Equal(t, []string{tokens.PoolBasic, tokens.PoolSuper}, pool.asked)
	})

	t.Run("falls back to second pool", func(t *testing.T) {
		pool := &fakePool{byPool: map[string]string{tokens.PoolSuper: "tok-super"}}
		chat := &fakeChat{stream: &fakeStream{lines: []string{msgLine("x")}}}

		res := newService(pool, chat).Search(ctx, "q", "")
		require.Equal(t, OutcomeFound, res.Outcome)
		require.Equal(t, "tok-super", chat.calls[0].Token)
	})

	t.Run("super tier skips basic pool", func(t *testing.T) {
		pool := basicPool()
		chat := &fakeChat{stream: &fakeStream{}}

		res := newService(pool, chat).Search(ctx, "q", "grok-4-heavy")
		require.Equal(t, OutcomeNoToken, res.Outcome)
		require.Equal(t, []string{tokens.PoolSuper}, pool.asked)
	})

	t.Run("empty", func(t *testing.T) {
		pool := basicPool()
		chat := &fakeChat{stream: &fakeStream{lines: []string{"not json", `{"result":{}}`}}}

		res := newService(pool, chat).Search(ctx, "q", "")
		require.Equal(t, OutcomeEmpty, res.Outcome)
		require.Equal(t, "No results found for the query.", res.String())
		require.Len(t, pool.consumed, 1)
	})

	t.Run("upstream error", func(t *testing.T) {
		pool := basicPool()
		chat := &fakeChat{err: &upstream.StatusError{StatusCode: 401, Body: "unauthorized"}}

		res := newService(pool, chat).Search(ctx, "q", "")
		require.Equal(t, OutcomeFailed, res.Outcome)
		require.True(t, strings.HasPrefix(res.String(), "Search error: "))
		require.Contains(t, res.String(), "unauthorized")
		var se *upstream.StatusError
		require.ErrorAs(t, res.Err, &se)
		require.Empty(t, pool.consumed)
		require.Equal(t, []string{"tok-basic"}, pool.disabled)
	})

	t.Run("rejected token", func(t *testing.T) {
		for name, tc := range map[string]struct {
			err     error
			disable bool
		}{
			"unauthorized":  {err: &upstream.StatusError{StatusCode: 401}, disable: true},
			"forbidden":     {err: fmt.Errorf("chat: %w", &upstream.StatusError{StatusCode: 403}), disable: true},
			"rate limited":  {err: &upstream.StatusError{StatusCode: 429}},
			"server error":  {err: &upstream.StatusError{StatusCode: 502}},
			"network error": {err: errors.New("dial tcp: connection refused")},
		} {
			t.Run(name, func(t *testing.T) {
				pool := basicPool()
				pool.disableErr = errors.New("store down")
				res := newService(pool, &fakeChat{err: tc.err}).Search(ctx, "q", "")
				require.Equal(t, OutcomeFailed, res.Outcome)
				if tc.disable {
					require.Equal(t, []string{"tok-basic"}, pool.disabled)
				} else {
					require.Empty(t, pool.disabled)
				}
			})
		}
	})

	t.Run("stream read error", func(t *testing.T) {
		pool := basicPool()
		st := &fakeStream{lines: []string{msgLine("partial")}, err: errors.New("connection reset")}
		chat := &fakeChat{stream: st}

		res := newService(pool, chat).Search(ctx, "q", "")
		require.Equal(t, OutcomeFailed, res.Outcome)
		require.Equal(t, "Search error: connection reset", res.String())
		require.Len(t, pool.consumed, 1)
		require.True(t, st.closed)
	})

	t.Run("reload error", func(t *testing.T) {
		pool := basicPool()
		pool.reloadErr = errors.New("store unavailable")
		chat := &fakeChat{stream: &fakeStream{}}

		res := newService(pool, chat).Search(ctx, "q", "")
		require.Equal(t, "Search error: store unavailable", res.String())
		require.Empty(t, chat.calls)
	})

	t.Run("accounting failure keeps result", func(t *testing.T) {
		pool := basicPool()
		pool.consumeErr = errors.New("quota store down")
		chat := &fakeChat{stream: &fakeStream{lines: []string{msgLine("answer")}}}
		before := testutil.ToFloat64(metrics.TokenConsumeFailures)

		res := newService(pool, chat).Search(ctx, "q", "")
		require.Equal(t, OutcomeFound, res.Outcome)
		require.Equal(t, "answer", res.String())
		require.Equal(t, before+1, testutil.ToFloat64(metrics.TokenConsumeFailures))
	})

	t.Run("idle timeout returns partial text", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		chat := &fakeChat{stream: &fakeStream{}}
		svc := newService(basicPool(), chat, WithIdleTimeout(20*time.Millisecond))
		svc.chat = chatFunc(func(context.Context, upstream.ChatRequest) (upstream.Stream, error) {
			return &stallingStream{first: msgLine("partial"), release: release}, nil
		})

		res := svc.Search(ctx, "q", "")
		require.Equal(t, OutcomeFound, res.Outcome)
		require.Equal(t, "partial", res.Text)
	})

	t.Run("panic in dependency", func(t *testing.T) {
		svc := newService(basicPool(), &fakeChat{})
		svc.chat = chatFunc(func(context.Context, upstream.ChatRequest) (upstream.Stream, error) {
			panic("boom")
		})
		res := svc.Search(ctx, "q", "")
		require.Equal(t, OutcomeFailed, res.Outcome)
		require.Contains(t, res.String(), "boom")
		require.Equal(t, "req-1", res.RequestID)
	})

	t.Run("outcome metric", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.Searches.WithLabelValues("no_token"))
		newService(&fakePool{}, &fakeChat{}).Search(ctx, "q", "")
		require.Equal(t, before+1, testutil.ToFloat64(metrics.Searches.WithLabelValues("no_token")))
	})
}

func TestModelResolution(t *testing.T) {
	ctx := context.Background()

	for name, tc := range map[string]struct {
		model, wantModel, wantMode string
		opts                       []Option
	}{
		"registered":         {model: "grok-4-fast", wantModel: "grok-4-mini-thinking-tahoe", wantMode: "MODEL_MODE_FAST"},
		"alias":              {model: "grok-latest", wantModel: "grok-4-1-thinking-1129", wantMode: "MODEL_MODE_AUTO"},
		"unregistered":       {model: "grok-experimental", wantModel: "grok-experimental", wantMode: ""},
		"default":            {model: "", wantModel: "grok-3", wantMode: "MODEL_MODE_GROK_3"},
		"configured default": {model: "", wantModel: "grok-4", wantMode: "MODEL_MODE_GROK_4", opts: []Option{WithDefaultModel("grok-4")}},
	} {
		t.Run(name, func(t *testing.T) {
			chat := &fakeChat{stream: &fakeStream{lines: []string{msgLine("ok")}}}
			newService(basicPool(), chat, tc.opts...).Search(ctx, "q", tc.model)
			require.Len(t, chat.calls, 1)
			require.Equal(t, tc.wantModel, chat.calls[0].Model)
			require.Equal(t, tc.wantMode, chat.calls[0].Mode)
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	require.Equal(t, `You are a web research assistant. You MUST use live web search to answer the user's query.
Always cite your sources. Structure your response with:
1. A comprehensive answer based on search results
2. A sources list: Sources:
- [Title](URL)
- [Title](URL)`, SystemPrompt)
}

func TestResultString(t *testing.T) {
	require.Equal(t, "text", Result{Outcome: OutcomeFound, Text: "text"}.String())
	require.Equal(t, "Search error: boom", Result{Outcome: OutcomeFailed, Err: errors.New("boom")}.String())
	require.Equal(t, "failed", OutcomeFailed.String())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "héllo", truncate("héllo", 5))
	require.Equal(t, "hé...", truncate("héllo", 2))
}

type chatFunc func(context.Context, upstream.ChatRequest) (upstream.Stream, error)

func (f chatFunc) Chat(ctx context.Context, req upstream.ChatRequest) (upstream.Stream, error) {
	return f(ctx, req)
}

type stallingStream struct {
	first   string
	release chan struct{}
}

func (s *stallingStream) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield(s.first, nil) {
			return
		}
		<-s.release
	}
}

func (s *stallingStream) Close() error { return nil }
