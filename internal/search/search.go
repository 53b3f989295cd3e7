// Package search runs one web search through the upstream chat endpoint
// and turns every outcome, failures included, into a Result.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/x/exp/ordered"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dotcommander/groksearch/internal/metrics"
	"github.com/dotcommander/groksearch/internal/models"
	"github.com/dotcommander/groksearch/internal/stream"
	"github.com/dotcommander/groksearch/internal/tokens"
	"github.com/dotcommander/groksearch/internal/upstream"
)

const (
	// DefaultModel is used when neither the caller nor the settings name one.
	DefaultModel = "grok-3"
	// DefaultIdleTimeout bounds the wait for the next stream line.
	DefaultIdleTimeout = 45 * time.Second

	streamLabel       = "mcp-search"
	accountingTimeout = 5 * time.Second
	logQueryRunes     = 50
)

// Registry resolves model names.
type Registry interface {
	Resolve(name string) (models.Model, bool)
	PoolCandidates(name string) []string
}

// TokenPool hands out and charges upstream tokens.
type TokenPool interface {
	ReloadIfStale(ctx context.Context) error
	Get(pool string) (string, bool)
	Consume(ctx context.Context, token string, effort tokens.Effort) error
	Disable(ctx context.Context, token string) error
}

// Chatter opens upstream conversations.
type Chatter interface {
	Chat(ctx context.Context, req upstream.ChatRequest) (upstream.Stream, error)
}

// Service runs searches. It is safe for concurrent use when its
// dependencies are.
type Service struct {
	registry     Registry
	tokens       TokenPool
	chat         Chatter
	defaultModel string
	idleTimeout  time.Duration
	log          zerolog.Logger
	newID        func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithDefaultModel sets the model used for calls that name none.
func WithDefaultModel(model string) Option {
	return func(s *Service) { s.defaultModel = model }
}

// WithIdleTimeout sets the stream idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Service) { s.idleTimeout = d }
}

// WithRequestID replaces the request id generator.
func WithRequestID(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New returns a Service.
func New(registry Registry, pool TokenPool, chat Chatter, opts ...Option) *Service {
	s := &Service{
		registry:     registry,
		tokens:       pool,
		chat:         chat,
		defaultModel: DefaultModel,
		idleTimeout:  DefaultIdleTimeout,
		log:          zerolog.Nop(),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "search").Logger()
	return s
}

// Search runs query against model, or the default model when model is
// empty. It never returns an error; failures are reported in the Result.
func (s *Service) Search(ctx context.Context, query, model string) (res Result) {
	start := time.Now()
	model = ordered.First(model, s.defaultModel, DefaultModel)
	id := s.newID()
	log := s.log.With().Str("request_id", id).Str("model", model).Logger()

	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: OutcomeFailed, Err: fmt.Errorf("panic: %v", r)}
		}
		res.Model, res.RequestID = model, id

		metrics.Searches.WithLabelValues(res.Outcome.String()).Inc()
		metrics.SearchDuration.Observe(time.Since(start).Seconds())

		switch res.Outcome {
		case OutcomeFound:
			log.Info().
				Str("query", truncate(query, logQueryRunes)).
				Int("chars", len(res.Text)).
				Dur("took", time.Since(start)).
				Msg("search completed")
		case OutcomeFailed:
			log.Error().Err(res.Err).Str("query", truncate(query, logQueryRunes)).Msg("search failed")
		default:
			log.Info().Str("outcome", res.Outcome.String()).Str("query", truncate(query, logQueryRunes)).Msg("search finished")
		}
	}()

	return s.search(ctx, log, query, model)
}

func (s *Service) search(ctx context.Context, log zerolog.Logger, query, model string) Result {
	upstreamModel, mode := model, ""
	if m, ok := s.registry.Resolve(model); ok {
		upstreamModel, mode = m.UpstreamModel, m.Mode
	}

	if err := s.tokens.ReloadIfStale(ctx); err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	var token string
	for _, pool := range s.registry.PoolCandidates(model) {
		if t, ok := s.tokens.Get(pool); ok && t != "" {
			token = t
			break
		}
	}
	if token == "" {
		return Result{Outcome: OutcomeNoToken}
	}

	st, err := s.chat.Chat(ctx, upstream.ChatRequest{
		Token:             token,
		Message:           query,
		Model:             upstreamModel,
		Mode:              mode,
		CustomPersonality: SystemPrompt,
	})
	if err != nil {
		if rejected(err) {
			s.disable(ctx, log, token)
		}
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	collector := stream.Collector{IdleTimeout: s.idleTimeout, Label: streamLabel, Logger: log}
	text, collectErr := collector.Collect(ctx, st.Lines())
	_ = st.Close()

	s.consume(ctx, log, token)

	if collectErr != nil {
		return Result{Outcome: OutcomeFailed, Err: collectErr}
	}
	if text == "" {
		return Result{Outcome: OutcomeEmpty}
	}
	return Result{Outcome: OutcomeFound, Text: text}
}

// consume records usage of token. It outlives a cancelled request so the
// quota stays accurate, and its failures only get logged.
func (s *Service) consume(ctx context.Context, log zerolog.Logger, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), accountingTimeout)
	defer cancel()
	if err := s.tokens.Consume(ctx, token, tokens.EffortLow); err != nil {
		metrics.TokenConsumeFailures.Inc()
		log.Warn().Err(err).Msg("failed to record token usage")
	}
}

// disable drops a token the upstream refused from the pool.
func (s *Service) disable(ctx context.Context, log zerolog.Logger, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), accountingTimeout)
	defer cancel()
	if err := s.tokens.Disable(ctx, token); err != nil {
		log.Warn().Err(err).Msg("failed to disable rejected token")
	}
}

// rejected reports whether err says the upstream refused the token itself.
func rejected(err error) bool {
	var se *upstream.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
