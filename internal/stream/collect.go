package stream

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotcommander/groksearch/internal/metrics"
)

// Envelope is the shape of a payload line. Absent levels stay nil.
type Envelope struct {
	Result *Result `json:"result"`
}

type Result struct {
	Response *Response `json:"response"`
}

type Response struct {
	ModelResponse *ModelResponse `json:"modelResponse"`
}

type ModelResponse struct {
	Message string `json:"message"`
}

// Message returns the model message carried by a normalized line, and
// whether the line decoded at all.
func Message(text string) (msg string, ok bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return "", false
	}
	if env.Result == nil || env.Result.Response == nil || env.Result.Response.ModelResponse == nil {
		return "", true
	}
	return env.Result.Response.ModelResponse.Message, true
}

// Collector assembles the model text of a response stream.
type Collector struct {
	IdleTimeout time.Duration
	Label       string
	Logger      zerolog.Logger
}

// Collect concatenates every non-empty model message of lines in arrival
// order. Lines that are blank, not JSON, or carry no message are skipped.
//
// The end of lines and the idle timeout both return the text collected so
// far with a nil error. A read error or cancellation returns the partial
// text together with the error.
func (c Collector) Collect(ctx context.Context, lines iter.Seq2[string, error]) (string, error) {
	var sb strings.Builder
	for line, err := range WithIdleTimeout(ctx, lines, c.IdleTimeout, c.Label) {
		if err != nil {
			if errors.Is(err, ErrIdleTimeout) {
				c.Logger.Warn().
					Str("label", c.Label).
					Dur("timeout", c.IdleTimeout).
					Int("collected", sb.Len()).
					Msg("stream idle timeout")
				return sb.String(), nil
			}
			return sb.String(), err
		}

		text := Normalize(line)
		if text == "" {
			metrics.StreamLines.WithLabelValues(metrics.LineEmpty).Inc()
			continue
		}
		msg, ok := Message(text)
		switch {
		case !ok:
			metrics.StreamLines.WithLabelValues(metrics.LineInvalid).Inc()
		case msg == "":
			metrics.StreamLines.WithLabelValues(metrics.LineOther).Inc()
		default:
			metrics.StreamLines.WithLabelValues(metrics.LineMessage).Inc()
			sb.WriteString(msg)
		}
	}
	return sb.String(), nil
}
