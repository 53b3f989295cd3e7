// Package stream reads the line-delimited JSON responses of the upstream
// chat endpoint.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"
)

// MaxLineSize is the longest line Scan accepts.
const MaxLineSize = 10 * 1024 * 1024

// ErrIdleTimeout matches every *IdleTimeoutError.
var ErrIdleTimeout = errors.New("stream idle timeout")

// IdleTimeoutError is yielded by WithIdleTimeout when no line arrived in time.
type IdleTimeoutError struct {
	Label   string
	Timeout time.Duration
}

func (e *IdleTimeoutError) Error() string {
	return fmt.Sprintf("%s: no data for %s", e.Label, e.Timeout)
}

func (e *IdleTimeoutError) Is(target error) bool {
	return target == ErrIdleTimeout
}

// Scan yields the lines of r. A read error is yielded once, last.
func Scan(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for sc.Scan() {
			if !yield(sc.Text(), nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield("", fmt.Errorf("read stream: %w", err))
		}
	}
}

// Normalize strips SSE framing from a line. It returns "" for blank lines
// and the [DONE] sentinel.
func Normalize(line string) string {
	s := strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		s = strings.TrimSpace(rest)
	}
	if s == "[DONE]" {
		return ""
	}
	return s
}

// WithIdleTimeout ends lines early when no line arrives within timeout,
// yielding a final *IdleTimeoutError. Cancelling ctx yields ctx.Err().
//
// lines is consumed on its own goroutine. If it is blocked in a read when
// the guard fires, closing the underlying reader releases it.
func WithIdleTimeout(ctx context.Context, lines iter.Seq2[string, error], timeout time.Duration, label string) iter.Seq2[string, error] {
	if timeout <= 0 {
		return lines
	}
	return func(yield func(string, error) bool) {
		type item struct {
			line string
			err  error
		}
		ch := make(chan item)
		done := make(chan struct{})
		defer close(done)

		go func() {
			defer close(ch)
			for line, err := range lines {
				select {
				case ch <- item{line, err}:
				case <-done:
					return
				}
			}
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		for {
			select {
			case it, ok := <-ch:
				if !ok {
					return
				}
				if !yield(it.line, it.err) {
					return
				}
				timer.Reset(timeout)
			case <-timer.C:
				yield("", &IdleTimeoutError{Label: label, Timeout: timeout})
				return
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			}
		}
	}
}
