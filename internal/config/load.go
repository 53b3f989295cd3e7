package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// LoadSource loads a text blob referenced from the command line.
//
// Supported inputs:
//   - raw strings
//   - http(s) URLs
//   - file:// paths
func LoadSource(ctx context.Context, src string) (string, error) {
	if strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "http://") {
		const maxRemoteBytes = 2 * 1024 * 1024
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return "", fmt.Errorf("fetch source: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetch source: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			bts, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
			return "", fmt.Errorf("fetch source: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(bts)))
		}
		bts, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBytes))
		if err != nil {
			return "", fmt.Errorf("read source: %w", err)
		}
		if len(bts) >= maxRemoteBytes {
			return "", fmt.Errorf("read source: response too large (>%d bytes)", maxRemoteBytes)
		}
		return string(bts), nil
	}

	if path, ok := strings.CutPrefix(src, "file://"); ok {
		bts, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read source file: %w", err)
		}
		return string(bts), nil
	}

	return src, nil
}

// SplitLines splits a loaded source into trimmed, non-empty, non-comment
// lines. Commas also separate entries so that a raw "a,b" argument works.
func SplitLines(content string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '\n' || r == ','
	}) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
