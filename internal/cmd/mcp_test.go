package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/groksearch/internal/config"
	imcp "github.com/dotcommander/groksearch/internal/mcp"
)

func TestToolArguments(t *testing.T) {
	t.Run("words become the query", func(t *testing.T) {
		data, err := toolArguments([]string{"latest", "go"}, []string{"model=grok-4"})
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		require.Equal(t, map[string]any{"query": "latest go", "model": "grok-4"}, got)
	})

	t.Run("arg overrides words", func(t *testing.T) {
		data, err := toolArguments([]string{"a"}, []string{"query=b=c"})
		require.NoError(t, err)
		require.JSONEq(t, `{"query":"b=c"}`, string(data))
	})

	t.Run("empty", func(t *testing.T) {
		data, err := toolArguments(nil, nil)
		require.NoError(t, err)
		require.JSONEq(t, `{}`, string(data))
	})

	t.Run("invalid pair", func(t *testing.T) {
		_, err := toolArguments(nil, []string{"novalue"})
		require.Error(t, err)
		_, err = toolArguments(nil, []string{"=v"})
		require.Error(t, err)
	})
}

func TestServerURL(t *testing.T) {
	rt := &runtime{cfg: config.Default()}
	require.Equal(t, "http://127.0.0.1:8000/", rt.serverURL())

	rt.cfg.ProbeURL = "http://example.com/mcp"
	require.Equal(t, "http://example.com/mcp", rt.serverURL())
	require.Contains(t, rt.targets(), rt.cfg.MCP.Name)
}

func TestMCPListTools(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	srv := imcp.NewServer(staticSearcher{}, imcp.Info{Name: "grok-web-search", Version: "test"}, zerolog.Nop())
	var out bytes.Buffer
	require.NoError(t, mcpListTools(ctx, &out, map[string]imcp.Target{
		"local": {Type: "inprocess", Server: srv},
	}))
	require.Contains(t, out.String(), "local > ")
	require.Contains(t, out.String(), imcp.ToolName)
}
