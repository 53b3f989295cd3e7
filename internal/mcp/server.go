// Package mcp exposes web search as an MCP tool and probes MCP servers.
package mcp

import (
	"context"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dotcommander/groksearch/internal/search"
)

// ToolName is the name of the search tool.
const ToolName = "grok_web_search"

// Searcher runs one search.
type Searcher interface {
	Search(ctx context.Context, query, model string) search.Result
}

// Info names the server in the initialize handshake.
type Info struct {
	Name    string
	Version string
}

// NewServer returns a tool server with the search tool registered.
func NewServer(svc Searcher, info Info, log zerolog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		info.Name,
		info.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTool(SearchTool(), searchHandler(svc, log.With().Str("component", "mcp").Logger()))
	return s
}

// SearchTool describes the search tool.
func SearchTool() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription("Search the web using Grok's native search capability. "+
			"Returns an answer built from live search results, with inline citations and a sources list."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The search query to execute."),
		),
		mcp.WithString("model",
			mcp.Description("Optional model override (defaults to config value)."),
		),
	)
}

func searchHandler(svc Searcher, log zerolog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			log.Debug().Err(err).Msg("invalid tool call")
			return mcp.NewToolResultError(err.Error()), nil
		}
		model := request.GetString("model", "")

		res := svc.Search(ctx, query, model)
		return mcp.NewToolResultText(res.String()), nil
	}
}

// HTTPHandler serves s over stateless streamable HTTP at path.
func HTTPHandler(s *server.MCPServer, path string) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithStateLess(true),
		server.WithEndpointPath(path),
	)
}

// ServeStdio serves s on stdin/stdout until ctx is done or stdin closes.
func ServeStdio(ctx context.Context, s *server.MCPServer) error {
	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}
