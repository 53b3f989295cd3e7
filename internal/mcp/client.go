package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/groksearch/internal/errs"
)

// Target is a tool server to probe.
type Target struct {
	// Type is one of stdio, sse, http or inprocess. Empty means http when
	// URL is set and stdio otherwise.
	Type    string
	URL     string
	Command string
	Args    []string
	Env     []string
	Server  *server.MCPServer
}

// HTTPTarget returns a streamable HTTP target.
func HTTPTarget(url string) Target {
	return Target{Type: "http", URL: url}
}

// Tools lists the tools of every target, keyed by target name.
func Tools(ctx context.Context, targets map[string]Target) (map[string][]mcp.Tool, error) {
	var mu sync.Mutex
	var wg errgroup.Group
	result := map[string][]mcp.Tool{}
	names := slices.Sorted(maps.Keys(targets))
	for _, name := range names {
		target := targets[name]
		wg.Go(func() error {
			tools, err := toolsFor(ctx, name, target)
			if errors.Is(err, context.DeadlineExceeded) {
				return errs.Wrap(
					fmt.Errorf("timeout while listing tools for %q - make sure the server is running and the URL is correct", name),
					"Could not list tools",
				)
			}
			if err != nil {
				return errs.Wrap(err, "Could not list tools")
			}
			mu.Lock()
			result[name] = append(result[name], tools...)
			mu.Unlock()
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("mcp tools: %w", err)
	}
	return result, nil
}

// CallTool calls tool on target with the JSON object args and returns the
// text content. A tool error result is returned as an error.
func CallTool(ctx context.Context, target Target, tool string, data []byte) (string, error) {
	cli, err := initClient(ctx, target)
	if err != nil {
		return "", fmt.Errorf("mcp: %w", err)
	}
	defer cli.Close() //nolint:errcheck

	var args map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &args); err != nil {
			return "", fmt.Errorf("mcp: %w: %s", err, string(data))
		}
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = tool
	request.Params.Arguments = args
	result, err := cli.CallTool(ctx, request)
	if err != nil {
		return "", fmt.Errorf("mcp: %w", err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		switch content := content.(type) {
		case mcp.TextContent:
			sb.WriteString(content.Text)
		case *mcp.TextContent:
			sb.WriteString(content.Text)
		default:
			sb.WriteString("[Non-text content]")
		}
	}

	if result.IsError {
		return "", errors.New(sb.String())
	}
	return sb.String(), nil
}

func initClient(ctx context.Context, target Target) (*client.Client, error) {
	var cli *client.Client
	var err error

	kind := target.Type
	if kind == "" {
		kind = "stdio"
		if target.URL != "" {
			kind = "http"
		}
	}

	switch kind {
	case "stdio":
		cli, err = client.NewStdioMCPClient(
			target.Command,
			append(os.Environ(), target.Env...),
			target.Args...,
		)
	case "sse":
		cli, err = client.NewSSEMCPClient(target.URL)
	case "http":
		cli, err = client.NewStreamableHttpClient(target.URL)
	case "inprocess":
		if target.Server == nil {
			return nil, errors.New("in-process target without a server")
		}
		cli, err = client.NewInProcessClient(target.Server)
	default:
		return nil, fmt.Errorf("unsupported MCP server type: %q, supported types are: stdio, sse, http", target.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := cli.Start(ctx); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}

	return cli, nil
}

func toolsFor(ctx context.Context, name string, target Target) ([]mcp.Tool, error) {
	cli, err := initClient(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("could not setup %s: %w", name, err)
	}
	defer cli.Close() //nolint:errcheck

	tools, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("could not setup %s: %w", name, err)
	}
	return tools.Tools, nil
}
