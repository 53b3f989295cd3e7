package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	mmcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/dotcommander/groksearch/internal/errs"
	imcp "github.com/dotcommander/groksearch/internal/mcp"
	"github.com/dotcommander/groksearch/internal/present"
)

func newMCPCmd(rt *runtime) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Probe a running tool server",
	}
	mcpCmd.PersistentFlags().StringVar(&rt.cfg.ProbeURL, "url", "", present.StdoutStyles().FlagDesc.Render(helpText["url"]))

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "List the tools of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.Timeout.Request)
			defer cancel()
			return mcpListTools(ctx, os.Stdout, rt.targets())
		},
	})

	var callArgs []string
	callCmd := &cobra.Command{
		Use:   "call [tool] [query...]",
		Short: "Call a tool; the search tool by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			tool := imcp.ToolName
			if len(args) > 0 {
				tool, args = args[0], args[1:]
			}
			data, err := toolArguments(args, callArgs)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.Timeout.Request)
			defer cancel()
			out, err := imcp.CallTool(ctx, imcp.HTTPTarget(rt.serverURL()), tool, data)
			if err != nil {
				return errs.Error{Err: err, Reason: fmt.Sprintf("Could not call %s.", tool)}
			}
			fmt.Println(out)
			return nil
		},
	}
	callCmd.Flags().StringArrayVar(&callArgs, "arg", nil, present.StdoutStyles().FlagDesc.Render(helpText["arg"]))
	mcpCmd.AddCommand(callCmd)

	return mcpCmd
}

// serverURL falls back to the address serve listens on.
func (rt *runtime) serverURL() string {
	if rt.cfg.ProbeURL != "" {
		return rt.cfg.ProbeURL
	}
	return "http://" + rt.cfg.MCP.Listen + rt.cfg.MCP.Path
}

func (rt *runtime) targets() map[string]imcp.Target {
	return map[string]imcp.Target{rt.cfg.MCP.Name: imcp.HTTPTarget(rt.serverURL())}
}

// toolArguments builds the JSON arguments of a tool call. Words become the
// query and --arg key=value pairs are added on top.
func toolArguments(words, pairs []string) ([]byte, error) {
	args := map[string]any{}
	if query := strings.TrimSpace(strings.Join(words, " ")); query != "" {
		args["query"] = query
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errs.Error{
				Err:    errs.UserErrorf("expected key=value, got %q", pair),
				Reason: "Invalid --arg.",
			}
		}
		args[k] = v
	}
	bts, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal tool arguments: %w", err)
	}
	return bts, nil
}

func mcpListTools(ctx context.Context, w io.Writer, targets map[string]imcp.Target) error {
	servers, err := imcp.Tools(ctx, targets)
	if err != nil {
		return fmt.Errorf("mcp list tools: %w", err)
	}

	names := slices.Sorted(maps.Keys(servers))
	for _, sname := range names {
		tools := servers[sname]
		slices.SortFunc(tools, func(a, b mmcp.Tool) int { return strings.Compare(a.Name, b.Name) })
		for _, tool := range tools {
			_, _ = fmt.Fprint(w, present.StdoutStyles().Timeago.Render(sname+" > "))
			_, _ = fmt.Fprintln(w, tool.Name)
		}
	}
	return nil
}
