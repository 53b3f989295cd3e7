// Package main provides the groksearch CLI and MCP server.
package main

import (
	"github.com/dotcommander/groksearch/internal/cmd"
	"github.com/dotcommander/groksearch/internal/config"
)

// Build vars.
var (
	//nolint: gochecknoglobals
	Version = ""
	//nolint: gochecknoglobals
	CommitSHA = ""
)

func main() {
	cfg, cfgErr := config.Ensure()
	cmd.Execute(cmd.BuildInfo{Version: Version, CommitSHA: CommitSHA}, cfg, cfgErr)
}
