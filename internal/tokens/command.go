package tokens

import (
	"context"
	"errors"
	"os/exec"

	"github.com/caarlos0/go-shellwords"

	"github.com/dotcommander/groksearch/internal/config"
)

// runCommand runs a configured token command and returns its stdout.
func runCommand(ctx context.Context, line string) ([]byte, error) {
	args, err := shellwords.Parse(line)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty token-cmd")
	}
	// #nosec G204 -- token-cmd is explicitly configured by the local user.
	return exec.CommandContext(ctx, args[0], args[1:]...).Output()
}

// commandTokens runs line and returns one token per output line.
func commandTokens(ctx context.Context, run func(context.Context, string) ([]byte, error), line string) ([]string, error) {
	out, err := run(ctx, line)
	if err != nil {
		return nil, err
	}
	return config.SplitLines(string(out)), nil
}
