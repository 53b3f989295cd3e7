package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	glamour "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/x/editor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/logging"
	"github.com/dotcommander/groksearch/internal/present"
)

type runtime struct {
	build  BuildInfo
	cfg    config.Config
	cfgErr error
	log    zerolog.Logger

	model    string
	editor   bool
	logLevel string
}

// NewRootCmd constructs the Cobra root command.
func NewRootCmd(build BuildInfo, cfg config.Config, cfgErr error) *cobra.Command {
	// XXX: unset error styles in Glamour dark and light styles.
	glamour.DarkStyleConfig.CodeBlock.Chroma.Error.BackgroundColor = new(string)
	glamour.LightStyleConfig.CodeBlock.Chroma.Error.BackgroundColor = new(string)

	rt := &runtime{
		build:  normalizeBuildInfo(build),
		cfg:    cfg,
		cfgErr: cfgErr,
		log:    zerolog.Nop(),
	}

	rootCmd := &cobra.Command{
		Use:           "groksearch [query]",
		Short:         "Grok web search on the command line and over MCP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example:       randomExample(),
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			rt.setupLogger(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer withSignals(cmd)()
			if len(args) == 0 && present.IsInputTTY() && !rt.editor {
				if err := cmd.Usage(); err != nil {
					return fmt.Errorf("usage: %w", err)
				}
				return nil
			}
			return rt.runSearch(cmd, args)
		},
	}

	rootCmd.SetUsageFunc(usageFunc)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return newFlagParseError(err)
	})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.Version = rt.build.Version
	rootCmd.SetVersionTemplate(versionTemplate(rt.build))

	initPersistentFlags(rootCmd, rt)
	initSearchFlags(rootCmd, rt)

	rootCmd.AddCommand(newSearchCmd(rt))
	rootCmd.AddCommand(newServeCmd(rt))
	rootCmd.AddCommand(newTokensCmd(rt))
	rootCmd.AddCommand(newModelsCmd(rt))
	rootCmd.AddCommand(newMCPCmd(rt))
	rootCmd.AddCommand(newConfigCmd(rt))
	rootCmd.AddCommand(newManCmd(rootCmd))

	// Enable completion now that we have subcommands.
	rootCmd.InitDefaultCompletionCmd()

	return rootCmd
}

func initPersistentFlags(cmd *cobra.Command, rt *runtime) {
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&rt.cfg.Quiet, "quiet", "q", rt.cfg.Quiet, present.StdoutStyles().FlagDesc.Render(helpText["quiet"]))
	flags.IntVar(&rt.cfg.WordWrap, "word-wrap", rt.cfg.WordWrap, present.StdoutStyles().FlagDesc.Render(helpText["word-wrap"]))
	flags.StringVar(&rt.logLevel, "log-level", "", present.StdoutStyles().FlagDesc.Render(helpText["log-level"]))
	flags.BoolVar(&memprofile, "memprofile", false, "Write memory profiles to CWD")
	_ = flags.MarkHidden("memprofile")
}

// setupLogger builds the process logger once flags are parsed. One-off
// commands only report warnings unless a level is asked for.
func (rt *runtime) setupLogger(cmd *cobra.Command) {
	logCfg := rt.cfg.Log
	switch {
	case rt.logLevel != "":
		logCfg.Level = rt.logLevel
	case cmd.Name() != "serve":
		logCfg.Level = zerolog.LevelWarnValue
	}
	rt.log = logging.New(logCfg, os.Stderr)
}

// withSignals cancels the command context on SIGINT or SIGTERM.
func withSignals(cmd *cobra.Command) context.CancelFunc {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	cmd.SetContext(ctx)
	return stop
}

func queryFromEditor(appName string) (string, error) {
	f, err := os.CreateTemp("", "query")
	if err != nil {
		return "", fmt.Errorf("could not create temporary file: %w", err)
	}
	_ = f.Close()
	defer func() { _ = os.Remove(f.Name()) }()

	c, err := editor.Cmd(appName, f.Name())
	if err != nil {
		return "", fmt.Errorf("could not open editor: %w", err)
	}
	c.Stdin = os.Stdin
	c.Stderr = os.Stderr
	c.Stdout = os.Stdout
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("could not open editor: %w", err)
	}
	query, err := os.ReadFile(f.Name())
	if err != nil {
		return "", fmt.Errorf("could not read file: %w", err)
	}
	return strings.TrimSpace(string(query)), nil
}
