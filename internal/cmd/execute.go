package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/present"
)

// memprofile writes heap and alloc profiles to the current directory when
// set. It's hidden from help.
var memprofile bool

// Execute wires commands and runs Cobra.
func Execute(build BuildInfo, cfg config.Config, cfgErr error) {
	defer maybeWriteMemProfile()

	root := NewRootCmd(build, cfg, cfgErr)
	if err := root.Execute(); err != nil {
		maybeWriteMemProfile()
		// exhaust stdin
		if !present.IsInputTTY() {
			_, _ = io.Copy(io.Discard, os.Stdin)
		}
		handleError(os.Stderr, err)
		os.Exit(1)
	}
}

func maybeWriteMemProfile() {
	if !memprofile {
		return
	}
	for _, name := range []string{"heap", "allocs"} {
		if err := writeProfile(name, "groksearch_"+name+".profile"); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
	}
}

func writeProfile(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s profile: %w", name, err)
	}
	defer func() { _ = f.Close() }()
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		return fmt.Errorf("write %s profile: %w", name, err)
	}
	return nil
}
