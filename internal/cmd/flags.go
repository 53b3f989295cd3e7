package cmd

import (
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/duration"
)

var helpText = map[string]string{
	"model":      "Model to search with; an id or alias from the models command",
	"raw":        "Print the result without markdown rendering",
	"copy":       "Copy the result to the clipboard",
	"editor":     "Write the query in your $EDITOR",
	"quiet":      "Quiet mode (hide the spinner and informational messages)",
	"word-wrap":  "Wrap formatted output at specific width (default is 80)",
	"log-level":  "Log level: trace, debug, info, warn or error",
	"help":       "Show help and exit",
	"version":    "Show version and exit",
	"listen":     "Address the HTTP server listens on",
	"stdio":      "Serve the tool over stdin/stdout instead of HTTP",
	"path":       "HTTP path of the tool endpoint",
	"pool":       "Token pool: ssoBasic or ssoSuper",
	"note":       "Free-form note stored with the token; usable to remove it",
	"unused-for": "Prune tokens not used for this long; e.g. 72h, 14d",
	"url":        "URL of a running tool server",
	"arg":        "Tool argument as key=value; repeatable",
}

// flagParseError turns pflag errors into a reason and the offending flag.
type flagParseError struct {
	err    error
	reason string
	flag   string
}

var (
	shorthandFlagRe   = regexp.MustCompile(`unknown shorthand flag: '.*' in (-\w)`)
	invalidArgumentRe = regexp.MustCompile(`invalid argument ".*" for "(.*)" flag: .*`)
)

func newFlagParseError(err error) flagParseError {
	var reason, flag string
	s := err.Error()
	switch {
	case strings.HasPrefix(s, "flag needs an argument:"):
		reason = "Flag %s needs an argument."
		if fields := strings.Fields(s); len(fields) > 0 {
			flag = fields[len(fields)-1]
		}
	case strings.HasPrefix(s, "unknown flag:"):
		reason = "Flag %s is missing."
		flag = strings.TrimPrefix(s, "unknown flag: ")
	case strings.HasPrefix(s, "unknown shorthand flag:"):
		reason = "Short flag %s is missing."
		if parts := shorthandFlagRe.FindStringSubmatch(s); len(parts) > 1 {
			flag = parts[1]
		}
	case strings.HasPrefix(s, "invalid argument"):
		reason = "Flag %s have an invalid argument."
		if parts := invalidArgumentRe.FindStringSubmatch(s); len(parts) > 1 {
			flag = parts[1]
		}
	default:
		reason = s
	}
	return flagParseError{err: err, reason: reason, flag: flag}
}

func (f flagParseError) Error() string        { return f.err.Error() }
func (f flagParseError) ReasonFormat() string { return f.reason }
func (f flagParseError) Flag() string         { return f.flag }

// durationFlag accepts day and week units on top of time.ParseDuration.
type durationFlag time.Duration

func newDurationFlag(val time.Duration, p *time.Duration) *durationFlag {
	*p = val
	return (*durationFlag)(p)
}

func (d *durationFlag) Set(s string) error {
	v, err := duration.Parse(s)
	if err != nil {
		return err //nolint:wrapcheck
	}
	*d = durationFlag(v)
	return nil
}

func (d *durationFlag) String() string {
	return time.Duration(*d).String()
}

func (*durationFlag) Type() string {
	return "duration"
}
