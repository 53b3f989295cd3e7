package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/dotcommander/groksearch/internal/errs"
	"github.com/dotcommander/groksearch/internal/present"
)

func handleError(w io.Writer, err error) {
	styles := present.StderrStyles()
	format := "\n%s\n\n"

	var ferr flagParseError
	if errors.As(err, &ferr) {
		args := []any{
			fmt.Sprintf(
				"Check out %s %s",
				styles.InlineCode.Render("groksearch -h"),
				styles.Comment.Render("for help."),
			),
			fmt.Sprintf(
				ferr.ReasonFormat(),
				styles.InlineCode.Render(ferr.Flag()),
			),
		}
		fmt.Fprintf(w, format+"%s\n\n", args...)
		return
	}

	var merr errs.Error
	if errors.As(err, &merr) {
		formatArgs := []any{styles.ErrPadding.Render(styles.ErrorHeader.String(), merr.Reason)}
		if !errors.Is(merr.Err, huh.ErrUserAborted) {
			format += "%s\n\n"
			formatArgs = append(formatArgs, styles.ErrPadding.Render(styles.ErrorDetails.Render(err.Error())))
		}
		fmt.Fprintf(w, format, formatArgs...)
		return
	}

	fmt.Fprintf(w, format, styles.ErrPadding.Render(styles.ErrorDetails.Render(err.Error())))
}
