package search

import "fmt"

// Outcome classifies a search result.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeEmpty
	OutcomeNoToken
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeEmpty:
		return "empty"
	case OutcomeNoToken:
		return "no_token"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Display strings of the non-found outcomes.
const (
	NoTokenText = "Error: No available tokens. Please try again later."
	EmptyText   = "No results found for the query."
)

// Result is the outcome of one search. Err is set for OutcomeFailed only.
type Result struct {
	Outcome   Outcome
	Text      string
	Err       error
	Model     string
	RequestID string
}

// String renders the result for the tool caller.
func (r Result) String() string {
	switch r.Outcome {
	case OutcomeFound:
		return r.Text
	case OutcomeEmpty:
		return EmptyText
	case OutcomeNoToken:
		return NoTokenText
	default:
		return fmt.Sprintf("Search error: %v", r.Err)
	}
}
