package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoMatches is returned when no tokens match the query.
	ErrNoMatches = errors.New("no tokens found")
	// ErrManyMatches is returned when multiple tokens match the query.
	ErrManyMatches = errors.New("multiple tokens matched the input")
	// ErrNotFound is returned by Update when the record no longer exists.
	ErrNotFound = errors.New("token record not found")
)

// Record is a persisted token.
type Record struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Pool      string    `json:"pool"`
	Quota     int       `json:"quota"`
	Status    string    `json:"status"`
	UseCount  int       `json:"use_count"`
	CreatedAt time.Time `json:"created_at"`
	UsedAt    time.Time `json:"used_at,omitzero"`
	CoolUntil time.Time `json:"cool_until,omitzero"`
	Note      string    `json:"note,omitempty"`
}

// LastActive is the last use time, or the creation time of a token that
// was never used.
func (r Record) LastActive() time.Time {
	if r.UsedAt.IsZero() {
		return r.CreatedAt
	}
	return r.UsedAt
}

// Find resolves a record by ID prefix or exact note.
func Find(records []Record, in string) (*Record, error) {
	matches := make([]Record, 0, 1)
	for _, rec := range records {
		if rec.Note != "" && rec.Note == in {
			matches = append(matches, rec)
			continue
		}
		if len(in) >= SHA1MinLen && strings.HasPrefix(rec.ID, in) {
			matches = append(matches, rec)
		}
	}

	if len(matches) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrManyMatches, in)
	}
	if len(matches) == 1 {
		return &matches[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMatches, in)
}

// Completions returns shell completion candidates for IDs and notes.
func Completions(records []Record, in string) []string {
	resultSet := make(map[string]struct{})
	for _, rec := range records {
		displayID := rec.ID
		if len(displayID) > SHA1Short {
			displayID = displayID[:SHA1Short]
		}
		if strings.HasPrefix(rec.ID, in) {
			id := rec.ID
			if len(in) < SHA1Short {
				id = displayID
			}
			resultSet[fmt.Sprintf("%s\t%s", id, describe(rec))] = struct{}{}
		}
		if rec.Note != "" && strings.HasPrefix(rec.Note, in) {
			resultSet[fmt.Sprintf("%s\t%s", rec.Note, displayID)] = struct{}{}
		}
	}

	result := make([]string, 0, len(resultSet))
	for value := range resultSet {
		result = append(result, value)
	}
	sort.Strings(result)
	return result
}

func describe(rec Record) string {
	if rec.Note != "" {
		return rec.Note
	}
	return rec.Pool + " " + Mask(rec.Token)
}

// SortByCreated orders records oldest first, by ID on ties.
func SortByCreated(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
