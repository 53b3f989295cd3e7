// Package models maps the model names accepted by the search tool to the
// upstream model id and mode, and to the token pools that may serve them.
package models

import (
	"slices"
	"strings"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/tokens"
)

// Account tiers.
const (
	TierBasic = "basic"
	TierSuper = "super"
)

// Model is one registry entry.
type Model struct {
	ID            string
	UpstreamModel string
	Mode          string
	Tier          string
	Aliases       []string
}

var defaults = []Model{
	{ID: "grok-3", UpstreamModel: "grok-3", Mode: "MODEL_MODE_GROK_3", Tier: TierBasic},
	{ID: "grok-3-fast", UpstreamModel: "grok-3", Mode: "MODEL_MODE_FAST", Tier: TierBasic},
	{ID: "grok-4", UpstreamModel: "grok-4", Mode: "MODEL_MODE_GROK_4", Tier: TierBasic},
	{ID: "grok-4-mini", UpstreamModel: "grok-4-mini-thinking-tahoe", Mode: "MODEL_MODE_GROK_4_MINI_THINKING", Tier: TierBasic},
	{ID: "grok-4-fast", UpstreamModel: "grok-4-mini-thinking-tahoe", Mode: "MODEL_MODE_FAST", Tier: TierBasic},
	{ID: "grok-4-heavy", UpstreamModel: "grok-4", Mode: "MODEL_MODE_HEAVY", Tier: TierSuper, Aliases: []string{"heavy"}},
	{ID: "grok-4.1", UpstreamModel: "grok-4-1-thinking-1129", Mode: "MODEL_MODE_AUTO", Tier: TierBasic, Aliases: []string{"grok-latest"}},
	{ID: "grok-4.1-thinking", UpstreamModel: "grok-4-1-thinking-1129", Mode: "MODEL_MODE_GROK_4_1_THINKING", Tier: TierBasic},
}

// Registry resolves model names. It is read-only after New.
type Registry struct {
	byID    map[string]Model
	aliases map[string]string
}

// New returns the built-in registry with the given settings entries merged
// on top. Empty fields of an override keep the built-in value.
func New(overrides map[string]config.Model) *Registry {
	r := &Registry{
		byID:    make(map[string]Model, len(defaults)+len(overrides)),
		aliases: map[string]string{},
	}
	for _, m := range defaults {
		m.Aliases = slices.Clone(m.Aliases)
		r.byID[m.ID] = m
	}
	for id, o := range overrides {
		m := r.byID[id]
		m.ID = id
		if o.UpstreamModel != "" {
			m.UpstreamModel = o.UpstreamModel
		}
		if o.Mode != "" {
			m.Mode = o.Mode
		}
		if o.Tier != "" {
			m.Tier = o.Tier
		}
		if len(o.Aliases) > 0 {
			m.Aliases = slices.Clone(o.Aliases)
		}
		if m.UpstreamModel == "" {
			m.UpstreamModel = id
		}
		r.byID[id] = m
	}
	for id, m := range r.byID {
		if m.Tier != TierSuper {
			m.Tier = TierBasic
			r.byID[id] = m
		}
		for _, a := range m.Aliases {
			r.aliases[strings.ToLower(a)] = id
		}
	}
	return r
}

// Resolve looks a name up by id, then by alias.
func (r *Registry) Resolve(name string) (Model, bool) {
	if m, ok := r.byID[name]; ok {
		return m, true
	}
	if id, ok := r.aliases[strings.ToLower(name)]; ok {
		return r.byID[id], true
	}
	return Model{}, false
}

// PoolCandidates returns the token pools to try, in order, for name.
// Super-tier models need a super token; everything else, unknown names
// included, prefers a basic token and falls back to a super one.
func (r *Registry) PoolCandidates(name string) []string {
	if m, ok := r.Resolve(name); ok && m.Tier == TierSuper {
		return []string{tokens.PoolSuper}
	}
	return []string{tokens.PoolBasic, tokens.PoolSuper}
}

// List returns every model sorted by id.
func (r *Registry) List() []Model {
	out := make([]Model, 0, len(r.byID))
	for _, m := range r.byID {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Model) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
