// Package intent maps free-text prompts onto a capability and its task
// parameters with an ordered, inspectable keyword rule table.
package intent

import (
	"fmt"
	"strings"
	"time"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/infra/metrics"
)

// explicitBonus is added when the prompt names a capability outright.
const explicitBonus = 10

// Suggestions are returned with every NoMatch.
var Suggestions = []string{
	"Try asking about building energy analysis",
	"Request energy saving recommendations",
	"Ask for peak load forecasting",
}

// Decision is the outcome of routing one prompt.
type Decision struct {
	Capability  domain.Capability `json:"capability"`
	Parameters  map[string]any    `json:"parameters"`
	Score       int               `json:"score"`
	Matched     []string          `json:"matched_terms"`
	Explanation []string          `json:"explanation"`
}

// Score is one rule's evaluation, exposed for inspection.
type Score struct {
	Capability domain.Capability `json:"capability"`
	Score      int               `json:"score"`
	Matched    []string          `json:"matched_terms"`
	Explicit   bool              `json:"explicit"`
}

// Router evaluates prompts against a fixed rule table.
type Router struct {
	rules []Rule
	now   func() time.Time
}

// NewRouter builds a router over rules; their order breaks score ties.
// Duplicate triggers within a rule are collapsed.
func NewRouter(rules []Rule, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		seen := make(map[string]bool)
		var triggers []string
		for _, t := range r.Triggers {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			triggers = append(triggers, t)
		}
		r.Triggers = triggers
		out[i] = r
	}
	return &Router{rules: out, now: now}
}

// Scores evaluates every rule against prompt in table order.
func (r *Router) Scores(prompt string) []Score {
	lower := strings.ToLower(prompt)
	scores := make([]Score, len(r.rules))
	for i, rule := range r.rules {
		s := Score{Capability: rule.Capability}
		for _, t := range rule.Triggers {
			if strings.Contains(lower, t) {
				s.Matched = append(s.Matched, t)
				s.Score++
			}
		}
		name := string(rule.Capability)
		if strings.Contains(lower, name) || strings.Contains(lower, strings.ReplaceAll(name, "_", " ")) {
			s.Explicit = true
			s.Score += explicitBonus
		}
		scores[i] = s
	}
	return scores
}

// Route resolves prompt to a capability and parameters. The strictly highest
// score wins, earlier rules win ties, and a zero score is a NoMatchError.
func (r *Router) Route(prompt string) (Decision, error) {
	if strings.TrimSpace(prompt) == "" {
		return Decision{}, r.noMatch("prompt is empty")
	}

	scores := r.Scores(prompt)
	best := -1
	for i, s := range scores {
		if s.Score > 0 && (best < 0 || s.Score > scores[best].Score) {
			best = i
		}
	}
	if best < 0 {
		return Decision{}, r.noMatch("no capability trigger terms found in prompt")
	}

	rule, win := r.rules[best], scores[best]
	params := map[string]any{}
	if rule.Extract != nil {
		p, err := rule.Extract(Prompt{Raw: prompt, Lower: strings.ToLower(prompt), Now: r.now()})
		if err != nil {
			return Decision{}, r.noMatch(fmt.Sprintf("matched %s but %v", rule.Capability, err))
		}
		if p != nil {
			params = p
		}
	}

	d := Decision{
		Capability: rule.Capability,
		Parameters: params,
		Score:      win.Score,
		Matched:    win.Matched,
	}
	if win.Explicit {
		d.Explanation = append(d.Explanation, fmt.Sprintf("capability %s named explicitly", rule.Capability))
	}
	if len(win.Matched) > 0 {
		d.Explanation = append(d.Explanation,
			fmt.Sprintf("routed to %s: matched %s", rule.Capability, strings.Join(win.Matched, ", ")))
	}
	metrics.RouteDecisions.WithLabelValues(string(rule.Capability)).Inc()
	return d, nil
}

func (r *Router) noMatch(explanation string) error {
	metrics.RouteDecisions.WithLabelValues("no_match").Inc()
	return &domain.NoMatchError{
		Explanation: explanation,
		Suggestions: append([]string(nil), Suggestions...),
	}
}
