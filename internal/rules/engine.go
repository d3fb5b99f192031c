// Package rules implements the Rule Engine (C4): evaluating allow-sets,
// conditions, lag policy, and minImageAge against a candidate set, and
// selecting the admissible subset a plan may be built from.
package rules

import (
	"time"

	"github.com/chis/docksmith/internal/config"
	"github.com/chis/docksmith/internal/version"
)

// Candidate is a remote tag enriched with digest and push time (spec §3 C3
// output), plus the version parsed from it and the classification against
// the container's current version.
type Candidate struct {
	Version   *version.Version
	Digest    string
	PushedAt  time.Time
	DiffKind  version.DiffKind
}

// Engine evaluates a config.Rule against a candidate set for one container.
type Engine struct {
	now func() time.Time
}

// New creates a rule engine. now is injectable for deterministic tests.
func New(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Admissible filters candidates to those permitted by rule for the given
// current version, applying spec §4.4 steps 1-5 in order.
func (e *Engine) Admissible(current *version.Version, candidates []Candidate, rule config.Rule) []Candidate {
	allow := toSet(rule.Allow)

	maxMajor := 0
	for _, c := range candidates {
		if c.Version != nil && c.Version.Components[0] > maxMajor {
			maxMajor = c.Version.Components[0]
		}
	}

	available := make(map[version.DiffKind]bool, len(candidates))
	for _, c := range candidates {
		available[c.DiffKind] = true
	}

	var admissible []Candidate
	for _, c := range candidates {
		if !e.stepForward(current, c) {
			continue
		}
		if e.now().Sub(c.PushedAt) < rule.MinImageAge {
			continue
		}
		if !allow[string(c.DiffKind)] {
			continue
		}
		if cond, ok := rule.Conditions[string(c.DiffKind)]; ok {
			if !anyPresent(cond.Require, available) {
				continue
			}
		}
		if !e.withinLag(c, candidates, rule, maxMajor) {
			continue
		}
		admissible = append(admissible, c)
	}
	return admissible
}

// stepForward requires c > current in the shared scheme, or c == current
// with a differing digest (digest-only step), per spec §4.4 step 1.
func (e *Engine) stepForward(current *version.Version, c Candidate) bool {
	if c.DiffKind == version.DiffDigest {
		return true
	}
	cmp := version.NewComparator()
	return cmp.Compare(current, c.Version) == version.OrderLess
}

// withinLag enforces spec §4.4 step 5: lagPolicy[major]=N forbids targets
// whose major exceeds maxMajor(candidates)-N, i.e. requires
// c.major <= maxMajor-N. lagPolicy[minor]=N is analogous, restricted to
// candidates sharing c's major.
func (e *Engine) withinLag(c Candidate, all []Candidate, rule config.Rule, maxMajor int) bool {
	if c.Version == nil {
		return true
	}
	if n, ok := rule.LagPolicy["major"]; ok {
		if c.Version.Components[0] > maxMajor-n {
			return false
		}
	}
	if n, ok := rule.LagPolicy["minor"]; ok {
		maxMinor := 0
		for _, other := range all {
			if other.Version != nil && other.Version.Components[0] == c.Version.Components[0] && other.Version.Components[1] > maxMinor {
				maxMinor = other.Version.Components[1]
			}
		}
		if c.Version.Components[1] > maxMinor-n {
			return false
		}
	}
	return true
}

func anyPresent(require []string, available map[version.DiffKind]bool) bool {
	for _, r := range require {
		if available[version.DiffKind(r)] {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}
