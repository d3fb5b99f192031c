// Package plan implements the Update Planner (C9): a pure function from a
// container's current version, its rule, and its candidate set to an
// UpdatePlan or a Skipped outcome.
package plan

import (
	"sort"

	"github.com/chis/docksmith/internal/config"
	"github.com/chis/docksmith/internal/rules"
	"github.com/chis/docksmith/internal/version"
)

// SkipReason enumerates why a container produced no plan (spec §4.9).
type SkipReason string

const (
	SkipTagNotParseable SkipReason = "TagNotParseable"
	SkipNoCandidates    SkipReason = "NoCandidates"
	SkipRuleForbidsAll  SkipReason = "RuleForbidsAll"
	SkipImageTooYoung   SkipReason = "ImageTooYoung"
)

// Step is one element of an UpdatePlan: a single admissible target and its
// DiffKind relative to the container's current version (for every step,
// including later steps of a progressive chain).
type Step struct {
	Target   rules.Candidate
	DiffKind version.DiffKind
}

// UpdatePlan is the ordered, non-empty sequence of steps the executor walks
// through, verifying after each.
type UpdatePlan struct {
	Steps []Step
}

// Result is the planner's output: exactly one of Plan or Skip is populated.
type Result struct {
	Plan *UpdatePlan
	Skip SkipReason
}

// Build implements selectPlan (spec §4.9): it assumes candidates have
// already been pattern-prefiltered and version-parsed (C2/C1), and that
// current is non-nil (a nil current version is itself a TagNotParseable
// skip, decided by the caller before candidates are even gathered).
func Build(current *version.Version, rule config.Rule, candidates []rules.Candidate) Result {
	if current == nil {
		return Result{Skip: SkipTagNotParseable}
	}
	if len(candidates) == 0 {
		return Result{Skip: SkipNoCandidates}
	}

	engine := rules.New(nil)
	admissible := engine.Admissible(current, candidates, rule)
	if len(admissible) == 0 {
		if allTooYoung(current, candidates, rule) {
			return Result{Skip: SkipImageTooYoung}
		}
		return Result{Skip: SkipRuleForbidsAll}
	}

	deduped := dedupeByVersion(admissible)

	if !rule.ProgressiveUpgrade {
		highest := highestOf(deduped)
		return Result{Plan: &UpdatePlan{Steps: []Step{{Target: highest, DiffKind: highest.DiffKind}}}}
	}

	chain := buildChain(deduped)
	return Result{Plan: &UpdatePlan{Steps: chain}}
}

// allTooYoung reports whether every candidate failed solely on minImageAge
// (used to distinguish ImageTooYoung from the more general RuleForbidsAll).
func allTooYoung(current *version.Version, candidates []rules.Candidate, rule config.Rule) bool {
	if rule.MinImageAge == 0 {
		return false
	}
	relaxed := rule
	relaxed.MinImageAge = 0
	engine := rules.New(nil)
	withoutAgeFilter := engine.Admissible(current, candidates, relaxed)
	return len(withoutAgeFilter) > 0
}

// dedupeByVersion applies the tie-break rule (spec §4.4): when two
// admissible candidates share the same Version, the one with the newer
// pushedAt wins.
func dedupeByVersion(candidates []rules.Candidate) []rules.Candidate {
	cmp := version.NewComparator()
	best := make(map[int]rules.Candidate)
	order := make([]*version.Version, 0, len(candidates))

	find := func(v *version.Version) int {
		for i, existing := range order {
			if cmp.Compare(existing, v) == version.OrderEqual {
				return i
			}
		}
		return -1
	}

	for _, c := range candidates {
		if c.Version == nil {
			continue
		}
		idx := find(c.Version)
		if idx == -1 {
			order = append(order, c.Version)
			best[len(order)-1] = c
			continue
		}
		if c.PushedAt.After(best[idx].PushedAt) {
			best[idx] = c
		}
	}

	out := make([]rules.Candidate, 0, len(best))
	for i := range order {
		out = append(out, best[i])
	}
	return out
}

func highestOf(candidates []rules.Candidate) rules.Candidate {
	cmp := version.NewComparator()
	highest := candidates[0]
	for _, c := range candidates[1:] {
		if cmp.Compare(c.Version, highest.Version) == version.OrderGreater {
			highest = c
		}
	}
	return highest
}

// buildChain constructs the monotone chain from the admissible set: every
// admissible candidate in increasing order, ending at the highest (spec
// §4.9 — "no admissible candidate sits strictly between c_i and c_i+1").
func buildChain(candidates []rules.Candidate) []Step {
	cmp := version.NewComparator()
	sorted := append([]rules.Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		return cmp.Compare(sorted[i].Version, sorted[j].Version) == version.OrderLess
	})

	steps := make([]Step, 0, len(sorted))
	for _, c := range sorted {
		steps = append(steps, Step{Target: c, DiffKind: c.DiffKind})
	}
	return steps
}
