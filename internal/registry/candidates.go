package registry

import (
	"context"
	"time"

	"github.com/chis/docksmith/internal/rules"
	"github.com/chis/docksmith/internal/version"
)

// Adapter satisfies coordinator.RegistryClient: it turns a Manager's raw
// tag listing into the parsed, pattern-filtered, classified candidate set
// the Rule Engine (C4) consumes.
type Adapter struct {
	Manager *Manager
	Parser  *version.Parser
}

// NewAdapter wires a Manager into the coordinator-facing candidate API.
func NewAdapter(m *Manager) *Adapter {
	return &Adapter{Manager: m, Parser: version.NewParser()}
}

// Candidates lists imageRef's tags, keeps only those matching prefilter's
// shape, parses each into a Version, and classifies it against current.
// Unparseable tags are dropped rather than erroring the whole image.
func (a *Adapter) Candidates(ctx context.Context, imageRef string, current *version.Version, prefilter *version.TagPattern) ([]rules.Candidate, error) {
	details, err := a.Manager.ListTagDetails(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	return candidatesFromDetails(details, current, prefilter, a.Parser, time.Now()), nil
}

// candidatesFromDetails is the pure transform behind Candidates, split out
// so it can be tested without a network-backed Manager.
func candidatesFromDetails(details []TagDetail, current *version.Version, prefilter *version.TagPattern, parser *version.Parser, now time.Time) []rules.Candidate {
	comparator := version.NewComparator()

	var out []rules.Candidate
	for _, d := range details {
		if prefilter != nil && !prefilter.Match(d.Name) {
			continue
		}
		v := parser.ParseTag(d.Name)
		if v == nil {
			continue
		}
		pushedAt := d.PushedAt
		if pushedAt.IsZero() {
			pushedAt = now
		}
		out = append(out, rules.Candidate{
			Version:  v,
			Digest:   d.Digest,
			PushedAt: pushedAt,
			DiffKind: comparator.Classify(current, v, "", d.Digest),
		})
	}

	return out
}
