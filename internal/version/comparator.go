package version

import "strconv"

// Comparator orders versions and classifies the step between two of them,
// per spec §3/§4.1.
type Comparator struct{}

// NewComparator creates a version comparator.
func NewComparator() *Comparator {
	return &Comparator{}
}

// Compare orders a and b. Returns OrderIncomparable when their schemes
// differ; comparison is otherwise a strict total order on
// (components, build).
func (c *Comparator) Compare(a, b *Version) Ordering {
	if a == nil || b == nil {
		return OrderIncomparable
	}
	if a.Scheme != b.Scheme {
		return OrderIncomparable
	}

	for i := 0; i < 3; i++ {
		if a.Components[i] != b.Components[i] {
			if a.Components[i] < b.Components[i] {
				return OrderLess
			}
			return OrderGreater
		}
	}

	return c.compareBuild(a, b)
}

// compareBuild orders the build/fourth component. A tag missing a build
// component is ordered as lower than one with an explicit "0" build, but
// the difference between them is still only ever classified as "build"
// (spec §4.1 "missing vs. present... never higher").
func (c *Comparator) compareBuild(a, b *Version) Ordering {
	if a.HasBuild != b.HasBuild {
		if !a.HasBuild {
			return OrderLess
		}
		return OrderGreater
	}
	if a.Components[3] != b.Components[3] {
		if a.Components[3] < b.Components[3] {
			return OrderLess
		}
		return OrderGreater
	}
	if a.BuildNumeric && b.BuildNumeric {
		an, _ := strconv.Atoi(a.BuildSuffix)
		bn, _ := strconv.Atoi(b.BuildSuffix)
		if an != bn {
			if an < bn {
				return OrderLess
			}
			return OrderGreater
		}
		return OrderEqual
	}

	if a.BuildSuffix == b.BuildSuffix {
		return OrderEqual
	}
	// Opaque suffixes: presence beats absence; otherwise lexicographic,
	// which is sufficient to produce a strict total order without implying
	// any semantic meaning for non-numeric build metadata.
	if a.BuildSuffix == "" {
		return OrderLess
	}
	if b.BuildSuffix == "" {
		return OrderGreater
	}
	if a.BuildSuffix < b.BuildSuffix {
		return OrderLess
	}
	return OrderGreater
}

// IsNewer reports whether b is strictly greater than a within the same scheme.
func (c *Comparator) IsNewer(a, b *Version) bool {
	return c.Compare(a, b) == OrderGreater
}

// Classify applies the spec §3 DiffKind definition to the step from old to
// new, given their image digests. oldDigest/newDigest may be empty when
// unknown.
func (c *Comparator) Classify(old, new *Version, oldDigest, newDigest string) DiffKind {
	ord := c.Compare(old, new)
	if ord == OrderIncomparable {
		return DiffSchemeChange
	}

	if ord == OrderEqual {
		if oldDigest != "" && newDigest != "" && oldDigest != newDigest {
			return DiffDigest
		}
		return DiffNone
	}

	// ord == OrderGreater by construction of callers (new > old); a
	// OrderLess step is not a forward update and has no DiffKind of its own.
	if old.Components[0] != new.Components[0] {
		return DiffMajor
	}
	if old.Components[1] != new.Components[1] {
		return DiffMinor
	}
	if old.Components[2] != new.Components[2] {
		return DiffPatch
	}
	return DiffBuild
}
