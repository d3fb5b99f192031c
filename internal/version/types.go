package version

import "time"

// Scheme is the shape class of a parsed version.
type Scheme string

const (
	SchemeSemantic Scheme = "semantic"
	SchemeDate     Scheme = "date"
	SchemeNumeric  Scheme = "numeric"
)

// Version is a parsed tag: an optional immutable prefix, a numeric sequence
// interpreted according to Scheme, and an optional build suffix.
//
// Components holds up to four numeric fields. For SchemeSemantic these are
// major/minor/patch/build-number (any trailing fields default to 0).
// For SchemeDate they are year/month/day. For SchemeNumeric only
// Components[0] is meaningful.
type Version struct {
	Scheme Scheme

	Prefix     string // e.g. "v"
	Components [4]int

	// BuildSuffix is the literal text following the numeric sequence, e.g.
	// "alpine" in "1.25-alpine". Empty when the tag has no suffix.
	BuildSuffix string

	// BuildNumeric is true when BuildSuffix parses as a plain integer,
	// which permits ordering it as the fourth semantic component instead
	// of treating it as an opaque suffix.
	BuildNumeric bool

	// HasPatch/HasBuild record whether the corresponding component was
	// literally present in the tag, vs. defaulted to 0 for ordering.
	// A tag missing a trailing component differs from one carrying it
	// only at the "build" classification level, never higher (spec §4.1).
	HasMinor bool
	HasPatch bool
	HasBuild bool

	Original string
	Date     *time.Time // populated only for SchemeDate
}

// DiffKind classifies the step from one version to another.
type DiffKind string

const (
	DiffNone         DiffKind = "none"
	DiffDigest       DiffKind = "digest"
	DiffBuild        DiffKind = "build"
	DiffPatch        DiffKind = "patch"
	DiffMinor        DiffKind = "minor"
	DiffMajor        DiffKind = "major"
	DiffSchemeChange DiffKind = "scheme-change"
)

// Ordering is the result of comparing two versions of the same scheme.
type Ordering int

const (
	OrderLess Ordering = -1
	OrderEqual Ordering = 0
	OrderGreater Ordering = 1
	// OrderIncomparable ("⊥") is returned when the two versions' schemes differ.
	OrderIncomparable Ordering = 2
)
