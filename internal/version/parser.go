package version

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// semanticPattern matches 1-4 dot/dash separated numeric components,
	// optionally prefixed with v/V, followed by an optional build suffix.
	semanticPattern = regexp.MustCompile(`^[vV]?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:-(\d+))?`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(\d{4})\.(\d{1,2})\.(\d{1,2})`),
		regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`),
		regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`),
	}

	numericPattern = regexp.MustCompile(`^[vV]?(\d+)$`)
)

// Parser parses Docker image tags into Version values per spec §3/§4.1.
type Parser struct{}

// NewParser creates a tag parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseTag parses a bare tag (no image name) and returns nil if the tag
// does not match any recognized scheme.
func (p *Parser) ParseTag(tag string) *Version {
	if tag == "" {
		return nil
	}

	if v := p.parseDate(tag); v != nil {
		return v
	}
	if v := p.parseNumeric(tag); v != nil {
		return v
	}
	if v := p.parseSemantic(tag); v != nil {
		return v
	}
	return nil
}

// ParseImageTag parses the tag portion of a full "repo:tag" reference.
func (p *Parser) ParseImageTag(imageTag string) *Version {
	idx := strings.LastIndex(imageTag, ":")
	if idx == -1 {
		return nil
	}
	tag := imageTag[idx+1:]
	if strings.Contains(tag, "/") {
		return nil
	}
	return p.ParseTag(tag)
}

// parseDate tries the three-numeric-component date shape with plausibility
// bounds: year >= 1970, month 1-12, day 1-31. Tried before semantic because
// "2024.01.15" would otherwise parse as a 3-component semantic version.
func (p *Parser) parseDate(tag string) *Version {
	body := strings.TrimPrefix(strings.TrimPrefix(tag, "v"), "V")
	for _, re := range datePatterns {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if year < 1970 || month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		// The whole tag must be consumed by the date (plus optional suffix
		// separator), otherwise this is more likely a semantic version.
		rest := body[len(m[0]):]
		if rest != "" && rest[0] != '-' && rest[0] != '.' {
			continue
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		suffix := strings.TrimPrefix(strings.TrimPrefix(rest, "-"), ".")
		v := &Version{
			Scheme:      SchemeDate,
			Components:  [4]int{year, month, day, 0},
			Original:    tag,
			Date:        &t,
			BuildSuffix: suffix,
			HasMinor:    true,
			HasPatch:    true,
		}
		v.BuildNumeric = isIntegerSuffix(suffix)
		return v
	}
	return nil
}

func (p *Parser) parseSemantic(tag string) *Version {
	prefix := ""
	body := tag
	if strings.HasPrefix(tag, "v") || strings.HasPrefix(tag, "V") {
		prefix = tag[:1]
		body = tag[1:]
	}

	m := semanticPattern.FindStringSubmatch(tag)
	if m == nil {
		return nil
	}
	// Require at least a major component and a separator-bound match that
	// doesn't swallow an unrelated leading integer out of a non-numeric tag.
	major, _ := strconv.Atoi(m[1])
	v := &Version{
		Scheme:     SchemeSemantic,
		Prefix:     prefix,
		Components: [4]int{major, 0, 0, 0},
		Original:   tag,
	}
	if m[2] != "" {
		v.Components[1], _ = strconv.Atoi(m[2])
		v.HasMinor = true
	}
	if m[3] != "" {
		v.Components[2], _ = strconv.Atoi(m[3])
		v.HasPatch = true
	}
	if m[4] != "" {
		v.Components[3], _ = strconv.Atoi(m[4])
		v.HasBuild = true
	}

	remainder := strings.TrimPrefix(tag, m[0])
	remainder = strings.TrimPrefix(remainder, "-")
	remainder = strings.TrimPrefix(remainder, "+")
	v.BuildSuffix = remainder
	v.BuildNumeric = isIntegerSuffix(remainder)
	_ = body
	return v
}

func (p *Parser) parseNumeric(tag string) *Version {
	m := numericPattern.FindStringSubmatch(tag)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &Version{
		Scheme:     SchemeNumeric,
		Components: [4]int{n, 0, 0, 0},
		Original:   tag,
	}
}

// isIntegerSuffix reports whether a build suffix is purely numeric, in
// which case it participates in ordering as a numeric build component
// rather than as an opaque string (spec §4.1).
func isIntegerSuffix(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}
