package version

import "regexp"

var digitRun = regexp.MustCompile(`\d+`)

// TagPattern is the tag-shape filter induced from a reference tag (spec
// §4.2 / C2): every digit run is replaced with \d+ while everything else
// stays literal, so "nginx:1.25-alpine" matches "1.26-alpine" but not
// "1.26-slim".
type TagPattern struct {
	Source string
	re     *regexp.Regexp
}

// InducePattern builds a TagPattern from the currently-running tag.
func InducePattern(referenceTag string) *TagPattern {
	var body []byte
	last := 0
	locs := digitRun.FindAllStringIndex(referenceTag, -1)
	for _, loc := range locs {
		body = append(body, []byte(regexp.QuoteMeta(referenceTag[last:loc[0]]))...)
		body = append(body, []byte(`\d+`)...)
		last = loc[1]
	}
	body = append(body, []byte(regexp.QuoteMeta(referenceTag[last:]))...)

	return &TagPattern{
		Source: referenceTag,
		re:     regexp.MustCompile("^" + string(body) + "$"),
	}
}

// Match reports whether a remote tag has the same literal shape as the
// pattern's reference tag.
func (p *TagPattern) Match(tag string) bool {
	if p == nil || p.re == nil {
		return false
	}
	return p.re.MatchString(tag)
}
