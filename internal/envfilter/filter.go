// Package envfilter implements the Env-Filter (C5): deciding which
// environment variables of the old container are carried over to the
// replacement container.
package envfilter

import (
	"path/filepath"
	"strings"

	"github.com/chis/docksmith/internal/config"
)

// entry splits a "KEY=VALUE" env string into its parts.
type entry struct {
	key   string
	value string
	raw   string
}

func split(env []string) map[string]entry {
	m := make(map[string]entry, len(env))
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx == -1 {
			m[e] = entry{key: e, raw: e}
			continue
		}
		m[e[:idx]] = entry{key: e[:idx], value: e[idx+1:], raw: e}
	}
	return m
}

// Resolve computes the replacement container's environment per spec §4.5:
//   - vars present in oldEnv but not in imageEnv are preserved verbatim;
//   - vars present in both, unchanged by the image, are preserved from old
//     (user-set values win over image defaults);
//   - vars matched by an exclude pattern are dropped;
//   - vars matched by a preserve pattern are kept unconditionally;
//   - container-specific rules (keyed by case-insensitive substring of the
//     container name) override the global sets;
//   - on conflict between exclude and preserve for the same name, preserve
//     wins.
func Resolve(containerName string, oldEnv, imageEnv []string, cfg config.EnvFiltering) []string {
	if !cfg.Enabled {
		return oldEnv
	}

	old := split(oldEnv)
	img := split(imageEnv)

	exclude, preserve := scopedPatterns(containerName, cfg)

	result := make(map[string]string, len(old)+len(img))
	order := make([]string, 0, len(old)+len(img))

	addOrdered := func(key, raw string) {
		if _, exists := result[key]; !exists {
			order = append(order, key)
		}
		result[key] = raw
	}

	for key, e := range old {
		if _, inImage := img[key]; !inImage {
			// Present in old only: preserved verbatim, unless excluded
			// (preserve still wins over exclude per the tie-break rule).
			if matchesAny(key, preserve) || !matchesAny(key, exclude) {
				addOrdered(key, e.raw)
			}
			continue
		}
		// Present in both: user-set value from old wins over the image
		// default, unless excluded (and preserve still overrides exclude).
		if matchesAny(key, preserve) || !matchesAny(key, exclude) {
			addOrdered(key, e.raw)
		}
	}

	// Anything only the image provides (new env vars the image introduced)
	// is carried over as-is; it was never a "preserved" decision.
	for key, e := range img {
		if _, inOld := old[key]; !inOld {
			addOrdered(key, e.raw)
		}
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, result[k])
	}
	return out
}

func scopedPatterns(containerName string, cfg config.EnvFiltering) (exclude, preserve []string) {
	exclude = cfg.ExcludePatterns
	preserve = cfg.PreservePatterns

	lowerName := strings.ToLower(containerName)
	for namePart, rule := range cfg.ContainerSpecificRules {
		if strings.Contains(lowerName, strings.ToLower(namePart)) {
			exclude = rule.Exclude
			preserve = rule.Preserve
			break
		}
	}
	return exclude, preserve
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
