package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/chis/docksmith/internal/core"
)

// Validate rejects out-of-range page sizes/limits, negative durations, and
// malformed glob patterns before the coordinator starts (grounded on the
// teacher's internal/config/validator.go validate-before-run idiom).
func Validate(s *Schema) error {
	if err := validateRegistryProfile("docker", s.Docker); err != nil {
		return err
	}
	if err := validateRegistryProfile("ghcr", s.GHCR); err != nil {
		return err
	}
	if s.Prune.MinBackupsToKeep < 0 {
		return core.New(core.KindConfigInvalid, "prune.minBackupsToKeep must be >= 0")
	}
	for field, d := range map[string]time.Duration{
		"update.delayBetweenUpdates": s.Update.DelayBetweenUpdates, "prune.minBackupAge": s.Prune.MinBackupAge,
		"updateVerification.maxWait": s.UpdateVerification.MaxWait, "updateVerification.stableTime": s.UpdateVerification.StableTime,
		"updateVerification.checkInterval": s.UpdateVerification.CheckInterval, "updateVerification.gracePeriod": s.UpdateVerification.GracePeriod,
		"preScripts.timeout": s.PreScripts.Timeout, "postScripts.timeout": s.PostScripts.Timeout,
	} {
		if d < 0 {
			return core.New(core.KindConfigInvalid, fmt.Sprintf("%s must be >= 0", field))
		}
	}
	if s.UpdateVerification.MaxWait < s.UpdateVerification.StableTime {
		return core.New(core.KindConfigInvalid, "updateVerification.maxWait must be >= stableTime")
	}
	for _, pat := range append(append([]string{}, s.EnvFiltering.ExcludePatterns...), s.EnvFiltering.PreservePatterns...) {
		if _, err := filepath.Match(pat, "x"); err != nil {
			return core.Wrap(core.KindConfigInvalid, fmt.Sprintf("invalid glob pattern %q", pat), err)
		}
	}
	for name, rule := range s.Rules {
		if err := validateRule(name, rule); err != nil {
			return err
		}
	}
	return nil
}

func validateRegistryProfile(name string, p RegistryProfile) error {
	if p.PageCrawlLimit < 1 || p.PageCrawlLimit > 1000 {
		return core.New(core.KindConfigInvalid, fmt.Sprintf("%s.pageCrawlLimit must be in [1,1000]", name))
	}
	if p.PageSize < 1 || p.PageSize > 100 {
		return core.New(core.KindConfigInvalid, fmt.Sprintf("%s.pageSize must be in [1,100]", name))
	}
	return nil
}

var validDiffKinds = map[string]bool{
	"none": true, "digest": true, "build": true, "patch": true,
	"minor": true, "major": true, "scheme-change": true,
}

func validateRule(name string, r Rule) error {
	if r.MinImageAge < 0 {
		return core.New(core.KindRuleInvalid, fmt.Sprintf("rule %q: minImageAge must be >= 0", name))
	}
	for _, k := range r.Allow {
		if !validDiffKinds[k] {
			return core.New(core.KindRuleInvalid, fmt.Sprintf("rule %q: unknown allow kind %q", name, k))
		}
	}
	for k, cond := range r.Conditions {
		if !validDiffKinds[k] {
			return core.New(core.KindRuleInvalid, fmt.Sprintf("rule %q: unknown condition kind %q", name, k))
		}
		for _, req := range cond.Require {
			if !validDiffKinds[req] {
				return core.New(core.KindRuleInvalid, fmt.Sprintf("rule %q: unknown condition.require kind %q", name, req))
			}
		}
	}
	for k, n := range r.LagPolicy {
		if k != "major" && k != "minor" {
			return core.New(core.KindRuleInvalid, fmt.Sprintf("rule %q: lagPolicy key must be major or minor, got %q", name, k))
		}
		if n < 0 {
			return core.New(core.KindRuleInvalid, fmt.Sprintf("rule %q: lagPolicy[%s] must be >= 0", name, k))
		}
	}
	return nil
}
