// Package coordinator implements the Run Coordinator (C11): the single
// per-invocation driver that enumerates containers, resolves rules, fans
// out registry discovery, plans and executes updates, and runs the prune
// policy.
package coordinator

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chis/docksmith/internal/config"
	"github.com/chis/docksmith/internal/core"
	"github.com/chis/docksmith/internal/docker"
	"github.com/chis/docksmith/internal/executor"
	"github.com/chis/docksmith/internal/plan"
	"github.com/chis/docksmith/internal/report"
	"github.com/chis/docksmith/internal/rules"
	"github.com/chis/docksmith/internal/selfupdate"
	"github.com/chis/docksmith/internal/verify"
	"github.com/chis/docksmith/internal/version"
)

// RuleLabel is the per-container override of which named rule applies.
const RuleLabel = "docksmith.rule"

// DefaultRuleName is used when no label or assignmentsByName entry matches.
const DefaultRuleName = "default"

// RegistryClient is what the coordinator needs from C3 for one image
// reference: a pattern-prefiltered, parsed, classified candidate list.
type RegistryClient interface {
	Candidates(ctx context.Context, imageRef string, current *version.Version, prefilter *version.TagPattern) ([]rules.Candidate, error)
}

// Coordinator drives one run of the Updater against the local daemon.
type Coordinator struct {
	Docker    *docker.Service
	Registry  RegistryClient
	Executor  *executor.Executor
	Schema    *config.Schema
	Extractor *version.Extractor
	Parser    *version.Parser

	// SelfDetector identifies the Updater's own container so its update
	// step can be deferred to the end of the run (spec §4.10). Nil
	// disables self-update deferral.
	SelfDetector *selfupdate.Detector

	// Concurrency is the bounded worker pool size for registry discovery.
	Concurrency int
}

// Options configures one Run invocation.
type Options struct {
	DryRun       bool
	Force        bool // proceed even if the run lock is already held
	NameFilters  []string // glob OR-set; empty means "all containers"
	LockPath     string
}

func (c *Coordinator) poolSize() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return 6
}

// Run executes one coordinator pass end to end, returning the assembled
// report.
func (c *Coordinator) Run(ctx context.Context, opts Options) (*report.Report, error) {
	lock, err := Acquire(opts.LockPath, opts.Force)
	if err != nil {
		return nil, core.Wrap(core.KindLockHeld, "could not acquire run lock", err)
	}
	defer lock.Release()

	containers, err := c.Docker.ListContainers(ctx)
	if err != nil {
		return nil, core.Wrap(core.KindDaemonUnavailable, "list containers failed", err)
	}

	selected := filterByName(containers, opts.NameFilters)
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })

	rb := report.New()

	type resolved struct {
		container docker.Container
		imageInfo *version.ImageInfo
		rule      config.Rule
		ruleName  string
	}

	var eligible []resolved
	for _, cont := range selected {
		info := c.Extractor.ExtractFromImage(cont.Image)
		if info == nil || info.Version == nil {
			rb.Skip(cont.Name, string(plan.SkipTagNotParseable), "image reference or tag not parseable")
			continue
		}
		ruleName := c.resolveRuleName(cont)
		rule, ok := c.Schema.Rules[ruleName]
		if !ok {
			rule = c.Schema.Rules[DefaultRuleName]
			ruleName = DefaultRuleName
		}
		eligible = append(eligible, resolved{container: cont, imageInfo: info, rule: rule, ruleName: ruleName})
	}

	// Group by image repository (registry+repository, ignoring tag) to
	// dedupe registry work (spec §4.11 step 4).
	groups := make(map[string][]int)
	for i, r := range eligible {
		key := r.imageInfo.Registry + "/" + r.imageInfo.Repository
		groups[key] = append(groups[key], i)
	}

	candidatesByGroup := make(map[string][]rules.Candidate)
	var mu sync.Mutex
	sem := make(chan struct{}, c.poolSize())
	var wg sync.WaitGroup

	for key, idxs := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(key string, idxs []int) {
			defer wg.Done()
			defer func() { <-sem }()

			first := eligible[idxs[0]]
			pattern := version.InducePattern(first.imageInfo.Version.Original)
			fullRef := first.imageInfo.Registry + "/" + first.imageInfo.Repository
			cands, err := c.Registry.Candidates(ctx, fullRef, first.imageInfo.Version, pattern)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Per-image scope: does not abort the run.
				candidatesByGroup[key] = nil
				return
			}
			candidatesByGroup[key] = cands
		}(key, idxs)
	}
	wg.Wait()

	var toExecute []resolved
	var plans []plan.Result
	for i, r := range eligible {
		key := r.imageInfo.Registry + "/" + r.imageInfo.Repository
		cands := candidatesByGroup[key]
		if cands == nil {
			rb.Skip(r.container.Name, "RegistryUnreachable", "registry discovery failed for "+key)
			continue
		}
		res := plan.Build(r.imageInfo.Version, r.rule, cands)
		if res.Skip != "" {
			rb.Skip(r.container.Name, string(res.Skip), "")
			continue
		}
		toExecute = append(toExecute, r)
		plans = append(plans, res)
		_ = i
	}

	// Self-update deferral: run all non-self containers first, defer self.
	var selfIdx = -1
	if c.SelfDetector != nil {
		for i, r := range toExecute {
			if c.SelfDetector.IsSelfContainer(r.container.ID, r.container.Image) {
				selfIdx = i
			}
		}
	}

	order := make([]int, 0, len(toExecute))
	for i := range toExecute {
		if i != selfIdx {
			order = append(order, i)
		}
	}
	if selfIdx != -1 {
		order = append(order, selfIdx)
	}

	for _, i := range order {
		r := toExecute[i]
		p := plans[i]
		c.executePlan(ctx, r.container, r.imageInfo, p, r.rule.MinImageAge, opts.DryRun, rb)
		if c.Schema.Update.DelayBetweenUpdates > 0 {
			select {
			case <-ctx.Done():
				return rb.Build(), ctx.Err()
			case <-time.After(c.Schema.Update.DelayBetweenUpdates):
			}
		}
	}

	c.prune(ctx, rb)

	return rb.Build(), nil
}

func (c *Coordinator) executePlan(ctx context.Context, cont docker.Container, info *version.ImageInfo, p plan.Result, minImageAge time.Duration, dryRun bool, rb *report.Builder) {
	stepCfg := executor.StepConfig{
		DryRun:                dryRun,
		LogLevel:              "info",
		ConfigDir:             "/config",
		ScriptsDir:            c.Schema.PreScripts.ScriptsDirectory,
		PreContinueOnFailure:  c.Schema.PreScripts.ContinueOnFailure,
		PostRollbackOnFailure: c.Schema.PostScripts.RollbackOnFailure,
		Repository:            info.Registry + "/" + info.Repository,
		MinImageAge:           minImageAge,
		StopTimeout:           30 * time.Second,
		EnvFiltering:          c.Schema.EnvFiltering,
		Verify: verify.Config{
			MaxWait:       c.Schema.UpdateVerification.MaxWait,
			StableTime:    c.Schema.UpdateVerification.StableTime,
			CheckInterval: c.Schema.UpdateVerification.CheckInterval,
			GracePeriod:   c.Schema.UpdateVerification.GracePeriod,
		},
	}

	for i, step := range p.Plan.Steps {
		if i > 0 && c.Schema.Update.DelayBetweenUpdates > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.Schema.Update.DelayBetweenUpdates):
			}
		}
		out := c.Executor.RunStep(ctx, cont.Name, step, stepCfg)
		rb.RecordStep(cont.Name, out)
		if out.FinalState != executor.FinalUpdated && out.FinalState != executor.FinalNoop {
			break
		}
	}
}

// prune implements spec §4.10's post-run prune policy.
func (c *Coordinator) prune(ctx context.Context, rb *report.Builder) {
	if !c.Schema.Prune.RemoveOldContainers {
		return
	}
	containers, err := c.Docker.ListContainers(ctx)
	if err != nil {
		return
	}

	byBase := make(map[string][]docker.Container)
	for _, cont := range containers {
		if base, _, ok := docker.IsBackupName(cont.Name); ok {
			byBase[base] = append(byBase[base], cont)
		}
	}

	for base, backups := range byBase {
		sort.Slice(backups, func(i, j int) bool {
			_, ti, _ := docker.IsBackupName(backups[i].Name)
			_, tj, _ := docker.IsBackupName(backups[j].Name)
			return ti.Before(tj)
		})

		retained := len(backups)
		for _, b := range backups {
			if b.State != "exited" {
				continue
			}
			_, ts, _ := docker.IsBackupName(b.Name)
			if time.Since(ts) < c.Schema.Prune.MinBackupAge {
				continue
			}
			if retained <= c.Schema.Prune.MinBackupsToKeep {
				break
			}
			if err := c.Docker.RemoveContainer(ctx, b.Name); err == nil {
				retained--
				rb.RecordPrune(base, b.Name)
			}
		}
	}
}

// resolveRuleName implements spec §4.11 step 3: label override >
// assignmentsByName > default.
func (c *Coordinator) resolveRuleName(cont docker.Container) string {
	if name, ok := cont.Labels[RuleLabel]; ok && name != "" {
		return name
	}
	if name, ok := c.Schema.AssignmentsByName[cont.Name]; ok && name != "" {
		return name
	}
	return DefaultRuleName
}

// filterByName applies the glob OR-set name filter (spec §4.11 step 2). No
// filters means every container is selected.
func filterByName(containers []docker.Container, globs []string) []docker.Container {
	if len(globs) == 0 {
		return containers
	}
	var out []docker.Container
	for _, c := range containers {
		for _, g := range globs {
			if ok, _ := filepath.Match(g, c.Name); ok {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
