// Package report implements the Report Builder (C12): aggregating
// per-container outcomes, per-step timings, and hook output into the
// structured value a notification sink consumes.
package report

import (
	"sync"
	"time"

	"github.com/chis/docksmith/internal/executor"
	"github.com/chis/docksmith/internal/output"
	"github.com/chis/docksmith/internal/scripts"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// StepReport is one executed plan step, trimmed for the report.
type StepReport struct {
	DiffKind    string        `json:"diffKind"`
	FinalState  string        `json:"finalState"`
	Reason      string        `json:"reason,omitempty"`
	Warning     string        `json:"warning,omitempty"`
	Duration    time.Duration `json:"durationNs"`
	BytesPulled string        `json:"bytesPulled,omitempty"`
	PreHook     HookReport    `json:"preHook"`
	PostHook    HookReport    `json:"postHook"`
}

// HookReport trims a scripts.HookOutcome for the report.
type HookReport struct {
	Ran      bool   `json:"ran"`
	ExitCode int    `json:"exitCode,omitempty"`
	Output   string `json:"output,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// ContainerReport is one container's outcome for the run.
type ContainerReport struct {
	ContainerName string       `json:"containerName"`
	Skipped       bool         `json:"skipped"`
	SkipReason    string       `json:"skipReason,omitempty"`
	Steps         []StepReport `json:"steps,omitempty"`
}

// PruneReport records one backup container removed by the prune policy.
type PruneReport struct {
	BaseName  string `json:"baseName"`
	Removed   string `json:"removed"`
}

// Report is the run's final structured outcome.
type Report struct {
	RunID      string            `json:"runId"`
	StartedAt  time.Time         `json:"startedAt"`
	EndedAt    time.Time         `json:"endedAt"`
	Containers []ContainerReport `json:"containers"`
	Pruned     []PruneReport     `json:"pruned"`
}

// Builder accumulates a Report across a coordinator run. Safe for
// concurrent use during the registry-discovery fan-out.
type Builder struct {
	mu      sync.Mutex
	startAt time.Time
	byName  map[string]*ContainerReport
	order   []string
	pruned  []PruneReport
}

// New starts a fresh report builder; Build stamps the run ID.
func New() *Builder {
	return &Builder{startAt: time.Now(), byName: make(map[string]*ContainerReport)}
}

func (b *Builder) entry(containerName string) *ContainerReport {
	if cr, ok := b.byName[containerName]; ok {
		return cr
	}
	cr := &ContainerReport{ContainerName: containerName}
	b.byName[containerName] = cr
	b.order = append(b.order, containerName)
	return cr
}

// Skip records a container that produced no plan.
func (b *Builder) Skip(containerName, reason, note string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cr := b.entry(containerName)
	cr.Skipped = true
	cr.SkipReason = reason
	if note != "" {
		cr.SkipReason = reason + ": " + note
	}
}

// RecordStep appends one executed step's outcome.
func (b *Builder) RecordStep(containerName string, out executor.StepOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cr := b.entry(containerName)

	sr := StepReport{
		DiffKind:   string(out.Step.DiffKind),
		FinalState: string(out.FinalState),
		Reason:     out.Reason,
		Warning:    out.Warning,
		Duration:   out.EndedAt.Sub(out.StartedAt),
		PreHook:    hookReportFrom(out.PreHook),
		PostHook:   hookReportFrom(out.PostHook),
	}
	if out.Pull != nil {
		sr.BytesPulled = units.BytesSize(float64(out.Pull.BytesReceived))
	}
	cr.Steps = append(cr.Steps, sr)
}

func hookReportFrom(h scripts.HookOutcome) HookReport {
	return HookReport{Ran: h.Ran, ExitCode: h.ExitCode, Output: h.Output, TimedOut: h.TimedOut}
}

// RecordPrune notes one backup container the prune policy removed.
func (b *Builder) RecordPrune(baseName, removed string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruned = append(b.pruned, PruneReport{BaseName: baseName, Removed: removed})
}

// Build finalizes the report.
func (b *Builder) Build() *Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := &Report{
		RunID:     uuid.NewString(),
		StartedAt: b.startAt,
		EndedAt:   time.Now(),
		Pruned:    b.pruned,
	}
	for _, name := range b.order {
		r.Containers = append(r.Containers, *b.byName[name])
	}
	return r
}

// AsResponse wraps the report in the standard output envelope (spec §4.12
// "the report is what the notification sink consumes").
func AsResponse(r *Report) output.Response {
	return output.SuccessResponse(r)
}
