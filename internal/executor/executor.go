// Package executor implements the Update Executor (C10): the per-step
// state machine that carries a container from its current image to a
// single plan step's target, with verification and rollback.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/chis/docksmith/internal/config"
	"github.com/chis/docksmith/internal/core"
	"github.com/chis/docksmith/internal/docker"
	"github.com/chis/docksmith/internal/envfilter"
	"github.com/chis/docksmith/internal/events"
	"github.com/chis/docksmith/internal/plan"
	"github.com/chis/docksmith/internal/scripts"
	"github.com/chis/docksmith/internal/verify"
)

// State is one node of the spec §4.10 state machine.
type State string

const (
	StateInit     State = "INIT"
	StatePre      State = "PRE"
	StatePull     State = "PULL"
	StateStopOld  State = "STOP_OLD"
	StateStartNew State = "START_NEW"
	StateVerify   State = "VERIFY"
	StatePost     State = "POST"
	StateCommit   State = "COMMIT"
	StateDone     State = "DONE"
	StateRollback State = "ROLLBACK"
	StateRestored State = "RESTORED"
	StateFailed   State = "FAILED"
)

// FinalState is the spec §3 UpdateOutcome.finalState enum.
type FinalState string

const (
	FinalUpdated    FinalState = "updated"
	FinalNoop       FinalState = "noop"
	FinalSkipped    FinalState = "skipped"
	FinalRolledBack FinalState = "rolled-back"
	FinalAborted    FinalState = "aborted"

	// FinalAbortedInconsistent is spec §7's rollback-failure outcome: the
	// backup could not be renamed/started back to the original name, so the
	// container is left stopped as _bak_cu_* with nothing running in its
	// place. Distinct from FinalAborted, which always leaves the original
	// container untouched.
	FinalAbortedInconsistent FinalState = "aborted-inconsistent"
)

// StepOutcome is what one executed plan.Step produced.
type StepOutcome struct {
	Step          plan.Step
	FinalState    FinalState
	Reason        string
	Warning       string
	PreHook       scripts.HookOutcome
	PostHook      scripts.HookOutcome
	Pull          *docker.PullProgress
	StateTrace    []State
	StartedAt     time.Time
	EndedAt       time.Time
}

// Dependencies bundles everything the executor drives. AuthForImage
// resolves a base64 registry-auth header for a given image reference (or
// "" if anonymous pulls are sufficient).
type Dependencies struct {
	Docker     *docker.Service
	Hooks      *scripts.HookRunner
	Bus        *events.Bus
	Now        func() time.Time
	AuthForImage func(imageRef string) string
}

// Executor runs one container's update plan, one step at a time.
type Executor struct {
	deps Dependencies
}

func New(deps Dependencies) *Executor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Executor{deps: deps}
}

// RunStep executes a single plan step against containerName, under the
// given script policies and verification/stop config, in dry-run or not.
func (e *Executor) RunStep(ctx context.Context, containerName string, step plan.Step, cfg StepConfig) StepOutcome {
	out := StepOutcome{Step: step, StartedAt: e.deps.Now()}
	trace := func(s State) { out.StateTrace = append(out.StateTrace, s) }
	emit := func(s State, msg string) {
		if e.deps.Bus != nil {
			e.deps.Bus.Publish(events.Event{Type: events.EventStepTransition, Payload: map[string]interface{}{
				"container": containerName, "state": string(s), "message": msg,
			}})
		}
	}

	trace(StateInit)
	emit(StateInit, "starting step")

	if cfg.DryRun {
		// Hooks still run, with CAPTN_DRY_RUN=true; their exit status changes nothing.
		hookEnv := scripts.HookEnv{ContainerName: containerName, DryRun: true, LogLevel: cfg.LogLevel, ConfigDir: cfg.ConfigDir, ScriptsDir: cfg.ScriptsDir}
		hookEnv.ScriptType = scripts.HookPre
		out.PreHook = e.deps.Hooks.Run(ctx, hookEnv)
		hookEnv.ScriptType = scripts.HookPost
		out.PostHook = e.deps.Hooks.Run(ctx, hookEnv)
		out.FinalState = FinalNoop
		out.Reason = "dry-run: simulated " + string(step.DiffKind) + " step"
		out.EndedAt = e.deps.Now()
		return out
	}

	old, err := e.deps.Docker.Inspect(ctx, containerName)
	if err != nil {
		return e.abort(out, trace, err, "inspect failed before PRE")
	}

	// PRE
	trace(StatePre)
	emit(StatePre, "running pre-hook")
	out.PreHook = e.deps.Hooks.Run(ctx, scripts.HookEnv{
		ContainerName: containerName, ScriptType: scripts.HookPre,
		DryRun: cfg.DryRun, LogLevel: cfg.LogLevel, ConfigDir: cfg.ConfigDir, ScriptsDir: cfg.ScriptsDir,
	})
	if out.PreHook.Ran && out.PreHook.Err != nil {
		if !cfg.PreContinueOnFailure {
			return e.skip(out, trace, core.Wrap(core.KindHookFailedPre, "pre-hook failed", out.PreHook.Err), "pre-hook failed")
		}
	}

	// PULL
	trace(StatePull)
	emit(StatePull, "pulling image")
	targetRef, err := docker.DigestRef(cfg.Repository, step.Target.Digest)
	if err != nil {
		return e.abort(out, trace, core.Wrap(core.KindImagePullFailed, "bad target digest", err), "bad target digest")
	}
	if e.deps.Now().Sub(step.Target.PushedAt) < cfg.MinImageAge {
		return e.abort(out, trace, core.New(core.KindImageTooYoung, "target image no longer satisfies minImageAge at pull time"), "image too young")
	}
	auth := ""
	if e.deps.AuthForImage != nil {
		auth = e.deps.AuthForImage(targetRef)
	}
	pull, err := e.deps.Docker.PullImage(ctx, targetRef, auth)
	if err != nil {
		return e.abort(out, trace, core.Wrap(core.KindImagePullFailed, "pull failed", err), "pull failed")
	}
	out.Pull = pull

	// STOP_OLD
	trace(StateStopOld)
	emit(StateStopOld, "stopping old container")
	backupName := docker.BackupName(containerName, e.deps.Now())
	if err := e.deps.Docker.RenameContainer(ctx, containerName, backupName); err != nil {
		return e.abort(out, trace, err, "rename to backup failed")
	}
	if err := e.deps.Docker.SetRestartPolicyNo(ctx, backupName); err != nil {
		return e.rollback(ctx, out, trace, emit, containerName, backupName, old, err, "disable restart policy on backup failed")
	}
	if err := e.deps.Docker.StopContainer(ctx, backupName, cfg.StopTimeout); err != nil {
		return e.rollback(ctx, out, trace, emit, containerName, backupName, old, err, "stop backup container failed")
	}

	// START_NEW
	trace(StateStartNew)
	emit(StateStartNew, "starting new container")
	imageEnv, err := e.deps.Docker.ImageEnv(ctx, targetRef)
	if err != nil {
		return e.rollback(ctx, out, trace, emit, containerName, backupName, old, err, "reading new image env failed")
	}
	newEnv := envfilter.Resolve(containerName, old.Env, imageEnv, cfg.EnvFiltering)
	spec := docker.SpecFromDetail(old, targetRef, newEnv, e.deps.Now())
	newID, err := e.deps.Docker.CreateAndStart(ctx, spec)
	if err != nil {
		return e.rollback(ctx, out, trace, emit, containerName, backupName, old, err, "create/start new container failed")
	}
	_ = newID

	// VERIFY
	trace(StateVerify)
	emit(StateVerify, "verifying stability")
	result := verify.Verify(ctx, e.deps.Docker, containerName, verify.Config{
		MaxWait: cfg.Verify.MaxWait, StableTime: cfg.Verify.StableTime,
		CheckInterval: cfg.Verify.CheckInterval, GracePeriod: cfg.Verify.GracePeriod,
	})
	if !result.Stable {
		return e.rollback(ctx, out, trace, emit, containerName, backupName, old, result.Err, "verification failed")
	}

	// POST
	trace(StatePost)
	emit(StatePost, "running post-hook")
	out.PostHook = e.deps.Hooks.Run(ctx, scripts.HookEnv{
		ContainerName: containerName, ScriptType: scripts.HookPost,
		DryRun: cfg.DryRun, LogLevel: cfg.LogLevel, ConfigDir: cfg.ConfigDir, ScriptsDir: cfg.ScriptsDir,
	})
	if out.PostHook.Ran && out.PostHook.Err != nil {
		if cfg.PostRollbackOnFailure {
			return e.rollback(ctx, out, trace, emit, containerName, backupName, old,
				core.Wrap(core.KindHookFailedPost, "post-hook failed", out.PostHook.Err), "post-hook failed, rolling back")
		}
		out.Warning = fmt.Sprintf("post-hook exited %d: %s", out.PostHook.ExitCode, out.PostHook.Output)
	}

	// COMMIT / DONE
	trace(StateCommit)
	emit(StateCommit, "committed")
	trace(StateDone)
	out.FinalState = FinalUpdated
	out.EndedAt = e.deps.Now()
	return out
}

// StepConfig is the per-step configuration the coordinator resolves from
// config.Schema before invoking RunStep.
type StepConfig struct {
	DryRun                bool
	LogLevel              string
	ConfigDir             string
	ScriptsDir            string
	PreContinueOnFailure  bool
	PostRollbackOnFailure bool
	Repository            string
	MinImageAge           time.Duration
	StopTimeout           time.Duration
	EnvFiltering          config.EnvFiltering
	Verify                verify.Config
}

func (e *Executor) abort(out StepOutcome, trace func(State), err error, reason string) StepOutcome {
	out.FinalState = FinalAborted
	out.Reason = fmt.Sprintf("%s: %v", reason, err)
	out.EndedAt = e.deps.Now()
	return out
}

// skip implements spec §4.10 step 2: a pre-hook failure with
// continueOnFailure=false makes no changes, and is reported as skipped
// rather than as one of the other aborts.
func (e *Executor) skip(out StepOutcome, trace func(State), err error, reason string) StepOutcome {
	out.FinalState = FinalSkipped
	out.Reason = fmt.Sprintf("%s: %v", reason, err)
	out.EndedAt = e.deps.Now()
	return out
}

// rollback implements spec §4.10 step 9: stop+remove the new container,
// rename the backup back to the original name, restore its restart policy,
// start it, and re-verify best-effort. Hooks are not re-run.
func (e *Executor) rollback(ctx context.Context, out StepOutcome, trace func(State), emit func(State, string), containerName, backupName string, old *docker.ContainerDetail, cause error, reason string) StepOutcome {
	trace(StateRollback)
	emit(StateRollback, reason)

	if err := e.deps.Docker.StopContainer(ctx, containerName, 10*time.Second); err != nil && !docker.IsKind(err, docker.KindContainerNotFound) {
		out.Warning = fmt.Sprintf("rollback: stop new container: %v", err)
	}
	if err := e.deps.Docker.RemoveContainer(ctx, containerName); err != nil && !docker.IsKind(err, docker.KindContainerNotFound) {
		out.Warning = fmt.Sprintf("rollback: remove new container: %v", err)
	}

	if err := e.deps.Docker.RenameContainer(ctx, backupName, containerName); err != nil {
		out.FinalState = FinalAbortedInconsistent
		out.Warning = fmt.Sprintf("ROLLBACK FAILED: %s is left stopped as %s; no container is running under its original name", containerName, backupName)
		out.Reason = fmt.Sprintf("rollback failed: could not restore original name: %v (cause: %v)", err, cause)
		out.EndedAt = e.deps.Now()
		return out
	}
	if err := e.deps.Docker.RestoreRestartPolicy(ctx, containerName, old.RestartPolicy); err != nil {
		out.Warning = fmt.Sprintf("rollback: restore restart policy: %v", err)
	}
	if err := e.deps.Docker.StartContainer(ctx, containerName); err != nil {
		out.FinalState = FinalAbortedInconsistent
		out.Warning = fmt.Sprintf("ROLLBACK FAILED: %s was renamed back but failed to start; it is not running", containerName)
		out.Reason = fmt.Sprintf("rollback failed: could not restart original: %v (cause: %v)", err, cause)
		out.EndedAt = e.deps.Now()
		return out
	}

	// Best-effort re-verify; its outcome does not change the rollback's
	// success, only whether a warning is recorded.
	reverify := verify.Verify(ctx, e.deps.Docker, containerName, verify.Config{
		MaxWait: 30 * time.Second, StableTime: 5 * time.Second, CheckInterval: time.Second, GracePeriod: time.Second,
	})
	if !reverify.Stable {
		out.Warning = fmt.Sprintf("rollback restored %s but it did not re-stabilize: %v", containerName, reverify.Err)
	}

	trace(StateRestored)
	out.FinalState = FinalRolledBack
	out.Reason = fmt.Sprintf("%s: %v", reason, cause)
	out.EndedAt = e.deps.Now()
	return out
}
