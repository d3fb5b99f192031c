// Package verify implements the Verifier (C8): deciding whether a freshly
// started container has stabilized, per the stableTime/gracePeriod/maxWait
// protocol.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/chis/docksmith/internal/core"
	"github.com/chis/docksmith/internal/docker"
)

// Config mirrors the updateVerification block of the configuration schema.
type Config struct {
	MaxWait       time.Duration
	StableTime    time.Duration
	CheckInterval time.Duration
	GracePeriod   time.Duration
}

// StateObserver is the subset of docker.Service the verifier depends on,
// satisfied by *docker.Service and fakeable in tests.
type StateObserver interface {
	ObserveState(ctx context.Context, nameOrID string) (*docker.ContainerState, error)
}

// Result is the verifier's outcome (spec §4.8): either stable, or a failure
// reason carrying the last observed state.
type Result struct {
	Stable    bool
	LastState *docker.ContainerState
	Err       error
}

// Verify polls nameOrID's state until it has been candidate-stable
// continuously for cfg.StableTime, holds through cfg.GracePeriod, or
// cfg.MaxWait elapses.
func Verify(ctx context.Context, obs StateObserver, nameOrID string, cfg Config) Result {
	deadline := time.Now().Add(cfg.MaxWait)
	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	var stableSince time.Time
	var last *docker.ContainerState
	gracing := false

	check := func() (done bool, res Result) {
		state, err := obs.ObserveState(ctx, nameOrID)
		if err != nil {
			return true, Result{Err: core.Wrap(core.KindDidNotStabilize, "observe state failed", err)}
		}
		last = state

		if !candidateStable(state) {
			stableSince = time.Time{}
			gracing = false
			return false, Result{}
		}

		if stableSince.IsZero() {
			stableSince = time.Now()
		}

		if !gracing && time.Since(stableSince) >= cfg.StableTime {
			gracing = true
		}

		if gracing && time.Since(stableSince) >= cfg.StableTime+cfg.GracePeriod {
			return true, Result{Stable: true, LastState: state}
		}

		return false, Result{}
	}

	if done, res := check(); done {
		return res
	}

	for {
		select {
		case <-ctx.Done():
			return Result{LastState: last, Err: core.Wrap(core.KindDidNotStabilize, "verification canceled", ctx.Err())}
		case <-ticker.C:
			if time.Now().After(deadline) {
				return Result{LastState: last, Err: core.New(core.KindDidNotStabilize, fmt.Sprintf("did not stabilize within %s", cfg.MaxWait))}
			}
			if done, res := check(); done {
				return res
			}
		}
	}
}

// candidateStable reports whether state is "running, and either has no
// defined healthcheck or reports healthy" (spec §4.8 step 2). A restart
// counted by the container's restart policy is not itself terminal; it
// simply fails this predicate and resets the timer, same as any other
// non-stable observation.
func candidateStable(state *docker.ContainerState) bool {
	if state == nil {
		return false
	}
	if state.Status != "running" {
		return false
	}
	switch state.HealthState {
	case "", "none", "healthy":
		return true
	default:
		return false
	}
}
