package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	digest "github.com/opencontainers/go-digest"
)

// ContainerDetail is the full inspect-level view of a container, matching
// the spec §3 Container data model (id/name/image/tag/digest/labels/env/
// mounts/networks/ports/restartPolicy/resourceLimits/createdAt/state/
// healthState).
type ContainerDetail struct {
	ID             string
	Name           string
	Image          string
	Tag            string
	Digest         string
	Labels         map[string]string
	Env            []string
	Mounts         []container.MountPoint
	NetworkMode    string
	Networks       map[string]*network.EndpointSettings
	PortBindings   nat.PortMap
	ExposedPorts   nat.PortSet
	RestartPolicy  container.RestartPolicy
	Resources      container.Resources
	CreatedAt      time.Time
	State          string
	HealthState    string
	Entrypoint     []string
	Cmd            []string
	WorkingDir     string
	User           string
}

// Inspect retrieves the full detail needed to reconstruct a container spec
// for an update, and to drive the Verifier (C8).
func (s *Service) Inspect(ctx context.Context, nameOrID string) (*ContainerDetail, error) {
	info, err := s.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return nil, classify("Inspect", err)
	}

	d := &ContainerDetail{
		ID:     info.ID,
		Name:   strings.TrimPrefix(info.Name, "/"),
		Labels: info.Config.Labels,
		Env:    info.Config.Env,
		State:  info.State.Status,
	}
	if info.Config != nil {
		d.Entrypoint = info.Config.Entrypoint
		d.Cmd = info.Config.Cmd
		d.WorkingDir = info.Config.WorkingDir
		d.User = info.Config.User
		ref := info.Config.Image
		if idx := strings.LastIndex(ref, ":"); idx != -1 && !strings.Contains(ref[idx+1:], "/") {
			d.Image = ref[:idx]
			d.Tag = ref[idx+1:]
		} else {
			d.Image = ref
			d.Tag = "latest"
		}
	}
	if info.State != nil && info.State.Health != nil {
		d.HealthState = info.State.Health.Status
	} else {
		d.HealthState = "none"
	}
	if info.HostConfig != nil {
		d.RestartPolicy = info.HostConfig.RestartPolicy
		d.Resources = info.HostConfig.Resources
		d.NetworkMode = string(info.HostConfig.NetworkMode)
		d.PortBindings = info.HostConfig.PortBindings
	}
	if info.Config != nil {
		d.ExposedPorts = info.Config.ExposedPorts
	}
	if info.NetworkSettings != nil {
		d.Networks = info.NetworkSettings.Networks
	}
	if info.Mounts != nil {
		d.Mounts = info.Mounts
	}
	if t, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		d.CreatedAt = t
	}

	imgInfo, err := s.cli.ImageInspect(ctx, info.Image)
	if err == nil && len(imgInfo.RepoDigests) > 0 {
		if idx := strings.Index(imgInfo.RepoDigests[0], "@"); idx != -1 {
			d.Digest = imgInfo.RepoDigests[0][idx+1:]
		}
	}

	return d, nil
}

// ImageEnv returns the default environment baked into imageRef (its
// Config.Env), used by the env-filter (C5) to distinguish image-provided
// defaults from user-set overrides.
func (s *Service) ImageEnv(ctx context.Context, imageRef string) ([]string, error) {
	info, err := s.cli.ImageInspect(ctx, imageRef)
	if err != nil {
		return nil, classify("ImageEnv", err)
	}
	if info.Config == nil {
		return nil, nil
	}
	return info.Config.Env, nil
}

// PullProgress summarizes an image pull for the report (C12), which
// formats BytesReceived with docker/go-units.
type PullProgress struct {
	Ref           string
	BytesReceived int64
	Duration      time.Duration
}

// PullImage pulls target@digest, draining and discarding the progress
// stream (the caller gets a summary, not a live feed, matching spec §4.10
// step PULL's "pullImage(target@digest)" contract).
func (s *Service) PullImage(ctx context.Context, ref string, authBase64 string) (*PullProgress, error) {
	start := time.Now()
	opts := image.PullOptions{}
	if authBase64 != "" {
		opts.RegistryAuth = authBase64
	}

	rc, err := s.cli.ImagePull(ctx, ref, opts)
	if err != nil {
		return nil, &DriverError{Kind: KindImagePullFailed, Op: "PullImage", Err: err}
	}
	defer rc.Close()

	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return nil, &DriverError{Kind: KindImagePullFailed, Op: "PullImage", Err: err}
	}

	return &PullProgress{Ref: ref, BytesReceived: n, Duration: time.Since(start)}, nil
}

// ContainerSpec is the fully-resolved specification for the replacement
// container, produced by the caller from the old ContainerDetail plus the
// env-filter (C5) decision and the target image reference (spec §4.6).
type ContainerSpec struct {
	Name          string
	Image         string // digest-pinned reference
	Env           []string
	Labels        map[string]string
	Entrypoint    []string
	Cmd           []string
	WorkingDir    string
	User          string
	ExposedPorts  nat.PortSet
	PortBindings  nat.PortMap
	NetworkMode   string
	Networks      map[string]*network.EndpointSettings
	Mounts        []container.MountPoint
	RestartPolicy container.RestartPolicy
	Resources     container.Resources
}

// SpecFromDetail derives a ContainerSpec for the new container from the
// inspected old one, per spec §4.6: same name, network/volume/mount/port/
// restart-policy/resource settings copied verbatim, labels carried over
// with an appended lastUpdatedAt timestamp, env/image supplied by caller.
func SpecFromDetail(old *ContainerDetail, targetImageRef string, env []string, now time.Time) *ContainerSpec {
	labels := make(map[string]string, len(old.Labels)+1)
	for k, v := range old.Labels {
		labels[k] = v
	}
	labels["docksmith.lastUpdatedAt"] = now.UTC().Format(time.RFC3339)

	return &ContainerSpec{
		Name:          old.Name,
		Image:         targetImageRef,
		Env:           env,
		Labels:        labels,
		Entrypoint:    old.Entrypoint,
		Cmd:           old.Cmd,
		WorkingDir:    old.WorkingDir,
		User:          old.User,
		ExposedPorts:  old.ExposedPorts,
		PortBindings:  old.PortBindings,
		NetworkMode:   old.NetworkMode,
		Networks:      old.Networks,
		Mounts:        old.Mounts,
		RestartPolicy: old.RestartPolicy,
		Resources:     old.Resources,
	}
}

// CreateAndStart creates the replacement container from spec and starts it,
// returning its new container ID.
func (s *Service) CreateAndStart(ctx context.Context, spec *ContainerSpec) (string, error) {
	mounts := make([]container.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, container.Mount{
			Type:        m.Type,
			Source:      m.Source,
			Target:      m.Destination,
			ReadOnly:    !m.RW,
		})
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		Entrypoint:   spec.Entrypoint,
		Cmd:          spec.Cmd,
		WorkingDir:   spec.WorkingDir,
		User:         spec.User,
		ExposedPorts: spec.ExposedPorts,
	}

	hostCfg := &container.HostConfig{
		PortBindings:  spec.PortBindings,
		RestartPolicy: spec.RestartPolicy,
		Resources:     spec.Resources,
		Mounts:        mounts,
		NetworkMode:   container.NetworkMode(spec.NetworkMode),
	}

	var netCfg *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		netCfg = &network.NetworkingConfig{EndpointsConfig: spec.Networks}
	}

	created, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", classify("CreateAndStart", err)
	}

	if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return created.ID, &DriverError{Kind: KindStartFailed, Op: "CreateAndStart", Err: err}
	}

	return created.ID, nil
}

// RenameContainer renames a container, e.g. to its backup name.
func (s *Service) RenameContainer(ctx context.Context, nameOrID, newName string) error {
	return classify("RenameContainer", s.cli.ContainerRename(ctx, nameOrID, newName))
}

// SetRestartPolicyNo overrides a container's restart policy to "no", so a
// stopped backup container is never revived by the daemon (spec §4.10
// STOP_OLD).
func (s *Service) SetRestartPolicyNo(ctx context.Context, nameOrID string) error {
	_, err := s.cli.ContainerUpdate(ctx, nameOrID, container.UpdateConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	})
	return classify("SetRestartPolicyNo", err)
}

// RestoreRestartPolicy reinstates a previously-saved restart policy, used
// during rollback.
func (s *Service) RestoreRestartPolicy(ctx context.Context, nameOrID string, policy container.RestartPolicy) error {
	_, err := s.cli.ContainerUpdate(ctx, nameOrID, container.UpdateConfig{RestartPolicy: policy})
	return classify("RestoreRestartPolicy", err)
}

// StopContainer stops a container with a bounded timeout.
func (s *Service) StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return classify("StopContainer", s.cli.ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &secs}))
}

// StartContainer starts an existing (e.g. backup) container.
func (s *Service) StartContainer(ctx context.Context, nameOrID string) error {
	return classify("StartContainer", s.cli.ContainerStart(ctx, nameOrID, container.StartOptions{}))
}

// RemoveContainer force-removes a container (used to discard a failed
// new container during rollback, and during the prune policy).
func (s *Service) RemoveContainer(ctx context.Context, nameOrID string) error {
	return classify("RemoveContainer", s.cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}))
}

// ContainerState is the minimal state observed by the Verifier (C8).
type ContainerState struct {
	Status      string // "running", "exited", "dead", "restarting", ...
	HealthState string // "healthy", "unhealthy", "starting", "none"
	RestartCount int
}

// ObserveState polls current container state for the Verifier.
func (s *Service) ObserveState(ctx context.Context, nameOrID string) (*ContainerState, error) {
	info, err := s.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return nil, classify("ObserveState", err)
	}
	st := &ContainerState{Status: info.State.Status, HealthState: "none", RestartCount: info.RestartCount}
	if info.State.Health != nil {
		st.HealthState = info.State.Health.Status
	}
	return st, nil
}

// BackupName derives the spec §6 "<originalName>_bak_cu_<YYYYMMDD_HHMMSS>"
// naming convention, in local time.
func BackupName(original string, at time.Time) string {
	return original + "_bak_cu_" + at.Local().Format("20060102_150405")
}

// IsBackupName reports whether name matches the backup naming convention,
// and returns the base name and timestamp if so (used by the prune policy).
func IsBackupName(name string) (base string, ts time.Time, ok bool) {
	const marker = "_bak_cu_"
	idx := strings.LastIndex(name, marker)
	if idx == -1 {
		return "", time.Time{}, false
	}
	base = name[:idx]
	stamp := name[idx+len(marker):]
	t, err := time.ParseInLocation("20060102_150405", stamp, time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return base, t, true
}

// DigestRef pins an image reference to a digest, e.g.
// "nginx" + "sha256:abcd..." -> "nginx@sha256:abcd...".
func DigestRef(repository string, d string) (string, error) {
	parsed, err := digest.Parse(d)
	if err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", d, err)
	}
	return repository + "@" + parsed.String(), nil
}

// parsePortNumber is a small helper retained for callers constructing
// nat.Port values from plain integers.
func parsePortNumber(s string) (int, error) {
	return strconv.Atoi(s)
}
