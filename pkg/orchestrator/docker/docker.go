// Package docker runs sandbox sessions as local Docker containers. It backs
// development setups and single-host deployments.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/txn2/devops-bootcamp/pkg/session"
)

const (
	// LabelSessionID marks containers started for a session.
	LabelSessionID = "bootcamp.session.id"

	// LabelChallengeID records the challenge a container serves.
	LabelChallengeID = "bootcamp.challenge.id"

	defaultAdvertiseHost = "127.0.0.1"
	defaultBindIP        = "0.0.0.0"
	defaultMemoryMB      = 512
	defaultCPUs          = 0.25
	defaultStopTimeout   = 10

	sshPort nat.Port = "22/tcp"
)

// Config configures the Docker orchestrator.
type Config struct {
	// ImagePrefix is the image name without tag; the challenge ID is the tag.
	ImagePrefix string `yaml:"image_prefix"`

	// AdvertiseHost is the host learners connect to.
	AdvertiseHost string `yaml:"advertise_host"`

	// BindIP is the host interface the SSH port is published on.
	BindIP string `yaml:"bind_ip"`

	// Network, when set, attaches containers to this Docker network.
	Network string `yaml:"network"`

	MemoryMB int64   `yaml:"memory_mb"`
	CPUs     float64 `yaml:"cpus"`

	// PullMissing pulls the challenge image when it is not present locally.
	PullMissing bool `yaml:"pull_missing"`

	// StopTimeoutSeconds bounds the graceful stop before the container is killed.
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds"`
}

func (c *Config) applyDefaults() {
	if c.AdvertiseHost == "" {
		c.AdvertiseHost = defaultAdvertiseHost
	}
	if c.BindIP == "" {
		c.BindIP = defaultBindIP
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = defaultMemoryMB
	}
	if c.CPUs <= 0 {
		c.CPUs = defaultCPUs
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = defaultStopTimeout
	}
}

// dockerAPI is the subset of the Docker client used here.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Orchestrator implements session.Orchestrator on a Docker daemon.
type Orchestrator struct {
	cfg Config
	cl  dockerAPI
}

// New connects to the Docker daemon configured by the environment
// (DOCKER_HOST and friends).
func New(cfg Config) (*Orchestrator, error) {
	if cfg.ImagePrefix == "" {
		return nil, errors.New("docker: image_prefix is required")
	}
	cl, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newOrchestrator(cfg, cl), nil
}

func newOrchestrator(cfg Config, cl dockerAPI) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{cfg: cfg, cl: cl}
}

// StartTask creates and starts a container publishing SSH on an ephemeral
// host port. The container ID is the task handle.
func (o *Orchestrator) StartTask(ctx context.Context, spec session.TaskSpec) (string, error) {
	ref := o.cfg.ImagePrefix + ":" + spec.ChallengeID

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:        ref,
		Env:          env,
		ExposedPorts: nat.PortSet{sshPort: struct{}{}},
		Labels: map[string]string{
			LabelSessionID:   spec.Env["SESSION_ID"],
			LabelChallengeID: spec.ChallengeID,
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			sshPort: []nat.PortBinding{{HostIP: o.cfg.BindIP, HostPort: ""}},
		},
		Resources: container.Resources{
			Memory:   o.cfg.MemoryMB * 1024 * 1024,
			NanoCPUs: int64(o.cfg.CPUs * 1e9),
		},
	}
	var netCfg *network.NetworkingConfig
	if o.cfg.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(o.cfg.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{o.cfg.Network: {}},
		}
	}

	resp, err := o.cl.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.ContainerName)
	if client.IsErrNotFound(err) && o.cfg.PullMissing {
		if pullErr := o.pull(ctx, ref); pullErr != nil {
			return "", pullErr
		}
		resp, err = o.cl.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.ContainerName)
	}
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("docker: container create warning", "container", resp.ID, "warning", w)
	}

	if err := o.cl.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = o.cl.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("starting container: %w", err)
	}
	return resp.ID, nil
}

func (o *Orchestrator) pull(ctx context.Context, ref string) error {
	slog.Info("docker: pulling image", "image", ref)
	rc, err := o.cl.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer func() { _ = rc.Close() }()

	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("reading pull progress: %w", err)
	}
	return nil
}

// DescribeTask inspects the container. The container ID doubles as the
// network attachment, resolved by ResolveAddress from the port bindings.
func (o *Orchestrator) DescribeTask(ctx context.Context, handle string) (session.Observation, error) {
	info, err := o.cl.ContainerInspect(ctx, handle)
	if client.IsErrNotFound(err) {
		return session.Observation{Exists: false}, nil
	}
	if err != nil {
		return session.Observation{}, fmt.Errorf("inspecting container: %w", err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return session.Observation{Exists: true}, nil
	}

	state := info.State
	obs := session.Observation{
		Exists:     true,
		Running:    state.Running && !state.Restarting,
		Stopped:    isStopped(string(state.Status)),
		LastStatus: string(state.Status),
	}
	if obs.Running {
		obs.NetworkAttachmentID = handle
	}
	return obs, nil
}

func isStopped(status string) bool {
	switch status {
	case "exited", "dead", "removing":
		return true
	}
	return false
}

// ResolveAddress returns "<advertise host>:<published ssh port>", or "" while
// the port is not yet published.
func (o *Orchestrator) ResolveAddress(ctx context.Context, attachmentID string) (string, error) {
	info, err := o.cl.ContainerInspect(ctx, attachmentID)
	if client.IsErrNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	if info.NetworkSettings == nil {
		return "", nil
	}

	for _, binding := range info.NetworkSettings.Ports[sshPort] {
		if binding.HostPort != "" {
			return net.JoinHostPort(o.cfg.AdvertiseHost, binding.HostPort), nil
		}
	}
	return "", nil
}

// StopTask stops and removes the container. A container that is already
// gone counts as stopped.
func (o *Orchestrator) StopTask(ctx context.Context, handle, reason string) error {
	timeout := o.cfg.StopTimeoutSeconds
	err := o.cl.ContainerStop(ctx, handle, container.StopOptions{Timeout: &timeout})
	if client.IsErrNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stopping container: %w", err)
	}

	if err := o.cl.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("removing container: %w", err)
	}
	slog.Debug("docker: container stopped", "container", handle, "reason", reason)
	return nil
}

// Verify interface compliance.
var _ session.Orchestrator = (*Orchestrator)(nil)
