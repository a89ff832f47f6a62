package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/devops-bootcamp/pkg/session"
)

const testContainerID = "f00dfacecafe"

// errNotFound satisfies the errdefs not-found check used by the client.
type errNotFound struct{}

func (errNotFound) Error() string { return "No such container" }
func (errNotFound) NotFound()     {}

// --- Mock Docker client ---

type mockDocker struct {
	createErrs   []error
	createCalled int
	lastConfig   *container.Config
	lastHost     *container.HostConfig
	lastName     string

	startErr error

	inspect    container.InspectResponse
	inspectErr error

	stopErr    error
	stopCalled int

	removeErr    error
	removeCalled int

	pullErr    error
	pullCalled int
}

func (m *mockDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string,
) (container.CreateResponse, error) {
	m.createCalled++
	m.lastConfig = cfg
	m.lastHost = host
	m.lastName = name
	if len(m.createErrs) >= m.createCalled && m.createErrs[m.createCalled-1] != nil {
		return container.CreateResponse{}, m.createErrs[m.createCalled-1]
	}
	return container.CreateResponse{ID: testContainerID}, nil
}

func (m *mockDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return m.startErr
}

func (m *mockDocker) ContainerInspect(context.Context, string) (container.InspectResponse, error) {
	return m.inspect, m.inspectErr
}

func (m *mockDocker) ContainerStop(context.Context, string, container.StopOptions) error {
	m.stopCalled++
	return m.stopErr
}

func (m *mockDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	m.removeCalled++
	return m.removeErr
}

func (m *mockDocker) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	m.pullCalled++
	if m.pullErr != nil {
		return nil, m.pullErr
	}
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded"}`)), nil
}

func testSpec() session.TaskSpec {
	return session.TaskSpec{
		ChallengeID:   "docker-intro",
		ContainerName: "challenge-docker-intro-session-u1-1",
		Env:           map[string]string{"SESSION_ID": "session-u1-1", "USER_ID": "u1"},
	}
}

func inspectWith(status string, running bool, hostPort string) container.InspectResponse {
	resp := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    testContainerID,
			State: &container.State{Status: status, Running: running},
		},
	}
	if hostPort != "" {
		resp.NetworkSettings = &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: nat.PortMap{sshPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}},
			},
		}
	}
	return resp
}

func TestNew_RequiresImagePrefix(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStartTask(t *testing.T) {
	cl := &mockDocker{}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, cl)

	handle, err := o.StartTask(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, testContainerID, handle)

	assert.Equal(t, "bootcamp:docker-intro", cl.lastConfig.Image)
	assert.Equal(t, "session-u1-1", cl.lastConfig.Labels[LabelSessionID])
	assert.Contains(t, cl.lastConfig.Env, "USER_ID=u1")
	assert.Contains(t, cl.lastConfig.ExposedPorts, sshPort)
	assert.Equal(t, "challenge-docker-intro-session-u1-1", cl.lastName)
	assert.Equal(t, int64(512*1024*1024), cl.lastHost.Memory)
	require.Len(t, cl.lastHost.PortBindings[sshPort], 1)
	assert.Empty(t, cl.lastHost.PortBindings[sshPort][0].HostPort, "ephemeral host port")
}

func TestStartTask_PullsMissingImage(t *testing.T) {
	cl := &mockDocker{createErrs: []error{errNotFound{}}}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp", PullMissing: true}, cl)

	handle, err := o.StartTask(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, testContainerID, handle)
	assert.Equal(t, 1, cl.pullCalled)
	assert.Equal(t, 2, cl.createCalled)
}

func TestStartTask_MissingImageWithoutPull(t *testing.T) {
	cl := &mockDocker{createErrs: []error{errNotFound{}}}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, cl)

	_, err := o.StartTask(context.Background(), testSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating container")
	assert.Equal(t, 0, cl.pullCalled)
}

func TestStartTask_PullError(t *testing.T) {
	cl := &mockDocker{createErrs: []error{errNotFound{}}, pullErr: errors.New("unauthorized")}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp", PullMissing: true}, cl)

	_, err := o.StartTask(context.Background(), testSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pulling image")
}

func TestStartTask_StartFailureRemovesContainer(t *testing.T) {
	cl := &mockDocker{startErr: errors.New("port is already allocated")}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, cl)

	_, err := o.StartTask(context.Background(), testSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting container")
	assert.Equal(t, 1, cl.removeCalled)
}

func TestDescribeTask(t *testing.T) {
	tests := []struct {
		name string
		cl   *mockDocker
		want session.Observation
	}{
		{
			name: "gone",
			cl:   &mockDocker{inspectErr: errNotFound{}},
			want: session.Observation{Exists: false},
		},
		{
			name: "running",
			cl:   &mockDocker{inspect: inspectWith("running", true, "32768")},
			want: session.Observation{Exists: true, Running: true, LastStatus: "running", NetworkAttachmentID: testContainerID},
		},
		{
			name: "created",
			cl:   &mockDocker{inspect: inspectWith("created", false, "")},
			want: session.Observation{Exists: true, LastStatus: "created"},
		},
		{
			name: "exited",
			cl:   &mockDocker{inspect: inspectWith("exited", false, "")},
			want: session.Observation{Exists: true, Stopped: true, LastStatus: "exited"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, tt.cl)
			got, err := o.DescribeTask(context.Background(), testContainerID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribeTask_Error(t *testing.T) {
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, &mockDocker{inspectErr: errors.New("daemon unreachable")})

	_, err := o.DescribeTask(context.Background(), testContainerID)
	assert.Error(t, err)
}

func TestResolveAddress(t *testing.T) {
	o := newOrchestrator(Config{ImagePrefix: "bootcamp", AdvertiseHost: "sandbox.local"},
		&mockDocker{inspect: inspectWith("running", true, "32768")})

	addr, err := o.ResolveAddress(context.Background(), testContainerID)
	require.NoError(t, err)
	assert.Equal(t, "sandbox.local:32768", addr)
	assert.Equal(t, "ssh -p 32768 student@sandbox.local", session.ConnectionHint("student", addr))
}

func TestResolveAddress_NotPublished(t *testing.T) {
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, &mockDocker{inspect: inspectWith("running", true, "")})

	addr, err := o.ResolveAddress(context.Background(), testContainerID)
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestStopTask(t *testing.T) {
	cl := &mockDocker{}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, cl)

	require.NoError(t, o.StopTask(context.Background(), testContainerID, "User requested termination"))
	assert.Equal(t, 1, cl.stopCalled)
	assert.Equal(t, 1, cl.removeCalled)
}

func TestStopTask_AlreadyGone(t *testing.T) {
	cl := &mockDocker{stopErr: errNotFound{}}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, cl)

	require.NoError(t, o.StopTask(context.Background(), testContainerID, "reason"))
	assert.Equal(t, 0, cl.removeCalled)
}

func TestStopTask_RemoveNotFoundIgnored(t *testing.T) {
	cl := &mockDocker{removeErr: errNotFound{}}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, cl)

	assert.NoError(t, o.StopTask(context.Background(), testContainerID, "reason"))
}

func TestStopTask_Error(t *testing.T) {
	cl := &mockDocker{stopErr: errors.New("daemon unreachable")}
	o := newOrchestrator(Config{ImagePrefix: "bootcamp"}, cl)

	err := o.StopTask(context.Background(), testContainerID, "reason")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopping container")
}
