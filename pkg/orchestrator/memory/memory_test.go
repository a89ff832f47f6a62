package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/devops-bootcamp/pkg/session"
)

func TestLifecycle(t *testing.T) {
	o := New(Config{PendingPolls: 1})
	ctx := context.Background()

	handle, err := o.StartTask(ctx, session.TaskSpec{ChallengeID: "docker-intro"})
	require.NoError(t, err)
	assert.Equal(t, 1, o.Running())

	obs, err := o.DescribeTask(ctx, handle)
	require.NoError(t, err)
	assert.True(t, obs.Exists)
	assert.False(t, obs.Running)
	assert.Equal(t, "PENDING", obs.LastStatus)

	addr, err := o.ResolveAddress(ctx, handle)
	require.NoError(t, err)
	assert.Empty(t, addr)

	obs, err = o.DescribeTask(ctx, handle)
	require.NoError(t, err)
	assert.True(t, obs.Running)
	assert.Equal(t, handle, obs.NetworkAttachmentID)

	addr, err = o.ResolveAddress(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2200", addr)

	require.NoError(t, o.StopTask(ctx, handle, "User requested termination"))
	assert.Equal(t, "User requested termination", o.StopReason(handle))
	assert.Equal(t, 0, o.Running())

	obs, err = o.DescribeTask(ctx, handle)
	require.NoError(t, err)
	assert.True(t, obs.Stopped)
}

func TestPortsIncrement(t *testing.T) {
	o := New(Config{Host: "sandbox.local", BasePort: 3000})
	ctx := context.Background()

	first, err := o.StartTask(ctx, session.TaskSpec{})
	require.NoError(t, err)
	second, err := o.StartTask(ctx, session.TaskSpec{})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, _ = o.DescribeTask(ctx, second)
	addr, err := o.ResolveAddress(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "sandbox.local:3001", addr)
}

func TestForgottenTaskDoesNotExist(t *testing.T) {
	o := New(Config{})
	ctx := context.Background()

	handle, err := o.StartTask(ctx, session.TaskSpec{})
	require.NoError(t, err)
	o.Forget(handle)

	obs, err := o.DescribeTask(ctx, handle)
	require.NoError(t, err)
	assert.False(t, obs.Exists)
	assert.NoError(t, o.StopTask(ctx, handle, "reason"), "stopping an unknown task succeeds")
}

func TestWithManager(t *testing.T) {
	orch := New(Config{})
	m := session.NewManager(session.NewMemoryStore(), orch, session.ManagerConfig{})
	ctx := context.Background()

	sess, err := m.Launch(ctx, "u1", "docker-intro")
	require.NoError(t, err)

	view, err := m.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, view.Status)
	require.NotNil(t, view.ConnectionHint)
	assert.Equal(t, "ssh -p 2200 student@127.0.0.1", *view.ConnectionHint)

	require.NoError(t, m.Terminate(ctx, sess.ID))
	assert.Equal(t, 0, orch.Running())
}
