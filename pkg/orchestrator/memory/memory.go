// Package memory provides an in-process orchestrator that simulates sandbox
// tasks. It backs dev mode and tests; nothing is actually started.
package memory

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/txn2/devops-bootcamp/pkg/session"
)

const (
	statusPending = "PENDING"
	statusRunning = "RUNNING"
	statusStopped = "STOPPED"

	defaultHost     = "127.0.0.1"
	defaultBasePort = 2200
)

// Config configures the simulated orchestrator.
type Config struct {
	// Host is the address reported for running tasks.
	Host string `yaml:"host"`

	// BasePort is the port assigned to the first task; each task gets the next.
	BasePort int `yaml:"base_port"`

	// PendingPolls is how many DescribeTask calls a task stays PENDING before
	// it reports RUNNING.
	PendingPolls int `yaml:"pending_polls"`
}

type task struct {
	spec   session.TaskSpec
	status string
	polls  int
	port   int
	reason string
}

// Orchestrator implements session.Orchestrator in memory.
type Orchestrator struct {
	cfg Config

	mu    sync.Mutex
	tasks map[string]*task
	seq   int
}

// New creates an in-memory orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.BasePort <= 0 {
		cfg.BasePort = defaultBasePort
	}
	return &Orchestrator{cfg: cfg, tasks: make(map[string]*task)}
}

// StartTask records a new PENDING task.
func (o *Orchestrator) StartTask(_ context.Context, spec session.TaskSpec) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	handle := fmt.Sprintf("mem-task-%d", o.seq+1)
	o.tasks[handle] = &task{
		spec:   spec,
		status: statusPending,
		port:   o.cfg.BasePort + o.seq,
	}
	o.seq++
	return handle, nil
}

// DescribeTask advances a pending task toward RUNNING and reports its state.
func (o *Orchestrator) DescribeTask(_ context.Context, handle string) (session.Observation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[handle]
	if !ok {
		return session.Observation{Exists: false}, nil
	}

	if t.status == statusPending {
		if t.polls >= o.cfg.PendingPolls {
			t.status = statusRunning
		}
		t.polls++
	}

	obs := session.Observation{
		Exists:     true,
		Running:    t.status == statusRunning,
		Stopped:    t.status == statusStopped,
		LastStatus: t.status,
	}
	if obs.Running {
		obs.NetworkAttachmentID = handle
	}
	return obs, nil
}

// ResolveAddress returns "<host>:<port>" for a running task.
func (o *Orchestrator) ResolveAddress(_ context.Context, attachmentID string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[attachmentID]
	if !ok || t.status != statusRunning {
		return "", nil
	}
	return net.JoinHostPort(o.cfg.Host, strconv.Itoa(t.port)), nil
}

// StopTask marks the task STOPPED. Unknown handles are ignored.
func (o *Orchestrator) StopTask(_ context.Context, handle, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.tasks[handle]; ok {
		t.status = statusStopped
		t.reason = reason
	}
	return nil
}

// Forget drops a task entirely, as if the platform had garbage-collected it.
func (o *Orchestrator) Forget(handle string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tasks, handle)
}

// Running returns the number of tasks not yet stopped.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, t := range o.tasks {
		if t.status != statusStopped {
			n++
		}
	}
	return n
}

// StopReason returns the reason the task was stopped with.
func (o *Orchestrator) StopReason(handle string) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.tasks[handle]; ok {
		return t.reason
	}
	return ""
}

// Verify interface compliance.
var _ session.Orchestrator = (*Orchestrator)(nil)
