package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"go.uber.org/zap"
)

// ErrLaunchFailure indicates the runtime rejected container create or
// start.
var ErrLaunchFailure = errors.New("container launch failure")

// Status tracks a container through the stop state machine.
type Status int

const (
	// StatusRunning means the container started and its deadline is armed.
	StatusRunning Status = iota + 1
	// StatusStopping means a stop request is in flight.
	StatusStopping
	// StatusStopped means the stop request returned; removal follows.
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type containerState struct {
	status   Status
	timer    *time.Timer
	timedOut bool
}

// Config holds manager defaults.
type Config struct {
	// Runtime selects the OCI runtime ("runc", "runsc", ...).
	Runtime string
	// NanoCPUs caps CPU as a fraction of one core in units of 1e-9.
	NanoCPUs int64
	// MemoryBytes caps container memory.
	MemoryBytes int64
	// WallClock is the default per-container deadline.
	WallClock time.Duration
	// StopTimeout is the grace period handed to stop requests.
	StopTimeout time.Duration
}

// Manager wraps the container API with typed create/start/wait/stop
// operations and a process-wide containerID → state map that makes a
// double stop a detectable bug instead of a silent retry.
type Manager struct {
	api    API
	conf   Config
	logger *zap.Logger

	mu         sync.Mutex
	containers map[string]*containerState
}

// NewManager creates a lifecycle manager over the given container API.
func NewManager(api API, conf Config, logger *zap.Logger) *Manager {
	if conf.StopTimeout <= 0 {
		conf.StopTimeout = time.Second
	}
	return &Manager{
		api:        api,
		conf:       conf,
		logger:     logger,
		containers: make(map[string]*containerState),
	}
}

// Start creates and starts a container from the spec, registers it as
// Running and arms its wall-clock deadline. The create is rolled back if
// start fails.
func (m *Manager) Start(ctx context.Context, spec Spec) (*Container, error) {
	stopTimeout := int(m.conf.StopTimeout / time.Second)
	conf := &container.Config{
		Image:       spec.Image,
		Cmd:         strslice.StrSlice(spec.Cmd),
		WorkingDir:  spec.WorkingDir,
		Tty:         spec.TTY,
		OpenStdin:   spec.OpenStdin,
		StopTimeout: &stopTimeout,
	}
	hostConf := &container.HostConfig{
		Binds:   spec.Binds,
		Runtime: m.conf.Runtime,
		Resources: container.Resources{
			Memory:   m.conf.MemoryBytes,
			NanoCPUs: m.conf.NanoCPUs,
		},
	}
	created, err := m.api.ContainerCreate(ctx, conf, hostConf, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", ErrLaunchFailure, err)
	}
	if err := m.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		m.removeContainer(created.ID)
		return nil, fmt.Errorf("%w: start: %v", ErrLaunchFailure, err)
	}

	c := &Container{ID: created.ID}
	st := &containerState{status: StatusRunning}
	if !spec.KeepAlive {
		wallClock := m.conf.WallClock
		if spec.WallClock > 0 {
			wallClock = spec.WallClock
		}
		st.timer = time.AfterFunc(wallClock, func() { m.deadlineExceeded(created.ID) })
	}
	m.mu.Lock()
	m.containers[created.ID] = st
	m.mu.Unlock()

	m.logger.Debug("container started",
		zap.String("containerId", created.ID),
		zap.String("image", spec.Image))
	return c, nil
}

// Wait blocks until the container exits and returns its exit code plus
// whether the wall-clock deadline forced the exit. On natural exit the
// container is removed and dropped from the status map; a deadline- or
// stop-initiated exit leaves removal to the stopping goroutine.
func (m *Manager) Wait(ctx context.Context, c *Container) (exitCode int64, timedOut bool, err error) {
	// keep the state handle: a deadline stop may drop the map entry
	// before the exit is observed here
	m.mu.Lock()
	tracked := m.containers[c.ID]
	m.mu.Unlock()

	statusCh, errCh := m.api.ContainerWait(ctx, c.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, false, fmt.Errorf("wait container %s: %w", c.ID, err)
		}
	case st := <-statusCh:
		exitCode = st.StatusCode
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}

	m.mu.Lock()
	if tracked != nil {
		timedOut = tracked.timedOut
	}
	st, ok := m.containers[c.ID]
	if !ok {
		m.mu.Unlock()
		return exitCode, timedOut, nil
	}
	if st.status != StatusRunning {
		// a stop request is in flight and owns removal
		m.mu.Unlock()
		return exitCode, timedOut, nil
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(m.containers, c.ID)
	m.mu.Unlock()

	m.removeContainer(c.ID)
	return exitCode, timedOut, nil
}

// Logs returns the container's framed stdio stream, following until exit.
func (m *Manager) Logs(ctx context.Context, c *Container) (io.ReadCloser, error) {
	rc, err := m.api.ContainerLogs(ctx, c.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("logs container %s: %w", c.ID, err)
	}
	return rc, nil
}

// Attach opens the bidirectional stdio stream of a TTY container.
// Interactive sessions only.
func (m *Manager) Attach(ctx context.Context, c *Container) (types.HijackedResponse, error) {
	resp, err := m.api.ContainerAttach(ctx, c.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return types.HijackedResponse{}, fmt.Errorf("attach container %s: %w", c.ID, err)
	}
	return resp, nil
}

// Stop requests a graceful stop and removes the container. Idempotent: a
// container that is not Running — including one already waited for and
// removed — is a warned no-op. Only the Running → Stopping transition
// issues a stop request, which rules out double stops.
func (m *Manager) Stop(ctx context.Context, c *Container) {
	m.stop(ctx, c.ID, false)
}

func (m *Manager) deadlineExceeded(id string) {
	m.logger.Warn("container wall clock exceeded", zap.String("containerId", id))
	m.stop(context.Background(), id, true)
}

func (m *Manager) stop(ctx context.Context, id string, timedOut bool) {
	m.mu.Lock()
	st, ok := m.containers[id]
	if !ok || st.status != StatusRunning {
		status := "absent"
		if ok {
			status = st.status.String()
		}
		m.mu.Unlock()
		m.logger.Warn("stop requested for container not running",
			zap.String("containerId", id), zap.String("status", status))
		return
	}
	st.status = StatusStopping
	st.timedOut = st.timedOut || timedOut
	if st.timer != nil {
		st.timer.Stop()
	}
	m.mu.Unlock()

	grace := int(m.conf.StopTimeout / time.Second)
	if err := m.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace}); err != nil {
		m.logger.Warn("container stop failed", zap.String("containerId", id), zap.Error(err))
	}

	m.mu.Lock()
	st.status = StatusStopped
	delete(m.containers, id)
	m.mu.Unlock()

	m.removeContainer(id)
}

// StatusOf reports the tracked state of a container; ok is false once the
// entry has been removed.
func (m *Manager) StatusOf(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.containers[id]
	if !ok {
		return 0, false
	}
	return st.status, true
}

func (m *Manager) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		m.logger.Warn("container remove failed", zap.String("containerId", id), zap.Error(err))
	}
}

// Archive exposes the underlying API for artifact collection.
func (m *Manager) Archive() API { return m.api }
