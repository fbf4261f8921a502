package runner

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap/zaptest"

	"github.com/execbox/execbox/sandbox"
	"github.com/execbox/execbox/workspace"
)

// fakeDocker simulates the container daemon for runner tests. onStart
// lets a test impersonate the in-container program by writing sidecar
// files into the bind-mounted workspace.
type fakeDocker struct {
	mu       sync.Mutex
	exitCode int64
	logs     []string
	onStart  func(hostDir string)
	// block makes the container run until the deadline stop
	block bool

	hostDir string
	stopN   int
	removeN int
	exited  chan container.WaitResponse
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{exited: make(chan container.WaitResponse, 1)}
}

func (f *fakeDocker) ContainerCreate(_ context.Context, _ *container.Config, hostConfig *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if len(hostConfig.Binds) > 0 {
		f.hostDir = strings.SplitN(hostConfig.Binds[0], ":", 2)[0]
	}
	return container.CreateResponse{ID: "c0"}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, _ string, _ container.StartOptions) error {
	if f.onStart != nil {
		f.onStart(f.hostDir)
	}
	if !f.block {
		f.exited <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return nil
}

func (f *fakeDocker) ContainerWait(_ context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return f.exited, make(chan error, 1)
}

func (f *fakeDocker) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	for _, p := range f.logs {
		hdr := make([]byte, 8)
		hdr[0] = 1
		binary.BigEndian.PutUint32(hdr[4:], uint32(len(p)))
		buf.Write(hdr)
		buf.WriteString(p)
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerAttach(_ context.Context, _ string, _ container.AttachOptions) (types.HijackedResponse, error) {
	return types.HijackedResponse{}, errors.New("not implemented")
}

func (f *fakeDocker) ContainerStop(_ context.Context, _ string, _ container.StopOptions) error {
	f.mu.Lock()
	f.stopN++
	f.mu.Unlock()
	select {
	case f.exited <- container.WaitResponse{StatusCode: 137}:
	default:
	}
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, _ string, _ container.RemoveOptions) error {
	f.mu.Lock()
	f.removeN++
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) CopyFromContainer(_ context.Context, _, _ string) (io.ReadCloser, container.PathStat, error) {
	return nil, container.PathStat{}, errors.New("container removed")
}

func newTestRunner(t *testing.T, f *fakeDocker, wallClock time.Duration) (*Runner, string) {
	t.Helper()
	tmp := t.TempDir()
	mgr := sandbox.NewManager(f, sandbox.Config{
		Runtime:     "runc",
		NanoCPUs:    800_000_000,
		MemoryBytes: 1 << 30,
		WallClock:   wallClock,
		StopTimeout: time.Second,
	}, zaptest.NewLogger(t))
	r := New(mgr, Config{
		Images: Images{
			Python: "python:3", PythonUnittest: "execbox/python-unittest",
			Java: "eclipse-temurin:21", JavaJunit: "execbox/java-junit",
			Cpp: "gcc:13", CppDoctest: "execbox/cpp-doctest",
		},
		TmpRoot: tmp,
	}, zaptest.NewLogger(t))
	return r, tmp
}

func TestRunPythonCodeBase64RoundTrip(t *testing.T) {
	f := newFakeDocker()
	f.logs = []string{"Hello, world!\n"}
	r, _ := newTestRunner(t, f, time.Minute)

	res, err := r.RunPythonCode(context.Background(), CodeRequest{
		Code:               workspace.EncodeBase64([]byte("print('Hello, world!')")),
		IsInputBase64:      true,
		ShouldOutputBase64: true,
	})
	if err != nil {
		t.Fatalf("RunPythonCode: %v", err)
	}
	if res.Output != "SGVsbG8sIHdvcmxkIQo=" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestRunPythonCodeInvalidEncoding(t *testing.T) {
	f := newFakeDocker()
	r, _ := newTestRunner(t, f, time.Minute)
	_, err := r.RunPythonCode(context.Background(), CodeRequest{Code: "@@@", IsInputBase64: true})
	if !errors.Is(err, workspace.ErrInvalidEncoding) {
		t.Errorf("expected ErrInvalidEncoding, got %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeN != 0 {
		t.Error("no container must be started for invalid payloads")
	}
}

func TestRunJavaAssignmentAllPassing(t *testing.T) {
	f := newFakeDocker()
	f.onStart = func(dir string) {
		outcomes := []TestOutcome{
			{Test: "testGreet()", Status: StatusSuccessful},
			{Test: "testMainOutput()", Status: StatusSuccessful},
		}
		data, _ := json.Marshal(outcomes)
		os.WriteFile(filepath.Join(dir, "test-results.json"), data, 0o644)
		os.WriteFile(filepath.Join(dir, "program_output.txt"), []byte("Hello, world\n"), 0o644)
	}
	r, _ := newTestRunner(t, f, time.Minute)

	res, err := r.RunJavaAssignment(context.Background(), AssignmentRequest{
		ProjectRequest: ProjectRequest{
			MainClassName: "Main",
			AdditionalFiles: map[string]string{
				"Main.java": workspace.EncodeBase64([]byte("public class Main {}")),
			},
		},
		TestFiles: map[string]string{
			"MainTest.java": workspace.EncodeBase64([]byte("public class MainTest {}")),
		},
	})
	if err != nil {
		t.Fatalf("RunJavaAssignment: %v", err)
	}
	if !res.TestsPassed || res.Score != 100 {
		t.Errorf("passed=%v score=%d", res.TestsPassed, res.Score)
	}
	if res.Output != "Hello, world\n" {
		t.Errorf("output = %q", res.Output)
	}
	if len(res.TestResults) != 2 {
		t.Errorf("expected 2 outcomes, got %+v", res.TestResults)
	}
}

func TestRunJavaAssignmentTestCompileError(t *testing.T) {
	diag := "MainTest.java:7: error: cannot find symbol\n"
	f := newFakeDocker()
	f.exitCode = 1
	f.onStart = func(dir string) {
		os.WriteFile(filepath.Join(dir, "test_compile_errors.txt"), []byte(diag), 0o644)
	}
	r, _ := newTestRunner(t, f, time.Minute)

	res, err := r.RunJavaAssignment(context.Background(), AssignmentRequest{
		ProjectRequest: ProjectRequest{
			MainClassName:   "Main",
			AdditionalFiles: map[string]string{"Main.java": workspace.EncodeBase64([]byte("public class Main {}"))},
		},
		TestFiles: map[string]string{"MainTest.java": workspace.EncodeBase64([]byte("public class MainTest {}"))},
	})
	if err != nil {
		t.Fatalf("RunJavaAssignment: %v", err)
	}
	if len(res.TestResults) != 1 {
		t.Fatalf("expected synthetic outcome, got %+v", res.TestResults)
	}
	o := res.TestResults[0]
	if o.Test != TestTestCompilation || o.Status != StatusFailed || o.Exception != diag {
		t.Errorf("unexpected outcome: %+v", o)
	}
	if res.Score != 0 || res.TestsPassed {
		t.Errorf("score=%d passed=%v", res.Score, res.TestsPassed)
	}
}

func TestRunPythonAssignmentSyntaxGate(t *testing.T) {
	diag := "main.py:1:1: invalid syntax\n"
	f := newFakeDocker()
	f.exitCode = 1
	f.onStart = func(dir string) {
		os.WriteFile(filepath.Join(dir, "main_compile_errors.txt"), []byte(diag), 0o644)
	}
	r, _ := newTestRunner(t, f, time.Minute)

	res, err := r.RunPythonAssignment(context.Background(), AssignmentRequest{
		ProjectRequest: ProjectRequest{
			MainFile:        "main.py",
			AdditionalFiles: map[string]string{"main.py": workspace.EncodeBase64([]byte("print('x'"))},
		},
		TestFiles: map[string]string{"test_main.py": workspace.EncodeBase64([]byte("import unittest"))},
	})
	if err != nil {
		t.Fatalf("RunPythonAssignment: %v", err)
	}
	if len(res.TestResults) != 1 || res.TestResults[0].Test != TestMainCompilation {
		t.Fatalf("expected MAIN_COMPILATION, got %+v", res.TestResults)
	}
	if res.Output != diag {
		t.Errorf("output must hold diagnostics verbatim, got %q", res.Output)
	}
}

func TestRunRemovesWorkspaceAndContainer(t *testing.T) {
	f := newFakeDocker()
	f.onStart = func(dir string) {
		os.WriteFile(filepath.Join(dir, "test-results.json"), []byte("[]"), 0o644)
	}
	r, tmp := newTestRunner(t, f, time.Minute)

	_, err := r.RunJavaAssignment(context.Background(), AssignmentRequest{
		ProjectRequest: ProjectRequest{
			MainClassName:   "Main",
			AdditionalFiles: map[string]string{"Main.java": workspace.EncodeBase64([]byte("public class Main {}"))},
		},
	})
	if err != nil {
		t.Fatalf("RunJavaAssignment: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(tmp, ServiceName))
	if err == nil && len(entries) > 0 {
		t.Errorf("workspace leaked: %v", entries)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeN != 1 {
		t.Errorf("expected 1 container remove, got %d", f.removeN)
	}
}

func TestRunProjectRequiresEntry(t *testing.T) {
	r, _ := newTestRunner(t, newFakeDocker(), time.Minute)
	if _, err := r.RunJavaProject(context.Background(), ProjectRequest{}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("java: expected ErrBadRequest, got %v", err)
	}
	if _, err := r.RunPythonProject(context.Background(), ProjectRequest{}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("python: expected ErrBadRequest, got %v", err)
	}
}

func TestRunAssignmentTimeoutClassification(t *testing.T) {
	f := newFakeDocker()
	f.block = true
	r, _ := newTestRunner(t, f, 20*time.Millisecond)

	res, err := r.RunCppAssignment(context.Background(), AssignmentRequest{
		ProjectRequest: ProjectRequest{
			AdditionalFiles: map[string]string{"main.cpp": workspace.EncodeBase64([]byte("int main() { for(;;); }"))},
		},
		TestFiles: map[string]string{"test.cpp": workspace.EncodeBase64([]byte("// tests"))},
	})
	if err != nil {
		t.Fatalf("RunCppAssignment: %v", err)
	}
	if len(res.TestResults) != 1 || res.TestResults[0].Status != StatusAborted {
		t.Fatalf("expected aborted classification, got %+v", res.TestResults)
	}
	if res.TestsPassed || res.Score != 0 {
		t.Errorf("passed=%v score=%d", res.TestsPassed, res.Score)
	}
}

func TestRunAggregateZeroTests(t *testing.T) {
	f := newFakeDocker()
	f.onStart = func(dir string) {
		os.WriteFile(filepath.Join(dir, "test-results.json"), []byte("[]"), 0o644)
		os.WriteFile(filepath.Join(dir, "program_output.txt"), []byte("ran\n"), 0o644)
	}
	r, _ := newTestRunner(t, f, time.Minute)

	res, err := r.RunPythonAssignment(context.Background(), AssignmentRequest{
		ProjectRequest: ProjectRequest{
			MainFile:        "main.py",
			AdditionalFiles: map[string]string{"main.py": workspace.EncodeBase64([]byte("print('ran')"))},
		},
	})
	if err != nil {
		t.Fatalf("RunPythonAssignment: %v", err)
	}
	if res.TestsPassed || res.Score != 0 {
		t.Errorf("zero tests must not pass: passed=%v score=%d", res.TestsPassed, res.Score)
	}
}
