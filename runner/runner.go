package runner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/execbox/execbox/sandbox"
	"github.com/execbox/execbox/sanitize"
	"github.com/execbox/execbox/workspace"
)

const (
	// ServiceName is the workspace path component under the temp root.
	ServiceName = "execbox"
	// ContainerWorkDir is the fixed bind-mount target inside every
	// sandbox container; the Python test runner discovers tests there.
	ContainerWorkDir = "/usr/src/app"

	inputFileName       = "input.txt"
	programOutputFile   = "program_output.txt"
	mainCompileErrFile  = "main_compile_errors.txt"
	testCompileErrFile  = "test_compile_errors.txt"
	cppCompileErrFile   = "compile_errors.txt"
	testResultsFileName = "test-results.json"
)

// Images maps languages and execution modes to container images.
type Images struct {
	Python         string
	PythonUnittest string
	Java           string
	JavaJunit      string
	Cpp            string
	CppDoctest     string
}

// Config wires a Runner.
type Config struct {
	Images Images
	// TmpRoot is the host directory workspaces are created under; must
	// be a host-visible path when the service itself runs in a
	// container.
	TmpRoot string
	// Sanitizer pre-checks sources before layout; nil disables.
	Sanitizer *sanitize.RuleSet
}

// Runner executes batch requests. One runner serves all languages; each
// request owns its workspace and container exclusively.
type Runner struct {
	mgr       *sandbox.Manager
	images    Images
	tmpRoot   string
	sanitizer *sanitize.RuleSet
	logger    *zap.Logger
}

// New creates a batch runner on top of a sandbox manager.
func New(mgr *sandbox.Manager, conf Config, logger *zap.Logger) *Runner {
	return &Runner{
		mgr:       mgr,
		images:    conf.Images,
		tmpRoot:   conf.TmpRoot,
		sanitizer: conf.Sanitizer,
		logger:    logger,
	}
}

// execution is the raw outcome of one container run.
type execution struct {
	Output   string
	ExitCode int64
	TimedOut bool
}

// run starts the container, drains its log stream concurrently with the
// wait (the runtime blocks the container once the log buffer fills) and
// guarantees the container is stopped on every exit path.
func (r *Runner) run(ctx context.Context, spec sandbox.Spec) (*execution, error) {
	c, err := r.mgr.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	waited := false
	defer func() {
		if !waited {
			r.mgr.Stop(context.Background(), c)
		}
	}()

	logs, err := r.mgr.Logs(ctx, c)
	if err != nil {
		return nil, err
	}

	d := sandbox.NewDemuxer()
	var (
		eg       errgroup.Group
		exitCode int64
		timedOut bool
	)
	eg.Go(func() error {
		defer logs.Close()
		// the stream ends at container exit; a force stop surfaces as
		// an abrupt EOF and is not an error here
		if _, err := io.Copy(d, logs); err != nil {
			r.logger.Debug("log stream ended", zap.String("containerId", c.ID), zap.Error(err))
		}
		return nil
	})
	eg.Go(func() error {
		var werr error
		exitCode, timedOut, werr = r.mgr.Wait(ctx, c)
		return werr
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	waited = true

	return &execution{Output: d.String(), ExitCode: exitCode, TimedOut: timedOut}, nil
}

func (r *Runner) newWorkspace() (*workspace.Workspace, error) {
	return workspace.New(r.tmpRoot, ServiceName)
}

func (r *Runner) predicate(lang Language) func(string, []byte) error {
	if r.sanitizer == nil {
		return nil
	}
	return r.sanitizer.Predicate(string(lang))
}

// checkSource applies the sanitizer to an inline snippet that bypasses
// workspace layout.
func (r *Runner) checkSource(lang Language, name string, content []byte) error {
	if p := r.predicate(lang); p != nil {
		return p(name, content)
	}
	return nil
}

func bindMount(ws *workspace.Workspace) []string {
	return []string{ws.Root + ":" + ContainerWorkDir + ":rw"}
}

func encodeIfRequested(output string, b64 bool) string {
	if b64 {
		return workspace.EncodeBase64([]byte(output))
	}
	return output
}

// inputArgs tokenizes the request input into argv elements.
func inputArgs(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	args, err := shlex.Split(input)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed input: %v", ErrBadRequest, err)
	}
	return args, nil
}

// writeInputFile persists the request input for the program to read.
func writeInputFile(ws *workspace.Workspace, input string) error {
	if input == "" {
		return nil
	}
	return ws.WriteFile(inputFileName, []byte(input))
}

// shellQuote wraps s in single quotes, escaping embedded quotes, for
// safe interpolation into an sh -c script.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.Join(quoted, " ")
}

// shellSpec builds a container spec running script through sh -c.
func shellSpec(image, script string, ws *workspace.Workspace) sandbox.Spec {
	spec := sandbox.Spec{
		Image:      image,
		Cmd:        []string{"/bin/sh", "-c", script},
		WorkingDir: ContainerWorkDir,
	}
	if ws != nil {
		spec.Binds = bindMount(ws)
	}
	return spec
}

// normalizeAssignment turns sidecar files into the uniform assignment
// result. mainErrFile and testErrFile name the per-language compile
// diagnostics sidecars and mainTest names the synthetic outcome of a
// main compile failure; an empty testErrFile skips the test-compile check.
func (r *Runner) normalizeAssignment(ws *workspace.Workspace, ex *execution, mainErrFile, mainTest, testErrFile string) *AssignmentResult {
	if diag := ws.ReadSidecar(mainErrFile); strings.TrimSpace(diag) != "" {
		return compilationFailure(mainTest, diag)
	}
	if testErrFile != "" {
		if diag := ws.ReadSidecar(testErrFile); strings.TrimSpace(diag) != "" {
			return compilationFailure(TestTestCompilation, diag)
		}
	}
	programOutput := ws.ReadSidecar(programOutputFile)
	if ex.TimedOut {
		if programOutput == "" {
			programOutput = ex.Output
		}
		return timeoutResult(programOutput)
	}

	raw := ws.ReadSidecar(testResultsFileName)
	if raw == "" {
		r.logger.Warn("test results missing", zap.String("workspace", ws.Root))
		return &AssignmentResult{Output: programOutput}
	}
	outcomes, err := ParseTestResults([]byte(raw))
	if err != nil {
		r.logger.Warn("test results unparsable", zap.String("workspace", ws.Root), zap.Error(err))
		return &AssignmentResult{Output: programOutput}
	}
	passed, score := Aggregate(outcomes)
	return &AssignmentResult{
		Output:      programOutput,
		TestResults: outcomes,
		TestsPassed: passed,
		Score:       score,
	}
}
