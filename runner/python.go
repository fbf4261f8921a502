package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/execbox/execbox/sandbox"
	"github.com/execbox/execbox/workspace"
)

const pythonTestRunner = "/custom-test-runner/json_test_runner.py"

// RunPythonCode executes a single snippet with python -c. No workspace or
// bind mount is needed; the snippet travels in the container argv.
func (r *Runner) RunPythonCode(ctx context.Context, req CodeRequest) (*CodeResult, error) {
	code := req.Code
	if req.IsInputBase64 {
		decoded, err := workspace.DecodeBase64(code)
		if err != nil {
			return nil, err
		}
		code = string(decoded)
	}
	if err := r.checkSource(LangPython, "main.py", []byte(code)); err != nil {
		return nil, err
	}

	ex, err := r.run(ctx, sandbox.Spec{
		Image:      r.images.Python,
		Cmd:        []string{"python", "-c", code},
		WorkingDir: ContainerWorkDir,
	})
	if err != nil {
		return nil, err
	}
	return &CodeResult{Output: encodeIfRequested(ex.Output, req.ShouldOutputBase64)}, nil
}

// RunPythonProject lays the project files out in a workspace and runs the
// designated main file, passing input.txt tokens as argv.
func (r *Runner) RunPythonProject(ctx context.Context, req ProjectRequest) (*ProjectResult, error) {
	if req.MainFile == "" {
		return nil, fmt.Errorf("%w: mainFile required", ErrBadRequest)
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Remove()

	if err := workspace.Layout(ws, req.AdditionalFiles, workspace.Options{
		Decode:   true,
		Sanitize: r.predicate(LangPython),
	}); err != nil {
		return nil, err
	}
	if err := writeInputFile(ws, req.Input); err != nil {
		return nil, err
	}
	cmdLine, err := pythonRunLine(req.MainFile, req.RunMethod, req.Input)
	if err != nil {
		return nil, err
	}

	ex, err := r.run(ctx, shellSpec(r.images.Python, cmdLine, ws))
	if err != nil {
		return nil, err
	}
	files, err := workspace.CollectArtifacts(ctx, r.mgr.Archive(), "", ContainerWorkDir, ws, r.logger)
	if err != nil {
		return nil, err
	}
	return &ProjectResult{
		Output: encodeIfRequested(ex.Output, req.ShouldOutputBase64),
		Files:  files,
	}, nil
}

// RunPythonAssignment runs the program and the unit-test suite. A
// pyflakes pass gates execution: any finding short-circuits into a
// synthetic MAIN_COMPILATION failure.
func (r *Runner) RunPythonAssignment(ctx context.Context, req AssignmentRequest) (*AssignmentResult, error) {
	if req.MainFile == "" && req.RunMethod == "" {
		return nil, fmt.Errorf("%w: mainFile or runMethod required", ErrBadRequest)
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Remove()

	opts := workspace.Options{Decode: true, Sanitize: r.predicate(LangPython)}
	if err := workspace.Layout(ws, req.AdditionalFiles, opts); err != nil {
		return nil, err
	}
	if err := workspace.Layout(ws, req.TestFiles, opts); err != nil {
		return nil, err
	}
	if err := writeInputFile(ws, req.Input); err != nil {
		return nil, err
	}
	runLine, err := pythonRunLine(req.MainFile, req.RunMethod, req.Input)
	if err != nil {
		return nil, err
	}

	script := strings.Join([]string{
		fmt.Sprintf("pyflakes . > %s 2>&1", mainCompileErrFile),
		fmt.Sprintf("%s > %s 2>&1", runLine, programOutputFile),
		fmt.Sprintf("python %s > /dev/null 2>&1", pythonTestRunner),
	}, " && ")

	ex, err := r.run(ctx, shellSpec(r.images.PythonUnittest, script, ws))
	if err != nil {
		return nil, err
	}
	return r.normalizeAssignment(ws, ex, mainCompileErrFile, TestMainCompilation, ""), nil
}

// pythonRunLine composes the shell fragment that runs the program: a
// plain interpreter invocation, or an import of the main module calling
// the named method with the request input.
func pythonRunLine(mainFile, runMethod, input string) (string, error) {
	if runMethod != "" {
		module := strings.TrimSuffix(mainFile, ".py")
		if module == "" {
			module = "main"
		}
		call := fmt.Sprintf("import %s; %s.%s(%s)", module, module, runMethod, pythonLiteral(input))
		return "python -c " + shellQuote(call), nil
	}
	args, err := inputArgs(input)
	if err != nil {
		return "", err
	}
	line := "python " + shellQuote(mainFile)
	if len(args) > 0 {
		line += " " + shellJoin(args)
	}
	return line, nil
}

// pythonLiteral renders the input as a Python string literal argument,
// or nothing when the input is empty.
func pythonLiteral(input string) string {
	if input == "" {
		return ""
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(input)
	return `"` + escaped + `"`
}
