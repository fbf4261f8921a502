package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/execbox/execbox/workspace"
)

const (
	cppMainFileName = "main.cpp"
	cppTestBinary   = "test"
	cppProgBinary   = "program"
)

// RunCppCode compiles and runs a single main.cpp.
func (r *Runner) RunCppCode(ctx context.Context, req CodeRequest) (*CodeResult, error) {
	code := req.Code
	if req.IsInputBase64 {
		decoded, err := workspace.DecodeBase64(code)
		if err != nil {
			return nil, err
		}
		code = string(decoded)
	}
	if err := r.checkSource(LangCpp, cppMainFileName, []byte(code)); err != nil {
		return nil, err
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Remove()
	if err := ws.WriteFile(cppMainFileName, []byte(code)); err != nil {
		return nil, err
	}

	ex, err := r.run(ctx, shellSpec(r.images.Cpp, "g++ -o main main.cpp && ./main", ws))
	if err != nil {
		return nil, err
	}
	return &CodeResult{Output: encodeIfRequested(ex.Output, req.ShouldOutputBase64)}, nil
}

// RunCppProject compiles the main file together with every additional
// .cpp unit and runs the binary, feeding input.txt to stdin when input
// was supplied.
func (r *Runner) RunCppProject(ctx context.Context, req ProjectRequest) (*ProjectResult, error) {
	mainFile := req.MainFile
	if mainFile == "" {
		mainFile = cppMainFileName
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Remove()

	if err := workspace.Layout(ws, req.AdditionalFiles, workspace.Options{
		Decode:   true,
		Sanitize: r.predicate(LangCpp),
	}); err != nil {
		return nil, err
	}
	if err := writeInputFile(ws, req.Input); err != nil {
		return nil, err
	}

	sources := append([]string{mainFile}, cppUnits(req.AdditionalFiles, mainFile)...)
	script := fmt.Sprintf("g++ -o main %s && ./main", shellJoin(sources))
	if req.Input != "" {
		script += " < " + inputFileName
	}

	ex, err := r.run(ctx, shellSpec(r.images.Cpp, script, ws))
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

// RunCppAssignment compiles and runs the program, then compiles test.cpp
// against the non-main units and runs it with the json reporter baked
// into the image, which writes test-results.json.
func (r *Runner) RunCppAssignment(ctx context.Context, req AssignmentRequest) (*AssignmentResult, error) {
	mainFile := req.MainFile
	if mainFile == "" {
		mainFile = cppMainFileName
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Remove()

	opts := workspace.Options{Decode: true, Sanitize: r.predicate(LangCpp)}
	if err := workspace.Layout(ws, req.AdditionalFiles, opts); err != nil {
		return nil, err
	}
	if err := workspace.Layout(ws, req.TestFiles, opts); err != nil {
		return nil, err
	}
	if err := writeInputFile(ws, req.Input); err != nil {
		return nil, err
	}

	units := cppUnits(req.AdditionalFiles, mainFile)
	programSources := append([]string{mainFile}, units...)
	testSources := append(cppSourceNames(req.TestFiles), units...)

	ex, err := r.run(ctx, shellSpec(r.images.CppDoctest, cppAssignmentScript(programSources, testSources), ws))
	if err != nil {
		return nil, err
	}
	return r.normalizeAssignment(ws, ex, cppCompileErrFile, TestCompilation, testCompileErrFile), nil
}

// cppAssignmentScript compiles the program, runs it, compiles the test
// binary linked with the program units and runs it with the json
// reporter.
func cppAssignmentScript(programSources, testSources []string) string {
	stages := []string{
		fmt.Sprintf("g++ -o %s %s 2> %s", cppProgBinary, shellJoin(programSources), cppCompileErrFile),
		fmt.Sprintf("[ -s %s ] && exit 1", cppCompileErrFile),
		fmt.Sprintf("./%s > %s 2>&1", cppProgBinary, programOutputFile),
		fmt.Sprintf("g++ -o %s %s 2> %s", cppTestBinary, shellJoin(testSources), testCompileErrFile),
		fmt.Sprintf("[ -s %s ] && exit 1", testCompileErrFile),
		fmt.Sprintf("./%s -r json > /dev/null 2>&1", cppTestBinary),
	}
	return strings.Join(stages, "; ")
}

// cppUnits lists the additional .cpp translation units, excluding the
// main file, in stable order.
func cppUnits(files map[string]string, mainFile string) []string {
	var units []string
	for name := range files {
		if name != mainFile && strings.HasSuffix(name, ".cpp") {
			units = append(units, name)
		}
	}
	sort.Strings(units)
	return units
}

func cppSourceNames(files map[string]string) []string {
	var sources []string
	for name := range files {
		if strings.HasSuffix(name, ".cpp") {
			sources = append(sources, name)
		}
	}
	sort.Strings(sources)
	return sources
}
