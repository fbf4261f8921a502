package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/execbox/execbox/workspace"
)

const (
	javaMainFileName = "Main.java"
	junitClasspath   = `'.:/junit/*'`
	// test classes are compiled in place under test/ and joined onto
	// the classpath for the console launcher
	junitTestClasspath = `'.:/junit/*:test'`
	junitLauncher      = "org.junit.platform.console.ConsoleLauncher"
)

// RunJavaCode compiles and runs a single Main.java.
func (r *Runner) RunJavaCode(ctx context.Context, req CodeRequest) (*CodeResult, error) {
	code := req.Code
	if req.IsInputBase64 {
		decoded, err := workspace.DecodeBase64(code)
		if err != nil {
			return nil, err
		}
		code = string(decoded)
	}
	if err := r.checkSource(LangJava, javaMainFileName, []byte(code)); err != nil {
		return nil, err
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Remove()
	if err := ws.WriteFile(javaMainFileName, []byte(code)); err != nil {
		return nil, err
	}

	ex, err := r.run(ctx, shellSpec(r.images.Java, "javac Main.java && java Main", ws))
	if err != nil {
		return nil, err
	}
	return &CodeResult{Output: encodeIfRequested(ex.Output, req.ShouldOutputBase64)}, nil
}

// RunJavaProject compiles every source file and runs the given main
// class. Package placement happened at layout time, so compilation and
// the classpath both root at the workspace.
func (r *Runner) RunJavaProject(ctx context.Context, req ProjectRequest) (*ProjectResult, error) {
	if req.MainClassName == "" {
		return nil, fmt.Errorf("%w: mainClassName required", ErrBadRequest)
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Remove()

	if err := workspace.Layout(ws, req.AdditionalFiles, workspace.Options{
		Decode:   true,
		Java:     true,
		Sanitize: r.predicate(LangJava),
	}); err != nil {
		return nil, err
	}
	if err := writeInputFile(ws, req.Input); err != nil {
		return nil, err
	}
	args, err := inputArgs(req.Input)
	if err != nil {
		return nil, err
	}

	runLine := `find . -name "*.java" -exec javac {} + && java -cp . ` + req.MainClassName
	if len(args) > 0 {
		runLine += " " + shellJoin(args)
	}
	ex, err := r.run(ctx, shellSpec(r.images.Java, runLine, ws))
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

// RunJavaAssignment compiles main and test sources in separate stages,
// runs the program and launches the JUnit console launcher; the listener
// jar registered in the image writes test-results.json. Each stage
// reports its elapsed milliseconds on stdout.
func (r *Runner) RunJavaAssignment(ctx context.Context, req AssignmentRequest) (*AssignmentResult, error) {
	if req.MainClassName == "" {
		return nil, fmt.Errorf("%w: mainClassName required", ErrBadRequest)
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Remove()

	if err := workspace.Layout(ws, req.AdditionalFiles, workspace.Options{
		Decode:   true,
		Java:     true,
		Sanitize: r.predicate(LangJava),
	}); err != nil {
		return nil, err
	}
	if err := workspace.Layout(ws, req.TestFiles, workspace.Options{
		Decode:   true,
		Java:     true,
		Prefix:   javaTestDir,
		Sanitize: r.predicate(LangJava),
	}); err != nil {
		return nil, err
	}
	if err := writeInputFile(ws, req.Input); err != nil {
		return nil, err
	}

	ex, err := r.run(ctx, shellSpec(r.images.JavaJunit, javaAssignmentScript(req.MainClassName), ws))
	if err != nil {
		return nil, err
	}
	return r.normalizeAssignment(ws, ex, mainCompileErrFile, TestMainCompilation, testCompileErrFile), nil
}

const javaTestDir = "test"

// javaAssignmentScript composes the four-stage in-container command:
// compile main sources, compile test sources, run the program, run the
// JUnit console launcher. Non-empty compile diagnostics abort with a
// non-zero exit so the sidecar files classify the failure.
func javaAssignmentScript(mainClass string) string {
	const elapsed = `$((($(date +%s%N)-s)/1000000))`
	stages := []string{
		fmt.Sprintf(`s=$(date +%%s%%N); javac $(find . -path ./%s -prune -o -name '*.java' -print) 2> %s`,
			javaTestDir, mainCompileErrFile),
		fmt.Sprintf(`[ -s %s ] && exit 1`, mainCompileErrFile),
		`echo "compilation of main sources took ` + elapsed + ` ms"`,
		fmt.Sprintf(`s=$(date +%%s%%N); javac -cp %s $(find %s -name '*.java' -print) 2> %s`,
			junitClasspath, javaTestDir, testCompileErrFile),
		fmt.Sprintf(`[ -s %s ] && exit 1`, testCompileErrFile),
		`echo "compilation of test sources took ` + elapsed + ` ms"`,
		fmt.Sprintf(`s=$(date +%%s%%N); java -cp . %s > %s 2>&1`, mainClass, programOutputFile),
		`echo "execution of main class took ` + elapsed + ` ms"`,
		fmt.Sprintf(`s=$(date +%%s%%N); java -cp %s %s --scan-class-path --details none > /dev/null 2>&1`,
			junitTestClasspath, junitLauncher),
		`echo "test execution took ` + elapsed + ` ms"`,
	}
	return strings.Join(stages, "; ")
}
