// Package runner orchestrates per-language compile/run/test execution:
// it prepares a workspace, assembles the in-container shell command, runs
// it through the sandbox manager and normalizes the outcome.
package runner

import (
	"errors"

	"github.com/execbox/execbox/workspace"
)

// ErrBadRequest indicates a structurally invalid execution request (e.g.
// a Java run without a main class name).
var ErrBadRequest = errors.New("bad request")

// Language selects the toolchain image and command shape.
type Language string

// Supported languages.
const (
	LangPython Language = "python"
	LangJava   Language = "java"
	LangCpp    Language = "cpp"
)

// CodeRequest runs a single source snippet.
type CodeRequest struct {
	// Code is the source text, base64-encoded when IsInputBase64 is set.
	Code               string
	IsInputBase64      bool
	ShouldOutputBase64 bool
}

// ProjectRequest runs a multi-file program.
type ProjectRequest struct {
	// MainFile names the entry file (Python / C++). C++ defaults to
	// main.cpp.
	MainFile string
	// MainClassName is the fully qualified main class (Java only).
	MainClassName string
	// AdditionalFiles maps relative file names to base64 content.
	AdditionalFiles map[string]string
	// Input is tokenized into the program's argv (Python, Java) or fed
	// to stdin (C++); with RunMethod set, Python passes it to the call as
	// one string argument. It is also written to input.txt in the
	// workspace.
	Input string
	// RunMethod optionally names a callable to invoke instead of
	// executing the main file directly (Python only).
	RunMethod          string
	ShouldOutputBase64 bool
}

// AssignmentRequest additionally compiles and runs a test suite.
type AssignmentRequest struct {
	ProjectRequest
	// TestFiles maps test file names to base64 content.
	TestFiles map[string]string
}

// CodeResult is the outcome of a plain code execution.
type CodeResult struct {
	Output string
}

// ProjectResult carries the program output plus any artifacts written to
// the output/ subtree.
type ProjectResult struct {
	Output string
	Files  map[string]workspace.Artifact
}

// AssignmentResult carries the program output and normalized test
// outcomes.
type AssignmentResult struct {
	Output      string
	TestResults []TestOutcome
	TestsPassed bool
	Score       int
}
