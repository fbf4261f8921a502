// Package model defines the REST request and response bodies and maps
// runner errors onto HTTP statuses.
package model

import (
	"errors"
	"net/http"

	"github.com/execbox/execbox/runner"
	"github.com/execbox/execbox/sandbox"
	"github.com/execbox/execbox/sanitize"
	"github.com/execbox/execbox/session"
	"github.com/execbox/execbox/workspace"
)

// CodeRequest is the body of /execute/{python,java,cpp}.
type CodeRequest struct {
	Code               string `json:"code"`
	IsInputBase64      bool   `json:"isInputBase64"`
	ShouldOutputBase64 bool   `json:"shouldOutputBase64"`
}

// ProjectRequest is the body of /execute/*-project.
type ProjectRequest struct {
	MainFile           string            `json:"mainFile,omitempty"`
	MainClassName      string            `json:"mainClassName,omitempty"`
	AdditionalFiles    map[string]string `json:"additionalFiles"`
	Input              string            `json:"input,omitempty"`
	RunMethod          string            `json:"runMethod,omitempty"`
	ShouldOutputBase64 bool              `json:"shouldOutputBase64"`
}

// AssignmentRequest is the body of /execute/*-assignment.
type AssignmentRequest struct {
	ProjectRequest
	TestFiles map[string]string `json:"testFiles"`
}

// CodeResponse carries the captured output of a plain execution.
type CodeResponse struct {
	Output string `json:"output"`
}

// ProjectResponse adds the artifacts the program wrote under output/.
type ProjectResponse struct {
	Output string                        `json:"output"`
	Files  map[string]workspace.Artifact `json:"files"`
}

// AssignmentResponse carries normalized test outcomes.
type AssignmentResponse struct {
	Output      string               `json:"output"`
	TestResults []runner.TestOutcome `json:"testResults"`
	TestsPassed bool                 `json:"testsPassed"`
	Score       int                  `json:"score"`
}

// SessionResponse returns the freshly minted interactive session ID.
type SessionResponse struct {
	SessionID string `json:"sessionId"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ToRunnerCode converts the transport request to the runner's type.
func (r *CodeRequest) ToRunnerCode() runner.CodeRequest {
	return runner.CodeRequest{
		Code:               r.Code,
		IsInputBase64:      r.IsInputBase64,
		ShouldOutputBase64: r.ShouldOutputBase64,
	}
}

// ToRunnerProject converts the transport request to the runner's type.
func (r *ProjectRequest) ToRunnerProject() runner.ProjectRequest {
	return runner.ProjectRequest{
		MainFile:           r.MainFile,
		MainClassName:      r.MainClassName,
		AdditionalFiles:    r.AdditionalFiles,
		Input:              r.Input,
		RunMethod:          r.RunMethod,
		ShouldOutputBase64: r.ShouldOutputBase64,
	}
}

// ToRunnerAssignment converts the transport request to the runner's type.
func (r *AssignmentRequest) ToRunnerAssignment() runner.AssignmentRequest {
	return runner.AssignmentRequest{
		ProjectRequest: r.ProjectRequest.ToRunnerProject(),
		TestFiles:      r.TestFiles,
	}
}

// FromCodeResult shapes the runner result for the wire.
func FromCodeResult(res *runner.CodeResult) CodeResponse {
	return CodeResponse{Output: res.Output}
}

// FromProjectResult shapes the runner result for the wire; a nil file
// map becomes an empty object.
func FromProjectResult(res *runner.ProjectResult) ProjectResponse {
	files := res.Files
	if files == nil {
		files = map[string]workspace.Artifact{}
	}
	return ProjectResponse{Output: res.Output, Files: files}
}

// FromAssignmentResult shapes the runner result for the wire; a nil
// outcome list becomes an empty array.
func FromAssignmentResult(res *runner.AssignmentResult) AssignmentResponse {
	outcomes := res.TestResults
	if outcomes == nil {
		outcomes = []runner.TestOutcome{}
	}
	return AssignmentResponse{
		Output:      res.Output,
		TestResults: outcomes,
		TestsPassed: res.TestsPassed,
		Score:       res.Score,
	}
}

// ErrorStatus maps a runner-raised error to an HTTP status: client
// faults are 400, a rejected container launch is 500.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, sandbox.ErrLaunchFailure):
		return http.StatusInternalServerError
	case errors.Is(err, workspace.ErrInvalidEncoding),
		errors.Is(err, workspace.ErrUnsafePath),
		errors.Is(err, sanitize.ErrUnsafeSource),
		errors.Is(err, runner.ErrBadRequest),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrLanguageUnsupported):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}
