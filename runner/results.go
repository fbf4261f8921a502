package runner

import (
	"encoding/json"
	"fmt"
)

// TestOutcome is the uniform record every language back-end is normalized
// into. Status values follow the JUnit platform vocabulary; the Python
// and doctest listeners emit the same strings.
type TestOutcome struct {
	Test      string `json:"test"`
	Status    string `json:"status"`
	Exception string `json:"exception,omitempty"`
}

// Test statuses.
const (
	StatusSuccessful = "SUCCESSFUL"
	StatusFailed     = "FAILED"
	StatusAborted    = "ABORTED"
)

// Synthetic test names used when compilation fails before any test runs.
const (
	TestMainCompilation = "MAIN_COMPILATION"
	TestTestCompilation = "TEST_COMPILATION"
	TestCompilation     = "Compilation"
	testExecution       = "Execution"
)

// ParseTestResults decodes a test-results.json payload written by the
// in-container test listener.
func ParseTestResults(data []byte) ([]TestOutcome, error) {
	var outcomes []TestOutcome
	if err := json.Unmarshal(data, &outcomes); err != nil {
		return nil, fmt.Errorf("parse test results: %w", err)
	}
	return outcomes, nil
}

// Aggregate computes the pass verdict and percent score for a list of
// outcomes. An empty list never passes and scores zero.
func Aggregate(outcomes []TestOutcome) (passed bool, score int) {
	total := len(outcomes)
	if total == 0 {
		return false, 0
	}
	ok := 0
	for _, o := range outcomes {
		if o.Status == StatusSuccessful {
			ok++
		}
	}
	return ok == total, 100 * ok / total
}

// compilationFailure builds the synthetic single-outcome result that
// bypasses test output when a compile stage failed.
func compilationFailure(test, diagnostics string) *AssignmentResult {
	return &AssignmentResult{
		Output: diagnostics,
		TestResults: []TestOutcome{{
			Test:      test,
			Status:    StatusFailed,
			Exception: diagnostics,
		}},
		TestsPassed: false,
		Score:       0,
	}
}

// timeoutResult classifies a wall-clock-exceeded assignment run.
func timeoutResult(captured string) *AssignmentResult {
	return &AssignmentResult{
		Output: captured,
		TestResults: []TestOutcome{{
			Test:      testExecution,
			Status:    StatusAborted,
			Exception: "wall clock limit exceeded",
		}},
		TestsPassed: false,
		Score:       0,
	}
}
