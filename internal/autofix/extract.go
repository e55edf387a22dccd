package autofix

import "fmt"

// FailureType classifies what kind of check produced a failure
type FailureType string

const (
	FailurePlaywright     FailureType = "playwright"
	FailureAccessibility  FailureType = "accessibility"
	FailurePerformance    FailureType = "performance"
	FailureLighthouseA11y FailureType = "lighthouse_accessibility"
	FailureConsole        FailureType = "console"
)

// Failure is one normalized test failure handed to the fix generator
type Failure struct {
	Type    FailureType `json:"type"`
	Test    string      `json:"test,omitempty"`
	Message string      `json:"message"`
	File    string      `json:"file,omitempty"`
}

// TestReport is the structured output of one test suite execution
type TestReport struct {
	Summary       Summary                  `json:"summary"`
	Playwright    []PlaywrightFailure      `json:"playwright,omitempty"`
	Accessibility []AccessibilityViolation `json:"accessibility,omitempty"`
	Lighthouse    *LighthouseScores        `json:"lighthouse,omitempty"`
	Console       []ConsoleError           `json:"console,omitempty"`
}

// Summary carries the pass/fail counts for one execution
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// PlaywrightFailure is a single failed browser test
type PlaywrightFailure struct {
	Test  string `json:"test"`
	Error string `json:"error"`
	File  string `json:"file,omitempty"`
}

// AccessibilityViolation is one axe-style rule violation
type AccessibilityViolation struct {
	ID          string `json:"id"`
	Impact      string `json:"impact,omitempty"`
	Description string `json:"description"`
}

// LighthouseScores holds the 0-100 category scores from a Lighthouse run
type LighthouseScores struct {
	Performance   int `json:"performance"`
	Accessibility int `json:"accessibility"`
}

// ConsoleError is one error-level browser console entry
type ConsoleError struct {
	Message string `json:"message"`
}

// Score floors below which a Lighthouse category counts as a failure.
const (
	minPerformanceScore   = 50
	minAccessibilityScore = 80
)

// ExtractFailures flattens a report into the normalized failure list the
// fix generator consumes. Lighthouse categories only count when they fall
// below their floors.
func ExtractFailures(report *TestReport) []Failure {
	var failures []Failure

	for _, f := range report.Playwright {
		failures = append(failures, Failure{
			Type:    FailurePlaywright,
			Test:    f.Test,
			Message: f.Error,
			File:    f.File,
		})
	}

	for _, v := range report.Accessibility {
		msg := v.Description
		if v.Impact != "" {
			msg = fmt.Sprintf("[%s] %s", v.Impact, v.Description)
		}
		failures = append(failures, Failure{
			Type:    FailureAccessibility,
			Test:    v.ID,
			Message: msg,
		})
	}

	if lh := report.Lighthouse; lh != nil {
		if lh.Performance < minPerformanceScore {
			failures = append(failures, Failure{
				Type:    FailurePerformance,
				Message: fmt.Sprintf("lighthouse performance score %d below %d", lh.Performance, minPerformanceScore),
			})
		}
		if lh.Accessibility < minAccessibilityScore {
			failures = append(failures, Failure{
				Type:    FailureLighthouseA11y,
				Message: fmt.Sprintf("lighthouse accessibility score %d below %d", lh.Accessibility, minAccessibilityScore),
			})
		}
	}

	for _, c := range report.Console {
		failures = append(failures, Failure{
			Type:    FailureConsole,
			Message: c.Message,
		})
	}

	return failures
}
