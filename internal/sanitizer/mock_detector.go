package sanitizer

import (
	"fmt"
	"strings"

	"github.com/zricethezav/gitleaks/v8/report"
)

// MockDetector is a mock implementation of the Detector interface for testing
type MockDetector struct {
	findings []report.Finding
}

// NewMockDetector creates a new mock detector with the provided findings
func NewMockDetector(findings []report.Finding) *MockDetector {
	return &MockDetector{
		findings: findings,
	}
}

// DetectString returns the mock findings whose match occurs in content,
// positioned on the log line where it first occurs.
func (m *MockDetector) DetectString(content string) []report.Finding {
	var found []report.Finding
	for _, f := range m.findings {
		i := strings.Index(content, f.Match)
		if f.Match == "" || i < 0 {
			continue
		}
		line := strings.Count(content[:i], "\n") + 1
		column := i - (strings.LastIndexByte(content[:i], '\n') + 1) + 1

		f.StartLine, f.EndLine = line, line
		f.StartColumn, f.EndColumn = column, column+len(f.Match)-1
		f.Fingerprint = fmt.Sprintf("%s:%s:%d", f.File, f.RuleID, line)
		found = append(found, f)
	}
	return found
}

// MockFinding creates a mock finding for testing
func MockFinding(ruleID, description, match, secret string) report.Finding {
	return report.Finding{
		RuleID:      ruleID,
		Description: description,
		Match:       match,
		Secret:      secret,
		Entropy:     4.5,
		Tags:        []string{"test"},
	}
}
