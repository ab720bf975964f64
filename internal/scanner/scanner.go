// Package scanner finds the "Inputs" group a called workflow's runner prints
// in the setup section of a job log and reads the resolved values from it.
package scanner

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/jenian/iswith/internal/model"
	"github.com/jenian/iswith/internal/patterns"
)

const (
	// InputsMarker opens the Inputs group
	InputsMarker = "##[group] Inputs"
	// EndGroupMarker closes any group
	EndGroupMarker = "##[endgroup]"
)

var valueLineRe = regexp.MustCompile(`^` + patterns.TimestampExpr + `\s+(` + patterns.NameExpr + `)\s*:\s*(.*)$`)

type state int

const (
	outside state = iota
	insideInputs
	done
)

// Result is the outcome of scanning one job log
type Result struct {
	Inputs *model.RunInputSet
	// Found is false when the Inputs marker never appeared, which is the
	// normal outcome for jobs that trigger rather than receive inputs.
	Found bool
	// Closed is false when the log ended before the group was closed
	Closed bool
	Lines  int
}

// Scan reads a job log line by line and returns the inputs listed in its
// first Inputs group. Reading stops as soon as the group is closed.
func Scan(r io.Reader) (Result, error) {
	res := Result{Inputs: model.NewRunInputSet()}
	br := bufio.NewReader(r)
	st := outside

	for st != done {
		line, err := br.ReadString('\n')
		if line != "" {
			res.Lines++
			st = step(st, strings.TrimRight(line, "\r\n"), res.Lines, &res)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return res, err
		}
	}
	return res, nil
}

// ScanString is Scan over an in-memory log
func ScanString(log string) Result {
	res, _ := Scan(strings.NewReader(log))
	return res
}

func step(st state, line string, lineNumber int, res *Result) state {
	trimmed := strings.TrimSpace(line)
	switch st {
	case outside:
		if strings.Contains(trimmed, InputsMarker) {
			res.Found = true
			return insideInputs
		}
	case insideInputs:
		if strings.Contains(trimmed, EndGroupMarker) {
			res.Closed = true
			return done
		}
		// Lines that drift from the timestamp + name + colon shape are skipped
		m := valueLineRe.FindStringSubmatch(line)
		if m == nil {
			return st
		}
		res.Inputs.Put(model.ExtractedInput{
			Name:       m[1],
			Value:      strings.TrimSpace(m[2]),
			Source:     model.SourceInputsSection,
			LineNumber: lineNumber,
		})
	}
	return st
}
