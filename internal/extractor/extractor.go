// Package extractor mines whole logs for references to workflow inputs.
package extractor

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/jenian/iswith/internal/model"
	"github.com/jenian/iswith/internal/patterns"
)

// reference identifies one referenced token on a line. Rules that overlap
// (a templated reference is also a bare one) produce the same reference.
type reference struct {
	name   string
	offset int
}

// eachLine calls fn for every line of r without a length limit
func eachLine(r io.Reader, fn func(line string, lineNumber int)) error {
	br := bufio.NewReader(r)
	n := 0
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			n++
			fn(strings.TrimRight(line, "\r\n"), n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// references applies the pattern table to a line and collapses hits that
// name the same token. Reserved platform names are dropped.
func references(line string) []reference {
	hits := patterns.Match(line)
	if len(hits) == 0 {
		return nil
	}
	seen := make(map[reference]bool, len(hits))
	refs := make([]reference, 0, len(hits))
	for _, h := range hits {
		if patterns.Reserved(h.Raw) {
			continue
		}
		ref := reference{name: h.Name, offset: h.Offset}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// Usage counts every input reference in a log and keeps up to three
// context lines per name.
func Usage(r io.Reader) (model.UsageSet, error) {
	var usage model.UsageSet
	err := eachLine(r, func(line string, _ int) {
		for _, ref := range references(line) {
			usage.Observe(ref.name, line)
		}
	})
	return usage, err
}

// UsageString is Usage over an in-memory log
func UsageString(log string) model.UsageSet {
	usage, _ := Usage(strings.NewReader(log))
	return usage
}

// StepInputs returns the distinct input names referenced in step output,
// in the order they first appear.
func StepInputs(r io.Reader) ([]model.ExtractedInput, error) {
	var inputs []model.ExtractedInput
	seen := make(map[string]bool)
	err := eachLine(r, func(line string, lineNumber int) {
		for _, ref := range references(line) {
			if seen[ref.name] {
				continue
			}
			seen[ref.name] = true
			inputs = append(inputs, model.ExtractedInput{
				Name:       ref.name,
				Source:     model.SourceStepLogs,
				LineNumber: lineNumber,
			})
		}
	})
	return inputs, err
}
