// Package aggregator combines per-run input usage into cross-run statistics.
package aggregator

import (
	"sort"

	"github.com/jenian/iswith/internal/model"
)

// MaxExamples caps the example contexts kept per input
const MaxExamples = 2

type entry struct {
	name      string
	total     int
	runsFound int
	examples  []string
}

// Aggregator reduces a batch of runs. Runs that failed or yielded nothing
// must still be reported through Skip so frequencies reflect every attempt.
// It is not safe for concurrent use.
type Aggregator struct {
	index      map[string]int
	entries    []*entry
	considered int
	added      int
}

// New creates an empty Aggregator
func New() *Aggregator {
	return &Aggregator{index: make(map[string]int)}
}

// Add records one run that produced data
func (a *Aggregator) Add(set model.UsageSet) {
	a.considered++
	a.added++
	for _, u := range set.Items() {
		i, ok := a.index[u.Name]
		if !ok {
			i = len(a.entries)
			a.index[u.Name] = i
			a.entries = append(a.entries, &entry{name: u.Name})
		}
		e := a.entries[i]
		e.total += u.Count
		e.runsFound++
		for _, c := range u.Contexts {
			e.addExample(c)
		}
	}
}

// Skip records one attempted run that contributed no inputs
func (a *Aggregator) Skip() {
	a.considered++
}

// RunsConsidered returns the number of attempted runs so far
func (a *Aggregator) RunsConsidered() int {
	return a.considered
}

func (e *entry) addExample(c string) {
	if len(e.examples) >= MaxExamples {
		return
	}
	for _, existing := range e.examples {
		if existing == c {
			return
		}
	}
	e.examples = append(e.examples, c)
}

// Statistics ranks the inputs by descending frequency; ties keep the order
// in which names were first seen.
func (a *Aggregator) Statistics() []model.InputStatistic {
	return a.statistics(a.considered)
}

func (a *Aggregator) statistics(runsConsidered int) []model.InputStatistic {
	if len(a.entries) == 0 {
		return []model.InputStatistic{}
	}
	// Frequency must stay within [0, 1] even if the caller under-counts
	runsConsidered = max(runsConsidered, a.added)

	stats := make([]model.InputStatistic, len(a.entries))
	for i, e := range a.entries {
		examples := make([]string, len(e.examples))
		copy(examples, e.examples)
		stats[i] = model.InputStatistic{
			Name:       e.name,
			TotalUsage: e.total,
			RunsFound:  e.runsFound,
			Frequency:  float64(e.runsFound) / float64(runsConsidered),
			Examples:   examples,
		}
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Frequency > stats[j].Frequency
	})
	return stats
}

// Aggregate is the one-shot form: runsConsidered is the number of attempted
// runs, including the ones missing from sets.
func Aggregate(sets []model.UsageSet, runsConsidered int) []model.InputStatistic {
	a := New()
	for _, s := range sets {
		a.Add(s)
	}
	return a.statistics(runsConsidered)
}

// AggregateValues aggregates value-mode results, one RunInputSet per run
func AggregateValues(sets []*model.RunInputSet, runsConsidered int) []model.InputStatistic {
	usage := make([]model.UsageSet, 0, len(sets))
	for _, s := range sets {
		usage = append(usage, s.Usage())
	}
	return Aggregate(usage, runsConsidered)
}
