package aggregator

import (
	"math"
	"testing"

	"github.com/jenian/iswith/internal/model"
)

func usage(refs map[string]int, order ...string) model.UsageSet {
	var us model.UsageSet
	for _, name := range order {
		for i := 0; i < refs[name]; i++ {
			us.Observe(name, "uses "+name)
		}
	}
	return us
}

func TestAggregate_SilentRunsCount(t *testing.T) {
	sets := []model.UsageSet{
		usage(map[string]int{"env": 1}, "env"),
		usage(map[string]int{"env": 3, "region": 1}, "env", "region"),
		usage(map[string]int{"region": 2}, "region"),
	}

	stats := Aggregate(sets, 5)
	if len(stats) != 2 {
		t.Fatalf("Expected 2 statistics, got %d", len(stats))
	}

	var env model.InputStatistic
	for _, s := range stats {
		if s.Name == "env" {
			env = s
		}
	}
	if math.Abs(env.Frequency-0.4) > 1e-9 {
		t.Errorf("Expected frequency 0.4, got %v", env.Frequency)
	}
	if env.TotalUsage != 4 {
		t.Errorf("Expected total usage 4, got %d", env.TotalUsage)
	}
	if env.RunsFound != 2 {
		t.Errorf("Expected runs found 2, got %d", env.RunsFound)
	}
}

func TestAggregate_RankingIsStable(t *testing.T) {
	sets := []model.UsageSet{
		usage(map[string]int{"b": 1, "a": 1}, "b", "a"),
		usage(map[string]int{"c": 1, "a": 1}, "c", "a"),
	}
	stats := Aggregate(sets, 2)
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if stats[i].Name != name {
			t.Errorf("rank %d = %s, want %s", i, stats[i].Name, name)
		}
	}
}

func TestAggregate_ExamplesDedupedAndCapped(t *testing.T) {
	var first, second model.UsageSet
	first.Observe("foo", "line one")
	first.Observe("foo", "line two")
	second.Observe("foo", "line one")
	second.Observe("foo", "line three")

	stats := Aggregate([]model.UsageSet{first, second}, 2)
	got := stats[0].Examples
	if len(got) != MaxExamples || got[0] != "line one" || got[1] != "line two" {
		t.Errorf("Expected [line one, line two], got %v", got)
	}
}

func TestAggregate_EmptyBatch(t *testing.T) {
	stats := Aggregate(nil, 0)
	if stats == nil || len(stats) != 0 {
		t.Errorf("Expected an empty, non-nil list, got %#v", stats)
	}
	stats = Aggregate([]model.UsageSet{{}, {}}, 4)
	if len(stats) != 0 {
		t.Errorf("Expected no statistics from silent runs, got %v", stats)
	}
}

func TestAggregate_UnderCountedRunsClamped(t *testing.T) {
	sets := []model.UsageSet{
		usage(map[string]int{"x": 1}, "x"),
		usage(map[string]int{"x": 1}, "x"),
	}
	stats := Aggregate(sets, 1)
	if stats[0].Frequency != 1 {
		t.Errorf("Expected frequency clamped to 1, got %v", stats[0].Frequency)
	}
}

func TestAggregator_Incremental(t *testing.T) {
	a := New()
	a.Add(usage(map[string]int{"env": 2}, "env"))
	a.Skip()
	a.Skip()
	a.Add(usage(map[string]int{"env": 1}, "env"))

	if a.RunsConsidered() != 4 {
		t.Fatalf("Expected 4 runs considered, got %d", a.RunsConsidered())
	}
	stats := a.Statistics()
	if stats[0].Frequency != 0.5 || stats[0].TotalUsage != 3 {
		t.Errorf("Unexpected statistic %+v", stats[0])
	}
}

func TestAggregateValues(t *testing.T) {
	run1 := model.NewRunInputSet()
	run1.Put(model.ExtractedInput{Name: "ref", Value: "main"})
	run2 := model.NewRunInputSet()
	run2.Put(model.ExtractedInput{Name: "ref", Value: "dev"})
	run2.Put(model.ExtractedInput{Name: "PAYLOAD", Value: "{}"})

	stats := AggregateValues([]*model.RunInputSet{run1, run2}, 3)
	if len(stats) != 2 {
		t.Fatalf("Expected 2 statistics, got %v", stats)
	}
	if stats[0].Name != "ref" || stats[0].RunsFound != 2 {
		t.Errorf("Expected ref first with 2 runs, got %+v", stats[0])
	}
	if stats[0].Examples[0] != "ref: main" {
		t.Errorf("Expected value context, got %v", stats[0].Examples)
	}
	if stats[1].Name != "payload" {
		t.Errorf("Expected normalized payload, got %+v", stats[1])
	}
}
