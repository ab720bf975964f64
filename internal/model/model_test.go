package model

import (
	"fmt"
	"testing"
)

func TestRunInputSet_LastWriteWins(t *testing.T) {
	set := NewRunInputSet()
	set.Put(ExtractedInput{Name: "ref", Value: "main", LineNumber: 2})
	set.Put(ExtractedInput{Name: "branch", Value: "dev", LineNumber: 3})
	set.Put(ExtractedInput{Name: "REF", Value: "refs/pull/1/merge", LineNumber: 4})

	if set.Len() != 2 {
		t.Fatalf("Expected 2 inputs, got %d", set.Len())
	}
	inputs := set.Inputs()
	if inputs[0].Name != "REF" || inputs[0].Value != "refs/pull/1/merge" {
		t.Errorf("Expected overwritten ref in first position, got %+v", inputs[0])
	}
	if inputs[1].Name != "branch" {
		t.Errorf("Expected branch second, got %+v", inputs[1])
	}
	if _, ok := set.Get("Ref"); !ok {
		t.Error("Get should be case-insensitive")
	}
}

func TestRunInputSet_NilIsEmpty(t *testing.T) {
	var set *RunInputSet
	if set.Len() != 0 || set.Inputs() != nil {
		t.Error("nil set should behave as empty")
	}
}

func TestUsageSet_ContextsCapped(t *testing.T) {
	var us UsageSet
	for i := 0; i < 5; i++ {
		us.Observe("foo", fmt.Sprintf("line %d", i))
	}
	us.Observe("foo", "line 0")

	u, ok := us.Get("foo")
	if !ok {
		t.Fatal("Expected foo to be recorded")
	}
	if u.Count != 6 {
		t.Errorf("Expected count 6, got %d", u.Count)
	}
	if len(u.Contexts) != MaxContexts {
		t.Errorf("Expected %d contexts, got %d", MaxContexts, len(u.Contexts))
	}
}

func TestUsageSet_DuplicateContextsKeptOnce(t *testing.T) {
	var us UsageSet
	us.Observe("foo", "  echo ${{ inputs.foo }}  ")
	us.Observe("foo", "echo ${{ inputs.foo }}")
	u, _ := us.Get("foo")
	if len(u.Contexts) != 1 {
		t.Errorf("Expected 1 unique context, got %v", u.Contexts)
	}
}

func TestUsageSet_ReadableAsReturnedValue(t *testing.T) {
	observed := func() UsageSet {
		var us UsageSet
		us.Observe("foo", "echo ${{ inputs.foo }}")
		us.Observe("bar", "bar: 1")
		return us
	}

	if observed().Len() != 2 {
		t.Fatalf("Expected 2 names, got %d", observed().Len())
	}
	if items := observed().Items(); items[0].Name != "foo" || items[1].Name != "bar" {
		t.Errorf("Expected first-seen order, got %+v", items)
	}
	if _, ok := observed().Get("bar"); !ok {
		t.Error("Expected bar to be recorded")
	}
	if (UsageSet{}).Len() != 0 || len((UsageSet{}).Items()) != 0 {
		t.Error("Zero value should be empty")
	}
}

func TestRunInputSet_Usage(t *testing.T) {
	set := NewRunInputSet()
	set.Put(ExtractedInput{Name: "PAYLOAD", Value: "{}"})
	us := set.Usage()
	u, ok := us.Get("payload")
	if !ok {
		t.Fatal("Expected usage keyed by normalized name")
	}
	if u.Count != 1 || u.Contexts[0] != "PAYLOAD: {}" {
		t.Errorf("Unexpected usage: %+v", u)
	}
}

func TestParseRepository(t *testing.T) {
	tests := []struct {
		in      string
		want    Repository
		wantErr bool
	}{
		{in: "octo/repo", want: Repository{Owner: "octo", Name: "repo"}},
		{in: " octo/repo ", want: Repository{Owner: "octo", Name: "repo"}},
		{in: "octo", wantErr: true},
		{in: "/repo", wantErr: true},
		{in: "octo/repo/extra", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepository(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRepository(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRepository(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestHint(t *testing.T) {
	if Hint(fmt.Errorf("listing workflows: %w", ErrAuth)) == "" {
		t.Error("Expected a hint for auth errors")
	}
	if Hint(fmt.Errorf("boom")) != "" {
		t.Error("Expected no hint for unclassified errors")
	}
	if IsSkippable(fmt.Errorf("run 1: %w", ErrAuth)) {
		t.Error("Auth errors must not be skippable")
	}
	if !IsSkippable(fmt.Errorf("run 1: %w", ErrParse)) {
		t.Error("Parse errors should be skippable")
	}
}
