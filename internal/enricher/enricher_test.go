package enricher

import (
	"reflect"
	"testing"

	"github.com/jenian/iswith/internal/model"
)

func TestEnrich(t *testing.T) {
	stats := []model.InputStatistic{
		{Name: "environment", TotalUsage: 5, RunsFound: 5, Frequency: 1},
		{Name: "debug", TotalUsage: 1, RunsFound: 1, Frequency: 0.2},
	}
	declared := []model.WorkflowInput{
		{Name: "Environment", Type: "choice", Options: []string{"dev", "prod"}},
		{Name: "dry_run", Type: "boolean"},
	}

	entries := Enrich(stats, declared)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	if entries[0].Declared == nil || entries[0].Declared.Type != "choice" {
		t.Errorf("Expected environment to be joined case-insensitively, got %+v", entries[0].Declared)
	}
	if entries[1].Declared != nil {
		t.Errorf("Expected debug to be undeclared, got %+v", entries[1].Declared)
	}
	if entries[2].Name != "dry_run" || entries[2].Frequency != 0 || entries[2].Observed() {
		t.Errorf("Expected declared-but-unseen dry_run last with zero usage, got %+v", entries[2])
	}

	if got := Undeclared(entries); !reflect.DeepEqual(got, []string{"debug"}) {
		t.Errorf("Undeclared() = %v, want [debug]", got)
	}
}

func TestEnrich_NoDeclarations(t *testing.T) {
	stats := []model.InputStatistic{{Name: "a", RunsFound: 1, Frequency: 1}}
	entries := Enrich(stats, nil)
	if len(entries) != 1 || entries[0].Declared != nil {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}

func TestEnrich_Empty(t *testing.T) {
	if entries := Enrich(nil, nil); len(entries) != 0 {
		t.Errorf("Expected no entries, got %+v", entries)
	}
}

func TestEnrich_DeclarationsAreCopies(t *testing.T) {
	declared := []model.WorkflowInput{{Name: "a"}}
	entries := Enrich(nil, declared)
	declared[0].Type = "changed"
	if entries[0].Declared.Type != "" {
		t.Error("Expected the entry to hold its own copy of the declaration")
	}
}
