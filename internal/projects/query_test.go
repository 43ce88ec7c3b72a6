package projects

import (
	"testing"
	"time"

	"github.com/slate360/slatesync/internal/schema"
)

func queryFixture() []*schema.Project {
	t0 := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	return []*schema.Project{
		{
			ID: "p1", Name: "Harbor Tower", Description: "waterfront office",
			Status: "active", Type: "commercial", Owner: "alice",
			Budget: 500000, Tags: []string{"Waterfront", "priority"},
			StartDate: &t1, UpdatedAt: t1, SyncState: schema.SyncSynced,
		},
		{
			ID: "p2", Name: "Maple Homes", Description: "suburban build",
			Status: "planning", Type: "residential", Owner: "bob",
			Budget: 200000, Tags: []string{"suburbs"},
			StartDate: &t0, UpdatedAt: t2, SyncState: schema.SyncPending,
		},
		{
			ID: "p3", Name: "Harbor Bridge", Description: "span repair",
			Status: "active", Type: "infrastructure", Owner: "alice",
			Budget: 900000, UpdatedAt: t0, SyncState: schema.SyncFailed,
		},
	}
}

func ids(ps []*schema.Project) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestQueryFilters(t *testing.T) {
	all := queryFixture()

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"all, newest first", Query{}, []string{"p2", "p1", "p3"}},
		{"by status", Query{Status: "active"}, []string{"p1", "p3"}},
		{"by type", Query{Type: "residential"}, []string{"p2"}},
		{"by owner", Query{Owner: "alice"}, []string{"p1", "p3"}},
		{"by tag, case-insensitive", Query{Tag: "waterfront"}, []string{"p1"}},
		{"by sync state", Query{SyncState: schema.SyncFailed}, []string{"p3"}},
		{"search name", Query{Search: "harbor"}, []string{"p1", "p3"}},
		{"search description", Query{Search: "suburban"}, []string{"p2"}},
		{"combined", Query{Status: "active", Owner: "alice", Search: "bridge"}, []string{"p3"}},
		{"no match", Query{Status: "archived"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(tt.query.Run(all))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestQuerySorting(t *testing.T) {
	all := queryFixture()

	if got := ids(Query{SortBy: "name"}.Run(all)); got[0] != "p3" || got[1] != "p1" || got[2] != "p2" {
		t.Errorf("sort by name: %v", got)
	}
	if got := ids(Query{SortBy: "budget"}.Run(all)); got[0] != "p3" || got[2] != "p2" {
		t.Errorf("sort by budget (desc): %v", got)
	}
	// nil start dates sort last
	if got := ids(Query{SortBy: "start"}.Run(all)); got[0] != "p2" || got[2] != "p3" {
		t.Errorf("sort by start date: %v", got)
	}
}

func TestQueryDoesNotMutateInput(t *testing.T) {
	all := queryFixture()
	first := all[0].ID

	Query{SortBy: "budget"}.Run(all)

	if all[0].ID != first {
		t.Errorf("input slice reordered, first id now %s", all[0].ID)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(queryFixture())

	if s.Total != 3 {
		t.Errorf("total = %d", s.Total)
	}
	if s.ByStatus["active"] != 2 || s.ByStatus["planning"] != 1 {
		t.Errorf("by status = %v", s.ByStatus)
	}
	if s.TotalBudget != 1600000 {
		t.Errorf("total budget = %f", s.TotalBudget)
	}
	if s.Pending != 1 || s.Failed != 1 {
		t.Errorf("pending=%d failed=%d", s.Pending, s.Failed)
	}

	empty := Summarize(nil)
	if empty.Total != 0 || empty.TotalBudget != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}
