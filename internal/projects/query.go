package projects

import (
	"sort"
	"strings"

	"github.com/slate360/slatesync/internal/schema"
)

// Query describes a pure in-memory projection over a set of projects.
// It never touches the store or the network; callers fetch a slice once and
// derive as many views from it as they need.
type Query struct {
	// Status keeps only projects with this status (empty = all).
	Status string
	// Type keeps only projects with this type (empty = all).
	Type string
	// Owner keeps only projects with this owner (empty = all).
	Owner string
	// Tag keeps only projects carrying this tag (empty = all).
	Tag string
	// Search keeps projects whose name or description contains this
	// substring, case-insensitive (empty = all).
	Search string
	// SyncState keeps only projects in this sync state (empty = all).
	SyncState string
	// SortBy orders the result: "name", "budget", "start", "updated"
	// (default: "updated", newest first).
	SortBy string
}

// Run filters and sorts the given projects. The input slice is not
// modified; the result shares the project pointers.
func (q Query) Run(all []*schema.Project) []*schema.Project {
	out := make([]*schema.Project, 0, len(all))
	for _, p := range all {
		if q.matches(p) {
			out = append(out, p)
		}
	}
	q.order(out)
	return out
}

func (q Query) matches(p *schema.Project) bool {
	if q.Status != "" && p.Status != q.Status {
		return false
	}
	if q.Type != "" && p.Type != q.Type {
		return false
	}
	if q.Owner != "" && p.Owner != q.Owner {
		return false
	}
	if q.SyncState != "" && p.SyncState != q.SyncState {
		return false
	}
	if q.Tag != "" && !containsFold(p.Tags, q.Tag) {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) {
			return false
		}
	}
	return true
}

func (q Query) order(out []*schema.Project) {
	switch q.SortBy {
	case "name":
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		})
	case "budget":
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Budget > out[j].Budget
		})
	case "start":
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].StartDate, out[j].StartDate
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return a.Before(*b)
			}
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		})
	}
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// Summary aggregates a set of projects for dashboards and CLI output.
type Summary struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	ByType      map[string]int `json:"by_type"`
	BySyncState map[string]int `json:"by_sync_state"`
	TotalBudget float64        `json:"total_budget"`
	Pending     int            `json:"pending"`
	Failed      int            `json:"failed"`
}

// Summarize computes aggregate counts over the given projects.
func Summarize(all []*schema.Project) Summary {
	s := Summary{
		ByStatus:    make(map[string]int),
		ByType:      make(map[string]int),
		BySyncState: make(map[string]int),
	}
	for _, p := range all {
		s.Total++
		s.ByStatus[p.Status]++
		s.ByType[p.Type]++
		s.BySyncState[p.SyncState]++
		s.TotalBudget += p.Budget
		switch p.SyncState {
		case schema.SyncPending:
			s.Pending++
		case schema.SyncFailed:
			s.Failed++
		}
	}
	return s
}
