package schema

import "time"

// Patch describes a partial update to a project. Nil fields are left
// untouched; non-nil fields overwrite the current value.
type Patch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Type        *string    `json:"type,omitempty"`
	Budget      *float64   `json:"budget,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Owner       *string    `json:"owner,omitempty"`
	Team        []string   `json:"team,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// Apply merges the patch into the project in place.
// Bookkeeping fields (version, timestamps, sync state) are not touched here;
// the store owns those.
func (patch *Patch) Apply(p *Project) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Type != nil {
		p.Type = *patch.Type
	}
	if patch.Budget != nil {
		p.Budget = *patch.Budget
	}
	if patch.StartDate != nil {
		t := *patch.StartDate
		p.StartDate = &t
	}
	if patch.EndDate != nil {
		t := *patch.EndDate
		p.EndDate = &t
	}
	if patch.Owner != nil {
		p.Owner = *patch.Owner
	}
	if patch.Team != nil {
		p.Team = append([]string(nil), patch.Team...)
	}
	if patch.Tags != nil {
		p.Tags = append([]string(nil), patch.Tags...)
	}
}

// IsEmpty reports whether the patch changes nothing.
func (patch *Patch) IsEmpty() bool {
	return patch.Name == nil &&
		patch.Description == nil &&
		patch.Status == nil &&
		patch.Type == nil &&
		patch.Budget == nil &&
		patch.StartDate == nil &&
		patch.EndDate == nil &&
		patch.Owner == nil &&
		patch.Team == nil &&
		patch.Tags == nil
}
