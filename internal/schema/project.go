// Package schema provides the data structures for Slate360 projects.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sync states track where a project stands relative to the remote authority.
// They are local bookkeeping only and are never sent upstream.
const (
	// SyncPending means the project has local mutations not yet confirmed
	// by the remote authority.
	SyncPending = "pending"

	// SyncSynced means the remote authority has confirmed the project's
	// current state.
	SyncSynced = "synced"

	// SyncFailed means automatic reconciliation was abandoned for this
	// project. The project is never deleted; a manual retry re-enqueues it.
	SyncFailed = "sync-failed"
)

// LocalIDPrefix marks ids assigned locally before the remote authority has
// confirmed a create. The server may replace the id with a canonical one.
const LocalIDPrefix = "local-"

// Project represents a Slate360 project record.
//
// The structure is flat and JSON-friendly so each project can round-trip
// through the local store, the sync queue payload, import files, and the
// remote API without translation layers.
type Project struct {
	// ===== Core Identification =====
	ID string `json:"id"`

	// ===== Content =====
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"` // planning, active, on-hold, completed, archived
	Type        string `json:"type"`   // commercial, residential, industrial, infrastructure

	// ===== Budget & Timeline =====
	Budget    float64    `json:"budget,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// ===== Ownership =====
	Owner string   `json:"owner,omitempty"`
	Team  []string `json:"team,omitempty"`

	// ===== Tags & Classification =====
	Tags []string `json:"tags,omitempty"`

	// ===== Bookkeeping =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version strictly increases on every committed mutation, local or
	// remote. A mutation targeting a stale version is a conflict.
	Version int64 `json:"version"`

	// SyncState is local-only status relative to the remote authority.
	SyncState string `json:"sync_state,omitempty"`
}

// Validate checks if the Project has valid field values.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Name) > 500 {
		return fmt.Errorf("name must be 500 characters or less (got %d)", len(p.Name))
	}
	if p.Status == "" {
		return fmt.Errorf("status is required")
	}
	if p.Type == "" {
		return fmt.Errorf("type is required")
	}
	if p.Budget < 0 {
		return fmt.Errorf("budget cannot be negative (got %f)", p.Budget)
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return fmt.Errorf("end_date cannot precede start_date")
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if p.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
// This ensures consistent behavior when fields are omitted.
func (p *Project) SetDefaults() {
	if p.Status == "" {
		p.Status = "planning"
	}
	if p.Type == "" {
		p.Type = "commercial"
	}
	if p.Team == nil {
		p.Team = []string{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.SyncState == "" {
		p.SyncState = SyncPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
}

// Clone returns a deep copy of the project.
// Slices are copied so mutating the clone never aliases the original.
func (p *Project) Clone() *Project {
	c := *p
	if p.Team != nil {
		c.Team = append([]string(nil), p.Team...)
	}
	if p.Tags != nil {
		c.Tags = append([]string(nil), p.Tags...)
	}
	if p.StartDate != nil {
		t := *p.StartDate
		c.StartDate = &t
	}
	if p.EndDate != nil {
		t := *p.EndDate
		c.EndDate = &t
	}
	return &c
}

// IsLocalID reports whether the project id was assigned locally and is
// still awaiting a canonical id from the remote authority.
func (p *Project) IsLocalID() bool {
	return strings.HasPrefix(p.ID, LocalIDPrefix)
}

// Filename returns the canonical filename for this project: {id}.json
func (p *Project) Filename() string {
	return fmt.Sprintf("%s.json", p.ID)
}

// ReadProjectFile reads and parses a project JSON file from the given path.
// Returns the parsed Project or an error if reading/parsing fails.
func ReadProjectFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file %s: %w", path, err)
	}

	var proj Project
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
	}

	proj.SetDefaults()
	if err := proj.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project file %s: %w", path, err)
	}

	return &proj, nil
}

// WriteProjectFile writes a Project to disk as JSON.
// The file is written to dir/{id}.json with pretty-printed formatting.
func WriteProjectFile(dir string, proj *Project) error {
	if err := proj.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid project: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create projects directory: %w", err)
	}

	data, err := json.MarshalIndent(proj, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", proj.ID, err)
	}

	path := filepath.Join(dir, proj.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write project file %s: %w", path, err)
	}

	return nil
}

// ReadAllProjectFiles reads all project files from the given directory.
// Invalid files are skipped with a warning to stderr.
func ReadAllProjectFiles(dir string) ([]*Project, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Project{}, nil // Empty directory is valid
		}
		return nil, fmt.Errorf("failed to read projects directory: %w", err)
	}

	var projects []*Project
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		proj, err := ReadProjectFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid project file %s: %v\n", entry.Name(), err)
			continue
		}

		projects = append(projects, proj)
	}

	return projects, nil
}
