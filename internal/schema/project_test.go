package schema

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validProject() *Project {
	now := time.Now()
	return &Project{
		ID:        "proj-001",
		Name:      "Harbor Tower",
		Status:    "active",
		Type:      "commercial",
		Budget:    2500000,
		Owner:     "alice",
		Team:      []string{"alice", "bob"},
		Tags:      []string{"bim", "priority"},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Project)
		wantErr bool
	}{
		{
			name:    "valid project",
			mutate:  func(p *Project) {},
			wantErr: false,
		},
		{
			name:    "missing id",
			mutate:  func(p *Project) { p.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing name",
			mutate:  func(p *Project) { p.Name = "" },
			wantErr: true,
		},
		{
			name: "name too long",
			mutate: func(p *Project) {
				for len(p.Name) <= 500 {
					p.Name += "x"
				}
			},
			wantErr: true,
		},
		{
			name:    "missing status",
			mutate:  func(p *Project) { p.Status = "" },
			wantErr: true,
		},
		{
			name:    "missing type",
			mutate:  func(p *Project) { p.Type = "" },
			wantErr: true,
		},
		{
			name:    "negative budget",
			mutate:  func(p *Project) { p.Budget = -1 },
			wantErr: true,
		},
		{
			name: "end before start",
			mutate: func(p *Project) {
				start := time.Now()
				end := start.Add(-24 * time.Hour)
				p.StartDate = &start
				p.EndDate = &end
			},
			wantErr: true,
		},
		{
			name:    "missing created_at",
			mutate:  func(p *Project) { p.CreatedAt = time.Time{} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProject()
			tt.mutate(p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetDefaults(t *testing.T) {
	p := &Project{ID: "proj-002", Name: "Riverside Flats"}
	p.SetDefaults()

	if p.Status != "planning" {
		t.Errorf("expected default status planning, got %s", p.Status)
	}
	if p.Type != "commercial" {
		t.Errorf("expected default type commercial, got %s", p.Type)
	}
	if p.SyncState != SyncPending {
		t.Errorf("expected default sync state %s, got %s", SyncPending, p.SyncState)
	}
	if p.Team == nil || p.Tags == nil {
		t.Error("expected team and tags to be initialized")
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestClone(t *testing.T) {
	p := validProject()
	start := time.Now()
	p.StartDate = &start

	c := p.Clone()
	c.Team[0] = "mallory"
	c.Tags = append(c.Tags, "extra")
	*c.StartDate = start.Add(time.Hour)

	if p.Team[0] != "alice" {
		t.Error("clone aliases Team slice")
	}
	if len(p.Tags) != 2 {
		t.Error("clone aliases Tags slice")
	}
	if !p.StartDate.Equal(start) {
		t.Error("clone aliases StartDate")
	}
}

func TestIsLocalID(t *testing.T) {
	p := validProject()
	if p.IsLocalID() {
		t.Error("proj-001 should not be a local id")
	}
	p.ID = LocalIDPrefix + "abc123"
	if !p.IsLocalID() {
		t.Error("local- prefixed id should be local")
	}
}

func TestReadWriteProjectFile(t *testing.T) {
	dir := t.TempDir()
	p := validProject()

	if err := WriteProjectFile(dir, p); err != nil {
		t.Fatalf("WriteProjectFile failed: %v", err)
	}

	got, err := ReadProjectFile(filepath.Join(dir, p.Filename()))
	if err != nil {
		t.Fatalf("ReadProjectFile failed: %v", err)
	}

	if got.ID != p.ID || got.Name != p.Name || got.Version != p.Version {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestReadProjectFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadProjectFile(path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestReadAllProjectFiles(t *testing.T) {
	dir := t.TempDir()

	for _, id := range []string{"proj-a", "proj-b"} {
		p := validProject()
		p.ID = id
		if err := WriteProjectFile(dir, p); err != nil {
			t.Fatal(err)
		}
	}

	// An invalid file should be skipped, not fail the whole read.
	if err := os.WriteFile(filepath.Join(dir, "junk.json"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	// Non-JSON files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# readme"), 0644); err != nil {
		t.Fatal(err)
	}

	projects, err := ReadAllProjectFiles(dir)
	if err != nil {
		t.Fatalf("ReadAllProjectFiles failed: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("expected 2 projects, got %d", len(projects))
	}
}

func TestReadAllProjectFilesMissingDir(t *testing.T) {
	projects, err := ReadAllProjectFiles(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("expected nil error for missing dir, got %v", err)
	}
	if len(projects) != 0 {
		t.Errorf("expected empty slice, got %d", len(projects))
	}
}

func TestPatchApply(t *testing.T) {
	p := validProject()
	name := "Harbor Tower Phase II"
	budget := 3000000.0

	patch := &Patch{
		Name:   &name,
		Budget: &budget,
		Tags:   []string{"phase2"},
	}
	patch.Apply(p)

	if p.Name != name {
		t.Errorf("expected name %q, got %q", name, p.Name)
	}
	if p.Budget != budget {
		t.Errorf("expected budget %f, got %f", budget, p.Budget)
	}
	if len(p.Tags) != 1 || p.Tags[0] != "phase2" {
		t.Errorf("expected tags replaced, got %v", p.Tags)
	}
	// Untouched fields stay put.
	if p.Status != "active" || p.Owner != "alice" {
		t.Error("patch modified fields it should not have")
	}
}

func TestPatchIsEmpty(t *testing.T) {
	if !(&Patch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	s := "active"
	if (&Patch{Status: &s}).IsEmpty() {
		t.Error("patch with status should not be empty")
	}
}
