// Package migrate implements JSONL export and import of the project store.
//
// Export writes one JSON object per line, suitable for backups and for
// moving a workspace between machines. Import feeds records back through
// the mutation API so imported projects journal and sync like any other
// local create.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/slate360/slatesync/internal/projects"
	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/store"
)

// ExportResult contains statistics about an export run.
type ExportResult struct {
	ProjectsWritten int
	Path            string
}

// ImportOptions contains configuration for an import run.
type ImportOptions struct {
	DryRun bool // Preview without writing
	Backup bool // Copy the input file aside before importing
}

// ImportResult contains statistics about an import run.
type ImportResult struct {
	ProjectsImported int
	Skipped          int
	BackupCreated    string
	Errors           []string
}

// ReadJSONL reads a JSONL file and returns the parsed projects.
func ReadJSONL(path string) ([]*schema.Project, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	var out []*schema.Project
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		var p schema.Project
		if err := decoder.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum+1, err)
		}
		lineNum++

		p.SetDefaults()
		out = append(out, &p)
	}

	return out, nil
}

// Export writes every project in the store to a JSONL file, one object per
// line. The file is written atomically via a temp file.
func Export(ctx context.Context, db *store.DB, path string) (*ExportResult, error) {
	all, err := db.ListProjectsContext(ctx, store.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}

	w := bufio.NewWriter(file)
	encoder := json.NewEncoder(w)
	count := 0
	for _, p := range all {
		if err := encoder.Encode(p); err != nil {
			file.Close()
			_ = os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to encode project %s: %w", p.ID, err)
		}
		count++
	}

	if err := w.Flush(); err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to flush export file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename export file: %w", err)
	}

	return &ExportResult{ProjectsWritten: count, Path: path}, nil
}

// Import reads a JSONL file and creates each record through the mutation
// API. Records keep the id they were exported under (id-less records get a
// provisional local one) and sync like any other local create. Records
// whose id already exists in the store are skipped so re-running an import
// is safe.
func Import(ctx context.Context, m *projects.Manager, db *store.DB, path string, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := path + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	records, err := ReadJSONL(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	for i, p := range records {
		if p.ID != "" {
			_, err := db.GetProjectContext(ctx, p.ID)
			if err == nil {
				result.Skipped++
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to check existing project %s: %w", p.ID, err)
			}
		}

		if opts.DryRun {
			result.ProjectsImported++
			continue
		}

		if _, err := m.Create(ctx, p); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("record %d (%s): %v", i+1, p.Name, err))
			continue
		}
		result.ProjectsImported++
	}

	return result, nil
}
