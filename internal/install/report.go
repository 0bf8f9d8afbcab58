// Package install implements the import pipeline: package loading and
// validation, collection/card/dashboard installation in dependency order,
// conflict resolution, permissions graph submission, and the final report.
package install

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mbmove/mbmove/internal/fileutil"
)

// Statuses of a report item.
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// ReportItem records the outcome of one entity install.
type ReportItem struct {
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	SourceID int    `json:"source_id"`
	TargetID *int   `json:"target_id,omitempty"`
	Name     string `json:"name"`
	Reason   string `json:"reason,omitempty"`
}

// Report tallies the outcomes of an import run.
type Report struct {
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Counts     map[string]int `json:"counts"`
	Items      []ReportItem   `json:"items"`
}

// NewReport starts an empty report stamped with the current time.
func NewReport() *Report {
	return &Report{
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Counts:    map[string]int{},
	}
}

// Add appends one outcome. targetID may be nil for failures and skips without
// a resolved target.
func (r *Report) Add(kind, status string, sourceID int, targetID *int, name, reason string) {
	r.Items = append(r.Items, ReportItem{
		Kind:     kind,
		Status:   status,
		SourceID: sourceID,
		TargetID: targetID,
		Name:     name,
		Reason:   reason,
	})
	r.Counts[status]++
}

// Failed returns the number of failed items.
func (r *Report) Failed() int { return r.Counts[StatusFailed] }

// Write finalizes the report and writes it into dir with a UTC timestamp in
// the filename. The written path is returned.
func (r *Report) Write(dir string) (string, error) {
	r.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	name := fmt.Sprintf("import_report_%s.json", time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := fileutil.WriteJSONFile(path, r); err != nil {
		return "", err
	}
	return path, nil
}
