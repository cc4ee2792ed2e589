package pipeline

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/leadwatch/internal/extract"
	"github.com/linnemanlabs/leadwatch/internal/lead"
)

// Persist outcomes reported through Hooks.OnPersist.
const (
	PersistInserted  = "inserted"
	PersistDuplicate = "duplicate"
	PersistFailed    = "failed"
)

// Report is the outcome of one pipeline run. Events holds every classified
// event whatever happened during persistence.
type Report struct {
	ID                 string         `json:"id"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
	Sources            []SourceReport `json:"sources"`
	Events             []lead.Event   `json:"events"`
	Persist            PersistStats   `json:"persist"`
	PersistenceEnabled bool           `json:"persistence_enabled"`

	// Error is set when the fetch session could not be opened.
	Error string `json:"error,omitempty"`
}

// SourceReport is the outcome for one source.
type SourceReport struct {
	Name     string         `json:"name"`
	Elements int            `json:"elements"`
	Articles int            `json:"articles"`
	Matched  int            `json:"matched"`
	Skipped  []extract.Skip `json:"skipped,omitempty"`
	Error    string         `json:"error,omitempty"`

	Err error `json:"-"`
}

// PersistStats counts per-record persistence outcomes.
type PersistStats struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedSources counts sources whose fetch failed.
func (r *Report) FailedSources() int {
	n := 0
	for i := range r.Sources {
		if r.Sources[i].Err != nil || r.Sources[i].Error != "" {
			n++
		}
	}
	return n
}

// Summary is a one-line human description of the run.
func (r *Report) Summary() string {
	if !r.PersistenceEnabled {
		return fmt.Sprintf("run %s: %d sources (%d failed), %d events, persistence disabled",
			r.ID, len(r.Sources), r.FailedSources(), len(r.Events))
	}
	return fmt.Sprintf("run %s: %d sources (%d failed), %d events, %d new, %d duplicate, %d failed to save",
		r.ID, len(r.Sources), r.FailedSources(), len(r.Events),
		r.Persist.Inserted, r.Persist.Duplicates, r.Persist.Failed)
}
