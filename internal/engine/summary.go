package engine

import (
	"time"
)

// Summary is the machine-readable record of a finished session. It is the
// artifact status displays and alerting consume.
type Summary struct {
	BackupID           string                         `json:"backup_id"`
	Profile            string                         `json:"profile"`
	State              string                         `json:"state"`
	StartedAt          time.Time                      `json:"started_at"`
	EndedAt            time.Time                      `json:"ended_at"`
	DurationSeconds    float64                        `json:"duration_seconds"`
	FilesProcessed     int                            `json:"files_processed"`
	FilesFailed        int                            `json:"files_failed"`
	TiersCompleted     []string                       `json:"tiers_completed"`
	Counts             Counts                         `json:"counts"`
	Backends           map[BackendKind]*BackendResult `json:"backends"`
	ManifestConsistent bool                           `json:"manifest_consistent"`
	Files              []Outcome                      `json:"files"`
	Errors             []ErrorRecord                  `json:"errors"`
	Warnings           []ErrorRecord                  `json:"warnings"`
	Transitions        []StateChange                  `json:"transitions"`
}

// SummarySink persists session summaries.
type SummarySink interface {
	WriteSummary(summary *Summary) error
}

// NewSummary builds the summary of a finished session.
func NewSummary(s *BackupSession) *Summary {
	tiers := s.TiersCompleted()

	s.mu.Lock()
	defer s.mu.Unlock()

	sum := &Summary{
		BackupID:           s.ID,
		Profile:            s.Profile,
		State:              s.State.String(),
		StartedAt:          s.StartedAt,
		EndedAt:            s.EndedAt,
		DurationSeconds:    s.EndedAt.Sub(s.StartedAt).Seconds(),
		FilesProcessed:     s.Counts.Files,
		FilesFailed:        s.Counts.FilesFailed,
		TiersCompleted:     tiers,
		Counts:             s.Counts,
		Backends:           make(map[BackendKind]*BackendResult, len(s.BackendResults)),
		ManifestConsistent: s.ManifestConsistent,
		Files:              append([]Outcome{}, s.Outcomes...),
		Errors:             append([]ErrorRecord{}, s.Errors...),
		Warnings:           append([]ErrorRecord{}, s.Warnings...),
		Transitions:        append([]StateChange{}, s.Transitions...),
	}
	if sum.TiersCompleted == nil {
		sum.TiersCompleted = []string{}
	}
	for k, v := range s.BackendResults {
		cp := *v
		sum.Backends[k] = &cp
	}
	return sum
}
