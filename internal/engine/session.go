package engine

import (
	"fmt"
	"sync"
	"time"
)

// SessionState is a step of the session state machine.
type SessionState int

const (
	StateInit SessionState = iota
	StateDiscovering
	StateClassifying
	StateRouting
	StateUploading
	StateVerifying
	StateSummarizing
	StateCompleted
	StateCompletedWithErrors
	StateFailed
)

var stateNames = map[SessionState]string{
	StateInit:                "INIT",
	StateDiscovering:         "DISCOVERING",
	StateClassifying:         "CLASSIFYING",
	StateRouting:             "ROUTING",
	StateUploading:           "UPLOADING",
	StateVerifying:           "VERIFYING",
	StateSummarizing:         "SUMMARIZING",
	StateCompleted:           "COMPLETED",
	StateCompletedWithErrors: "COMPLETED_WITH_ERRORS",
	StateFailed:              "FAILED",
}

func (s SessionState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s >= StateCompleted
}

func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SessionState) UnmarshalText(text []byte) error {
	for k, v := range stateNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// OutcomeResult is the result of one (file, target) pair.
type OutcomeResult string

const (
	ResultSuccess OutcomeResult = "success"
	ResultFailed  OutcomeResult = "failed"
	ResultSkipped OutcomeResult = "skipped"
)

// SkipReason qualifies a skipped outcome.
type SkipReason string

const (
	SkipUnchanged SkipReason = "unchanged"
	SkipPresent   SkipReason = "present"
	SkipCancelled SkipReason = "cancelled"
	SkipUnrouted  SkipReason = "unrouted"
)

// Outcome records what happened to one file on one backend. Unrouted files
// get a single outcome with an empty Backend.
type Outcome struct {
	Path        string        `json:"path"`
	Backend     BackendKind   `json:"backend,omitempty"`
	Result      OutcomeResult `json:"result"`
	Reason      SkipReason    `json:"reason,omitempty"`
	RemoteID    string        `json:"remote_id,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	Encrypted   bool          `json:"encrypted,omitempty"`
	Verified    bool          `json:"verified,omitempty"`
	StoredBytes int64         `json:"stored_bytes,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// BackendResult aggregates outcomes for one backend kind.
type BackendResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Uploaded  int    `json:"uploaded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Verified  int    `json:"verified"`
	BytesSent int64  `json:"bytes_sent"`
}

// Counts holds aggregate session figures.
type Counts struct {
	Files       int   `json:"files"`
	Uploaded    int   `json:"uploaded"`
	Skipped     int   `json:"skipped"`
	Unrouted    int   `json:"unrouted"`
	Cancelled   int   `json:"cancelled"`
	Failed      int   `json:"failed"`
	FilesFailed int   `json:"files_failed"`
	Verified    int   `json:"verified"`
	Warnings    int   `json:"warnings"`
	TotalBytes  int64 `json:"total_size"`
	StoredBytes int64 `json:"stored_size"`
}

// StateChange is one entry of the session's transition log.
type StateChange struct {
	State SessionState `json:"state"`
	At    time.Time    `json:"at"`
}

// BackupSession is one end-to-end execution of a profile. It is mutated only
// by the orchestrator and must be treated as read-only once Run returns.
type BackupSession struct {
	ID        string
	Profile   string
	StartedAt time.Time
	EndedAt   time.Time
	State     SessionState

	Records        []*FileRecord
	Outcomes       []Outcome
	BackendResults map[BackendKind]*BackendResult
	Errors         []ErrorRecord
	Warnings       []ErrorRecord
	Transitions    []StateChange
	Counts         Counts

	// ManifestConsistent is false when successful uploads could not be
	// written to the manifest.
	ManifestConsistent bool

	mu sync.Mutex
}

func newSession(id, profile string, now time.Time) *BackupSession {
	return &BackupSession{
		ID:                 id,
		Profile:            profile,
		StartedAt:          now,
		State:              StateInit,
		BackendResults:     make(map[BackendKind]*BackendResult),
		Transitions:        []StateChange{{State: StateInit, At: now}},
		ManifestConsistent: true,
	}
}

// advance moves the session forward to s. Moves to an earlier or equal state
// are ignored, and a terminal session never changes again.
func (s *BackupSession) advance(to SessionState, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() || to <= s.State {
		return false
	}
	s.State = to
	s.Transitions = append(s.Transitions, StateChange{State: to, At: now})
	return true
}

// CurrentState returns the state under the session lock.
func (s *BackupSession) CurrentState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func (s *BackupSession) addRecord(rec *FileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, rec)
}

func (s *BackupSession) addOutcome(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outcomes = append(s.Outcomes, o)
}

func (s *BackupSession) addError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, NewErrorRecord(err))
}

func (s *BackupSession) addWarning(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Warnings = append(s.Warnings, NewErrorRecord(err))
}

// OutcomesFor returns the outcomes recorded for path.
func (s *BackupSession) OutcomesFor(path string) []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Path == path {
			out = append(out, o)
		}
	}
	return out
}

// TiersCompleted lists the tiers for which every routed pair succeeded or
// was skipped as current.
func (s *BackupSession) TiersCompleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := make(map[string]bool)
	for _, o := range s.Outcomes {
		if o.Result == ResultFailed {
			failed[o.Path] = true
		}
	}

	seen := make(map[Tier]bool)
	broken := make(map[Tier]bool)
	for _, rec := range s.Records {
		for _, t := range rec.Tiers.Tiers() {
			seen[t] = true
			if failed[rec.Path] || rec.Status == FileCancelled {
				broken[t] = true
			}
		}
	}

	var out []string
	for _, t := range []Tier{TierSensitive, TierCritical, TierStandard} {
		if seen[t] && !broken[t] {
			out = append(out, t.String())
		}
	}
	return out
}

// summarize computes counts, per-backend results and record statuses.
func (s *BackupSession) summarize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counts
	c.Files = len(s.Records)
	c.Warnings = len(s.Warnings)

	byPath := make(map[string][]Outcome, len(s.Records))
	for _, o := range s.Outcomes {
		byPath[o.Path] = append(byPath[o.Path], o)

		br := s.BackendResults[o.Backend]
		if br == nil {
			br = &BackendResult{}
			if o.Backend != "" {
				s.BackendResults[o.Backend] = br
			}
		}

		switch o.Result {
		case ResultSuccess:
			c.Uploaded++
			c.StoredBytes += o.StoredBytes
			br.Uploaded++
			br.BytesSent += o.StoredBytes
			if o.Verified {
				c.Verified++
				br.Verified++
			}
		case ResultFailed:
			c.Failed++
			br.Failed++
		case ResultSkipped:
			switch o.Reason {
			case SkipUnrouted:
				c.Unrouted++
			case SkipCancelled:
				c.Cancelled++
				c.Skipped++
				br.Skipped++
			default:
				c.Skipped++
				br.Skipped++
			}
		}
	}

	for _, rec := range s.Records {
		c.TotalBytes += rec.Size
		rec.Status = recordStatus(byPath[rec.Path])
		if rec.Status == FileFailed {
			c.FilesFailed++
		}
	}
	s.Counts = c
}

func recordStatus(outcomes []Outcome) FileStatus {
	if len(outcomes) == 0 {
		return FilePending
	}
	status := FileSkipped
	for _, o := range outcomes {
		switch {
		case o.Result == ResultFailed:
			return FileFailed
		case o.Result == ResultSuccess:
			status = FileUploaded
		case o.Reason == SkipUnrouted:
			return FileUnrouted
		case o.Reason == SkipCancelled && status == FileSkipped:
			status = FileCancelled
		}
	}
	return status
}
