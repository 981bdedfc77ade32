package engine

import (
	"path/filepath"
	"strings"
	"time"
)

// Tier is a classification label that drives routing policy.
type Tier uint8

const (
	TierStandard Tier = 1 << iota
	TierSensitive
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierStandard:
		return "standard"
	case TierSensitive:
		return "sensitive"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseTier converts a tier label to a Tier.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return TierStandard, true
	case "sensitive":
		return TierSensitive, true
	case "critical":
		return TierCritical, true
	default:
		return 0, false
	}
}

// TierSet is a set of tiers. The zero value is empty.
type TierSet uint8

// NewTierSet builds a set from the given tiers.
func NewTierSet(tiers ...Tier) TierSet {
	var s TierSet
	for _, t := range tiers {
		s |= TierSet(t)
	}
	return s
}

func (s TierSet) Has(t Tier) bool { return s&TierSet(t) != 0 }

func (s TierSet) With(t Tier) TierSet { return s | TierSet(t) }

func (s TierSet) IsEmpty() bool { return s == 0 }

// Tiers returns the members in a stable order.
func (s TierSet) Tiers() []Tier {
	var out []Tier
	for _, t := range []Tier{TierSensitive, TierCritical, TierStandard} {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Strings returns the member labels in a stable order.
func (s TierSet) Strings() []string {
	tiers := s.Tiers()
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = t.String()
	}
	return out
}

func (s TierSet) String() string {
	return "{" + strings.Join(s.Strings(), ",") + "}"
}

// BackendKind identifies one of the closed set of storage backend variants.
type BackendKind string

const (
	KindLocal  BackendKind = "local"
	KindAWS    BackendKind = "aws"
	KindProton BackendKind = "proton"
)

// BackendKinds lists every kind in routing order.
var BackendKinds = []BackendKind{KindAWS, KindProton, KindLocal}

// ParseBackendKind validates a kind string.
func ParseBackendKind(s string) (BackendKind, bool) {
	k := BackendKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindLocal, KindAWS, KindProton:
		return k, true
	default:
		return "", false
	}
}

// PathRule selects files under Root. Patterns are matched against the
// slash-separated path relative to Root. Exclude always wins over Include.
type PathRule struct {
	Root    string
	Include []string
	Exclude []string
}

// DefaultInclude is applied when a PathRule has no include patterns.
var DefaultInclude = []string{"**/*"}

// IncludePatterns returns Include or DefaultInclude when Include is empty.
func (r PathRule) IncludePatterns() []string {
	if len(r.Include) == 0 {
		return DefaultInclude
	}
	return r.Include
}

// StorageTarget is one configured destination in a profile.
type StorageTarget struct {
	Kind    BackendKind
	Name    string
	Enabled bool

	// Workers bounds concurrent calls to this backend. Zero means the
	// orchestrator default.
	Workers int

	// RateLimit caps backend calls per second. Zero means unlimited.
	RateLimit float64

	// Encrypt forces encryption of every file sent to this target.
	Encrypt bool
}

// RoutingPolicy holds the configurable parts of the routing rules.
type RoutingPolicy struct {
	// SensitiveFallback is the kind used for sensitive files when no Proton
	// target is enabled. Empty means no fallback.
	SensitiveFallback BackendKind

	// EncryptSensitive encrypts sensitive files regardless of the target.
	EncryptSensitive bool
}

// Profile is a named backup configuration. It must not be mutated while a
// session is running.
type Profile struct {
	Name    string
	Paths   []PathRule
	Rules   *RuleSet
	Targets []StorageTarget
	Policy  RoutingPolicy
}

// EnabledTargets returns the enabled targets in configuration order.
func (p *Profile) EnabledTargets() []StorageTarget {
	var out []StorageTarget
	for _, t := range p.Targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// FileStatus is the aggregated state of a FileRecord across its targets.
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileUploaded  FileStatus = "uploaded"
	FileSkipped   FileStatus = "skipped"
	FileUnrouted  FileStatus = "unrouted"
	FileFailed    FileStatus = "failed"
	FileCancelled FileStatus = "cancelled"
)

// FileRecord describes one discovered file within a session. Tiers is set
// once at classification and never changed afterwards.
type FileRecord struct {
	Path        string
	ContentHash string
	Size        int64
	ModTime     time.Time
	Tiers       TierSet
	Status      FileStatus
}

// NormalizePath returns the identity key for a file path.
func NormalizePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Location records where one backend holds a file's content.
type Location struct {
	RemoteID    string    `json:"remote_id"`
	ContentHash string    `json:"content_hash"`
	BackedUpAt  time.Time `json:"backed_up_at"`
}

// ManifestEntry is the persisted backup state of a single path.
type ManifestEntry struct {
	Path           string                   `json:"path"`
	ContentHash    string                   `json:"content_hash"`
	LastBackedUpAt time.Time                `json:"last_backed_up_at"`
	Locations      map[BackendKind]Location `json:"backend_locations"`
}

// CurrentAt reports whether the entry holds contentHash on the given kind.
func (e *ManifestEntry) CurrentAt(kind BackendKind, contentHash string) bool {
	if e == nil {
		return false
	}
	loc, ok := e.Locations[kind]
	return ok && loc.ContentHash == contentHash
}

// Merge folds other into e. Locations from other replace those of the same
// kind; other kinds are kept. The top-level hash follows the newest write.
func (e *ManifestEntry) Merge(other *ManifestEntry) {
	if e.Locations == nil {
		e.Locations = make(map[BackendKind]Location, len(other.Locations))
	}
	for k, loc := range other.Locations {
		e.Locations[k] = loc
	}
	if !other.LastBackedUpAt.Before(e.LastBackedUpAt) {
		e.LastBackedUpAt = other.LastBackedUpAt
		e.ContentHash = other.ContentHash
	}
}
