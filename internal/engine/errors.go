package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind names a category of the error taxonomy as recorded in summaries.
type ErrorKind string

const (
	KindPrecondition       ErrorKind = "precondition"
	KindManifestCorruption ErrorKind = "manifest_corruption"
	KindDiscovery          ErrorKind = "discovery"
	KindRouting            ErrorKind = "routing"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindUpload             ErrorKind = "upload"
	KindVerify             ErrorKind = "verify"
	KindManifestWrite      ErrorKind = "manifest_write"
	KindCancelled          ErrorKind = "cancelled"
)

// PreconditionError aborts a session before any file is touched.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precondition failed: %s: %v", e.Reason, e.Err)
	}
	return "precondition failed: " + e.Reason
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// ManifestCorruptionError reports an unreadable or inconsistent manifest.
// It is always delivered wrapped in a PreconditionError.
type ManifestCorruptionError struct {
	Err error
}

func (e *ManifestCorruptionError) Error() string {
	return fmt.Sprintf("manifest corrupt or unreadable: %v", e.Err)
}

func (e *ManifestCorruptionError) Unwrap() error { return e.Err }

// DiscoveryError reports an unreadable subtree. Traversal continues past it.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed at %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// RoutingWarning marks a file that no enabled target accepts.
type RoutingWarning struct {
	Path  string
	Tiers TierSet
}

func (e *RoutingWarning) Error() string {
	return fmt.Sprintf("no enabled target for %s with tiers %s", e.Path, e.Tiers)
}

// BackendUnavailableError reports a backend that failed its healthcheck.
type BackendUnavailableError struct {
	Kind BackendKind
	Err  error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Kind, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// UploadError is a put that failed after all attempts.
type UploadError struct {
	Path     string
	Kind     BackendKind
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s to %s failed after %d attempt(s): %v", e.Path, e.Kind, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// VerifyError is a post-upload integrity check that did not pass.
type VerifyError struct {
	Path     string
	Kind     BackendKind
	RemoteID string
	Err      error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify of %s on %s (%s) failed: %v", e.Path, e.Kind, e.RemoteID, e.Err)
	}
	return fmt.Sprintf("verify of %s on %s (%s) failed: content mismatch", e.Path, e.Kind, e.RemoteID)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// ManifestWriteError is a manifest upsert that could not be persisted.
type ManifestWriteError struct {
	Path string
	Err  error
}

func (e *ManifestWriteError) Error() string {
	return fmt.Sprintf("manifest write for %s failed: %v", e.Path, e.Err)
}

func (e *ManifestWriteError) Unwrap() error { return e.Err }

// ErrCircuitOpen is returned for calls rejected by an open circuit breaker.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrorRecord is the serializable form of an error kept in a session.
type ErrorRecord struct {
	Kind    ErrorKind   `json:"kind"`
	Path    string      `json:"path,omitempty"`
	Backend BackendKind `json:"backend,omitempty"`
	Message string      `json:"message"`
}

// NewErrorRecord classifies err into the taxonomy.
func NewErrorRecord(err error) ErrorRecord {
	rec := ErrorRecord{Message: err.Error()}

	var (
		pre  *PreconditionError
		mc   *ManifestCorruptionError
		disc *DiscoveryError
		rw   *RoutingWarning
		bu   *BackendUnavailableError
		up   *UploadError
		ver  *VerifyError
		mw   *ManifestWriteError
	)
	switch {
	case errors.As(err, &mc):
		rec.Kind = KindManifestCorruption
	case errors.As(err, &pre):
		rec.Kind = KindPrecondition
	case errors.As(err, &disc):
		rec.Kind = KindDiscovery
		rec.Path = disc.Path
	case errors.As(err, &rw):
		rec.Kind = KindRouting
		rec.Path = rw.Path
	case errors.As(err, &ver):
		rec.Kind = KindVerify
		rec.Path = ver.Path
		rec.Backend = ver.Kind
	case errors.As(err, &up):
		rec.Kind = KindUpload
		rec.Path = up.Path
		rec.Backend = up.Kind
	case errors.As(err, &bu):
		rec.Kind = KindBackendUnavailable
		rec.Backend = bu.Kind
	case errors.As(err, &mw):
		rec.Kind = KindManifestWrite
		rec.Path = mw.Path
	case errors.Is(err, context.Canceled):
		rec.Kind = KindCancelled
	default:
		rec.Kind = KindUpload
	}
	return rec
}
