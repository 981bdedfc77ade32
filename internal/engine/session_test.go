package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSession_Advance(t *testing.T) {
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	s := newSession("id", "p", now)

	if !s.advance(StateDiscovering, now) {
		t.Fatal("advance(DISCOVERING) = false")
	}
	if s.advance(StateInit, now) {
		t.Error("advance backwards succeeded")
	}
	if s.advance(StateDiscovering, now) {
		t.Error("advance to the same state succeeded")
	}
	s.advance(StateFailed, now)
	if s.advance(StateCompleted, now) {
		t.Error("terminal session advanced")
	}

	var got []string
	for _, tr := range s.Transitions {
		got = append(got, tr.State.String())
	}
	if want := "INIT,DISCOVERING,FAILED"; strings.Join(got, ",") != want {
		t.Errorf("transitions = %v, want %s", got, want)
	}
}

func TestSessionState_Text(t *testing.T) {
	for s := StateInit; s <= StateFailed; s++ {
		text, _ := s.MarshalText()
		var back SessionState
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s) error = %v", text, err)
		}
		if back != s {
			t.Errorf("round trip of %s = %s", s, back)
		}
	}
	var s SessionState
	if err := s.UnmarshalText([]byte("PAUSED")); err == nil {
		t.Error("UnmarshalText(PAUSED) succeeded")
	}
}

func TestSession_Summarize(t *testing.T) {
	s := newSession("id", "p", time.Time{})
	s.Records = []*FileRecord{
		{Path: "/a", Size: 10, Tiers: NewTierSet(TierCritical)},
		{Path: "/b", Size: 20, Tiers: NewTierSet(TierStandard)},
		{Path: "/c", Size: 30, Tiers: NewTierSet(TierSensitive)},
		{Path: "/d", Size: 40, Tiers: NewTierSet(TierStandard)},
	}
	s.Outcomes = []Outcome{
		{Path: "/a", Backend: KindAWS, Result: ResultSuccess, StoredBytes: 8, Verified: true},
		{Path: "/a", Backend: KindLocal, Result: ResultSkipped, Reason: SkipUnchanged},
		{Path: "/b", Backend: KindAWS, Result: ResultFailed},
		{Path: "/c", Result: ResultSkipped, Reason: SkipUnrouted},
		{Path: "/d", Backend: KindAWS, Result: ResultSkipped, Reason: SkipCancelled},
	}
	s.summarize()

	want := Counts{
		Files:       4,
		Uploaded:    1,
		Skipped:     2,
		Unrouted:    1,
		Cancelled:   1,
		Failed:      1,
		FilesFailed: 1,
		Verified:    1,
		TotalBytes:  100,
		StoredBytes: 8,
	}
	if s.Counts != want {
		t.Errorf("Counts = %+v, want %+v", s.Counts, want)
	}

	statuses := map[string]FileStatus{"/a": FileUploaded, "/b": FileFailed, "/c": FileUnrouted, "/d": FileCancelled}
	for _, rec := range s.Records {
		if rec.Status != statuses[rec.Path] {
			t.Errorf("status of %s = %s, want %s", rec.Path, rec.Status, statuses[rec.Path])
		}
	}
	if aws := s.BackendResults[KindAWS]; aws.Uploaded != 1 || aws.Failed != 1 || aws.BytesSent != 8 {
		t.Errorf("aws result = %+v", aws)
	}

	got := strings.Join(s.TiersCompleted(), ",")
	if got != "sensitive,critical" {
		t.Errorf("TiersCompleted() = %s, want sensitive,critical", got)
	}
}

func TestNewErrorRecord(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"corruption", &PreconditionError{Reason: "manifest", Err: &ManifestCorruptionError{Err: errors.New("bad")}}, KindManifestCorruption},
		{"precondition", &PreconditionError{Reason: "no enabled storage targets"}, KindPrecondition},
		{"discovery", &DiscoveryError{Path: "/x", Err: errors.New("denied")}, KindDiscovery},
		{"routing", &RoutingWarning{Path: "/x"}, KindRouting},
		{"unavailable", &BackendUnavailableError{Kind: KindAWS, Err: errors.New("down")}, KindBackendUnavailable},
		{"upload", &UploadError{Path: "/x", Kind: KindAWS, Attempts: 3, Err: errors.New("503")}, KindUpload},
		{"verify", &VerifyError{Path: "/x", Kind: KindLocal}, KindVerify},
		{"manifest write", &ManifestWriteError{Path: "/x", Err: errors.New("locked")}, KindManifestWrite},
		{"cancelled", fmt.Errorf("session cancelled: %w", context.Canceled), KindCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewErrorRecord(tt.err).Kind; got != tt.want {
				t.Errorf("Kind = %s, want %s", got, tt.want)
			}
		})
	}

	rec := NewErrorRecord(&UploadError{Path: "/x", Kind: KindAWS, Attempts: 3, Err: errors.New("503")})
	if rec.Path != "/x" || rec.Backend != KindAWS {
		t.Errorf("upload record = %+v", rec)
	}
}

type fixedIDs string

func (f fixedIDs) New() string { return string(f) }

func TestNewSessionID(t *testing.T) {
	now := time.Date(2026, 3, 1, 2, 3, 4, 0, time.UTC)
	got := NewSessionID(now, fixedIDs("0123456789abcdef"))
	if want := "backup-20260301-020304-01234567"; got != want {
		t.Errorf("NewSessionID() = %s, want %s", got, want)
	}
}
