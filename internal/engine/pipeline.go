package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/samber/lo"
)

// execute runs the streaming discovery pipeline, then waits for uploads and
// verifications to drain. Every discovered path is classified and routed
// before the next one is pulled from the walker.
func (r *sessionRun) execute(ctx context.Context) {
	o := r.o
	r.writer = newManifestWriter(o.manifest, o.logger)
	defer r.closeLanes()

	r.advance(StateDiscovering)

	seen := make(map[string]struct{})
discovery:
	for _, rule := range r.profile.Paths {
		for p, err := range o.fsmgr.Walk(ctx, rule) {
			if ctx.Err() != nil {
				break discovery
			}
			if err != nil {
				r.discoveryFailed(rule.Root, err)
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			r.process(ctx, p)
		}
	}
	if ctx.Err() != nil {
		o.logger.Warn("session cancelled, no further uploads will be dispatched", "session", r.sess.ID)
	}

	r.advance(StateClassifying)
	r.advance(StateRouting)
	r.advance(StateUploading)
	for _, l := range r.lanes {
		l.pool.Wait()
	}

	r.advance(StateVerifying)
	r.mu.Lock()
	verifies := r.verifies
	r.verifies = nil
	r.mu.Unlock()
	for _, v := range verifies {
		l := r.lanes[v.target.Kind]
		l.pool.Submit(func() { r.verify(ctx, l, v) })
	}
	for _, l := range r.lanes {
		l.pool.Wait()
	}

	// Cancellation at any point, including while pairs were queued, ends
	// the session with errors.
	if ctx.Err() != nil {
		r.sess.addError(fmt.Errorf("session cancelled: %w", ctx.Err()))
	}
}

func (r *sessionRun) discoveryFailed(root string, err error) {
	var de *DiscoveryError
	if !errors.As(err, &de) {
		err = &DiscoveryError{Path: root, Err: err}
	}
	r.o.logger.Warn("discovery error", "error", err)
	r.sess.addError(err)
}

// process builds, classifies and routes one file and dispatches its pairs.
func (r *sessionRun) process(ctx context.Context, path string) {
	o := r.o

	rec, err := r.newRecord(path)
	if err != nil {
		r.discoveryFailed(path, &DiscoveryError{Path: path, Err: err})
		return
	}

	r.advance(StateClassifying)
	rec.Tiers = Classify(rec.Path, r.profile.Rules)
	r.sess.addRecord(rec)

	r.advance(StateRouting)
	targets := Route(rec, r.enabled, r.profile.Policy)
	o.logger.Debug("file routed", "path", rec.Path, "tiers", rec.Tiers.String(),
		"targets", lo.Map(targets, func(t StorageTarget, _ int) string { return string(t.Kind) }))

	if len(targets) == 0 {
		w := &RoutingWarning{Path: rec.Path, Tiers: rec.Tiers}
		o.logger.Warn("file unrouted", "path", rec.Path, "tiers", rec.Tiers.String())
		r.sess.addWarning(w)
		r.sess.addOutcome(Outcome{Path: rec.Path, Result: ResultSkipped, Reason: SkipUnrouted, Error: w.Error()})
		return
	}

	entry, err := o.manifest.Lookup(rec.Path)
	if err != nil {
		o.logger.Warn("manifest lookup failed, treating file as new", "path", rec.Path, "error", err)
		entry = nil
	}

	for _, t := range targets {
		l := r.lanes[t.Kind]
		switch {
		case !l.healthy:
			r.sess.addOutcome(Outcome{Path: rec.Path, Backend: t.Kind, Result: ResultFailed, Error: l.downErr.Error()})
		case entry.CurrentAt(t.Kind, rec.ContentHash):
			o.logger.Debug("file unchanged", "path", rec.Path, "backend", t.Kind)
			r.sess.addOutcome(Outcome{Path: rec.Path, Backend: t.Kind, Result: ResultSkipped, Reason: SkipUnchanged, RemoteID: entry.Locations[t.Kind].RemoteID})
		default:
			r.advance(StateUploading)
			l.pool.Submit(func() { r.upload(ctx, l, rec) })
		}
	}
}

func (r *sessionRun) newRecord(path string) (*FileRecord, error) {
	info, err := r.o.fsmgr.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file")
	}
	hash, err := hashFile(r.o.fsmgr, path)
	if err != nil {
		return nil, fmt.Errorf("hashing: %w", err)
	}
	return &FileRecord{
		Path:        path,
		ContentHash: hash,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Status:      FilePending,
	}, nil
}

// pendingVerify is a critical pair whose put succeeded and still needs a
// post-upload integrity check.
type pendingVerify struct {
	rec     *FileRecord
	target  StorageTarget
	res     *PutResult
	encrypt bool
	out     Outcome
}

func (r *sessionRun) shouldEncrypt(rec *FileRecord, t StorageTarget) bool {
	return t.Encrypt || (r.profile.Policy.EncryptSensitive && rec.Tiers.Has(TierSensitive))
}

// upload handles one (file, backend) pair on a pool worker.
func (r *sessionRun) upload(ctx context.Context, l *lane, rec *FileRecord) {
	o := r.o
	kind := l.target.Kind
	out := Outcome{Path: rec.Path, Backend: kind}

	if ctx.Err() != nil {
		out.Result, out.Reason = ResultSkipped, SkipCancelled
		r.sess.addOutcome(out)
		return
	}

	// In-flight calls are allowed to finish after cancellation; each one is
	// still bounded by the per-call timeout.
	callCtx := context.WithoutCancel(ctx)
	encrypt := r.shouldEncrypt(rec, l.target)
	out.Encrypted = encrypt

	var res *PutResult
	if !encrypt {
		res = r.present(callCtx, l, rec)
	}
	if res == nil {
		var err error
		out.Attempts, err = l.retry(callCtx, "put", func(cctx context.Context) error {
			var perr error
			res, perr = r.put(cctx, l.backend, rec, encrypt)
			return perr
		})
		if err != nil {
			uerr := &UploadError{Path: rec.Path, Kind: kind, Attempts: out.Attempts, Err: err}
			o.logger.Error("upload failed", "path", rec.Path, "backend", kind, "error", err)
			r.sess.addError(uerr)
			out.Result, out.Error = ResultFailed, uerr.Error()
			r.sess.addOutcome(out)
			return
		}
	}

	out.RemoteID = res.RemoteID
	if res.Existed {
		out.Result, out.Reason = ResultSkipped, SkipPresent
	} else {
		out.Result = ResultSuccess
		out.StoredBytes = res.StoredBytes
	}

	if rec.Tiers.Has(TierCritical) {
		r.mu.Lock()
		r.verifies = append(r.verifies, &pendingVerify{rec: rec, target: l.target, res: res, encrypt: encrypt, out: out})
		r.mu.Unlock()
		return
	}

	o.logger.Info("file stored", "path", rec.Path, "backend", kind, "result", out.Result, "remote_id", res.RemoteID)
	r.sess.addOutcome(out)
	r.record(rec, kind, res.RemoteID)
}

// present asks the backend whether the content is already stored. It
// returns nil when the content must be uploaded.
func (r *sessionRun) present(ctx context.Context, l *lane, rec *FileRecord) *PutResult {
	var (
		id string
		ok bool
	)
	err := l.call(ctx, func(cctx context.Context) error {
		var err error
		id, ok, err = l.backend.Exists(cctx, rec.Path, rec.ContentHash)
		return err
	})
	if err != nil {
		r.o.logger.Debug("exists check failed, uploading", "path", rec.Path, "backend", l.target.Kind, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &PutResult{RemoteID: id, PayloadHash: rec.ContentHash, Existed: true}
}

// put opens the file, optionally encrypts it and hands it to the backend.
// The plaintext is re-hashed on the way through so content that changed
// since discovery is rejected.
func (r *sessionRun) put(ctx context.Context, b Backend, rec *FileRecord, encrypt bool) (*PutResult, error) {
	f, err := r.o.fsmgr.Open(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	defer f.Close()

	hr := newHashingReader(f)
	var payload io.Reader = hr

	var (
		pr      *io.PipeReader
		encDone chan error
	)
	if encrypt {
		var pw *io.PipeWriter
		pr, pw = io.Pipe()
		encDone = make(chan error, 1)
		go func() {
			err := r.o.encryptor.Encrypt(hr, pw)
			pw.CloseWithError(err)
			encDone <- err
		}()
		payload = pr
	}

	res, err := b.Put(ctx, rec, payload)
	if encrypt {
		// Unblocks the encryptor if the backend stopped reading early.
		pr.CloseWithError(io.ErrClosedPipe)
		if eerr := <-encDone; eerr != nil && err == nil && !res.Existed {
			return nil, fmt.Errorf("encrypting: %w", eerr)
		}
	}
	if err != nil {
		return nil, err
	}
	if !res.Existed && hr.Sum() != rec.ContentHash {
		return nil, fmt.Errorf("content of %s changed since discovery", rec.Path)
	}
	return res, nil
}

// verify checks one critical pair. A mismatch re-uploads and re-checks under
// the same retry budget.
func (r *sessionRun) verify(ctx context.Context, l *lane, v *pendingVerify) {
	o := r.o
	kind := l.target.Kind
	out := v.out

	if ctx.Err() != nil {
		out.Result, out.Reason = ResultSkipped, SkipCancelled
		out.RemoteID = ""
		r.sess.addOutcome(out)
		return
	}

	callCtx := context.WithoutCancel(ctx)
	res := v.res
	attempts, err := l.retry(callCtx, "verify", func(cctx context.Context) error {
		ok, err := l.backend.Verify(cctx, res.RemoteID, res.PayloadHash)
		if err != nil {
			return &VerifyError{Path: v.rec.Path, Kind: kind, RemoteID: res.RemoteID, Err: err}
		}
		if ok {
			return nil
		}
		o.logger.Warn("verify mismatch, re-uploading", "path", v.rec.Path, "backend", kind)
		if again, perr := r.put(cctx, l.backend, v.rec, v.encrypt); perr == nil {
			res = again
		}
		return &VerifyError{Path: v.rec.Path, Kind: kind, RemoteID: res.RemoteID}
	})
	out.Attempts += attempts
	if err != nil {
		verr := err
		var ve *VerifyError
		if !errors.As(err, &ve) {
			verr = &VerifyError{Path: v.rec.Path, Kind: kind, RemoteID: res.RemoteID, Err: err}
		}
		o.logger.Error("verify failed", "path", v.rec.Path, "backend", kind, "error", verr)
		r.sess.addError(verr)
		out.Result, out.Reason, out.Error = ResultFailed, "", verr.Error()
		r.sess.addOutcome(out)
		return
	}

	out.Verified = true
	out.RemoteID = res.RemoteID
	o.logger.Info("file stored", "path", v.rec.Path, "backend", kind, "result", out.Result, "verified", true, "remote_id", res.RemoteID)
	r.sess.addOutcome(out)
	r.record(v.rec, kind, res.RemoteID)
}

// record hands a successful pair to the manifest writer.
func (r *sessionRun) record(rec *FileRecord, kind BackendKind, remoteID string) {
	now := r.o.clock.Now()
	r.writer.submit(&ManifestEntry{
		Path:           rec.Path,
		ContentHash:    rec.ContentHash,
		LastBackedUpAt: now,
		Locations: map[BackendKind]Location{
			kind: {RemoteID: remoteID, ContentHash: rec.ContentHash, BackedUpAt: now},
		},
	})
}

// PlanTarget is the predicted action for one target of a planned file.
type PlanTarget struct {
	Kind   BackendKind
	Action string
}

// PlanItem is the predicted handling of one file.
type PlanItem struct {
	Path    string
	Size    int64
	Tiers   TierSet
	Targets []PlanTarget
}

// Plan walks, classifies and routes profile without uploading anything.
// Each target is marked "upload" or "skip" from the manifest alone.
func (o *Orchestrator) Plan(ctx context.Context, profile *Profile) ([]PlanItem, []error, error) {
	if err := o.manifest.Check(); err != nil {
		return nil, nil, &PreconditionError{Reason: "manifest", Err: &ManifestCorruptionError{Err: err}}
	}
	enabled := profile.EnabledTargets()
	if len(enabled) == 0 {
		return nil, nil, &PreconditionError{Reason: "no enabled storage targets"}
	}

	r := &sessionRun{o: o, profile: profile}
	var (
		items []PlanItem
		errs  []error
		seen  = make(map[string]struct{})
	)
	for _, rule := range profile.Paths {
		for p, err := range o.fsmgr.Walk(ctx, rule) {
			if ctx.Err() != nil {
				return items, errs, ctx.Err()
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}

			rec, err := r.newRecord(p)
			if err != nil {
				errs = append(errs, &DiscoveryError{Path: p, Err: err})
				continue
			}
			rec.Tiers = Classify(rec.Path, profile.Rules)
			entry, err := o.manifest.Lookup(rec.Path)
			if err != nil {
				return items, errs, fmt.Errorf("manifest lookup: %w", err)
			}

			item := PlanItem{Path: rec.Path, Size: rec.Size, Tiers: rec.Tiers}
			for _, t := range Route(rec, enabled, profile.Policy) {
				action := "upload"
				if entry.CurrentAt(t.Kind, rec.ContentHash) {
					action = "skip"
				}
				item.Targets = append(item.Targets, PlanTarget{Kind: t.Kind, Action: action})
			}
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b PlanItem) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return items, errs, nil
}
