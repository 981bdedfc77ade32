package engine

import (
	"slices"

	"github.com/samber/lo"
)

// Route returns the targets rec must be sent to, given the enabled targets
// and the routing policy. Each tier contributes its own target set and the
// result is their union in BackendKinds order. An empty result means the
// file is unrouted.
//
//   - sensitive goes to Proton, or to policy.SensitiveFallback without it
//   - critical goes to the primary cloud target and the local target
//   - standard goes to the primary cloud target only
func Route(rec *FileRecord, enabled []StorageTarget, policy RoutingPolicy) []StorageTarget {
	byKind := lo.Associate(
		lo.Filter(enabled, func(t StorageTarget, _ int) bool { return t.Enabled }),
		func(t StorageTarget) (BackendKind, StorageTarget) { return t.Kind, t },
	)

	var kinds []BackendKind
	want := func(k BackendKind) {
		if _, ok := byKind[k]; ok {
			kinds = append(kinds, k)
		}
	}

	if rec.Tiers.Has(TierSensitive) {
		if _, ok := byKind[KindProton]; ok {
			kinds = append(kinds, KindProton)
		} else if policy.SensitiveFallback != "" {
			want(policy.SensitiveFallback)
		}
	}
	if rec.Tiers.Has(TierCritical) {
		want(KindAWS)
		want(KindLocal)
	}
	if rec.Tiers.Has(TierStandard) {
		want(KindAWS)
	}

	kinds = lo.Uniq(kinds)
	slices.SortFunc(kinds, func(a, b BackendKind) int {
		return slices.Index(BackendKinds, a) - slices.Index(BackendKinds, b)
	})
	return lo.Map(kinds, func(k BackendKind, _ int) StorageTarget { return byKind[k] })
}
