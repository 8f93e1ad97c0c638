package sync

import (
	"log/slog"
	"sort"
)

// ComputeDiff builds the plan for local and remote under policy. It does no I/O.
//
// The remote pass deletes or downloads remote-only files depending on the
// direction, and downloads matched files whose content differs and whose
// remote copy is newer. The local pass deletes (FromRemote without local
// protection) or uploads local-only files, and uploads matched files whose
// content differs and whose local copy is newer. Files with an unknown hash
// on either side, or with equal timestamps, are left alone.
func ComputeDiff(local *LocalInventory, remote *RemoteInventory, policy SyncPolicy) *SyncPlan {
	plan := &SyncPlan{}

	for _, r := range remote.Records() {
		l, ok := local.Lookup(r.Path)
		if !ok {
			if policy.Direction == FromLocal {
				plan.ToDelete = append(plan.ToDelete, r)
			} else {
				plan.ToDownload = append(plan.ToDownload, r)
			}
			continue
		}

		if r.Hash.Differs(l.Hash) && r.LastModified.After(l.LastModified) {
			plan.ToDownload = append(plan.ToDownload, r)
		}
	}

	maxUpload := policy.maxUploadSize()
	for _, l := range local.Records() {
		r, ok := remote.Lookup(l.Path)
		if !ok {
			switch {
			case !policy.LocalProtection && policy.Direction == FromRemote:
				plan.ToDelete = append(plan.ToDelete, l)
			case l.Size < maxUpload:
				plan.ToUpload = append(plan.ToUpload, l)
			default:
				slog.Warn("diff skip", "path", l.Path, "size", l.Size, "reason", SkipOversized)
				plan.Skipped = append(plan.Skipped, SkippedFile{Path: l.Path, Size: l.Size, Reason: SkipOversized})
			}
			continue
		}

		if l.Hash.Differs(r.Hash) && l.LastModified.After(r.LastModified) {
			plan.ToUpload = append(plan.ToUpload, l)
		}
	}

	sort.SliceStable(plan.ToDelete, func(i, j int) bool {
		return plan.ToDelete[i].Meta().Path < plan.ToDelete[j].Meta().Path
	})

	return plan
}
