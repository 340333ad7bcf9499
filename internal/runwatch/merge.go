package runwatch

import (
	"sort"

	"github.com/lei/simple-apply/internal/models"
)

// MergeSnapshot folds an authoritative server snapshot into the current
// merged view of a run. Scalar fields are replaced by the snapshot's values;
// log entries are unioned by id and ordered by timestamp. Once the current
// view has reached a terminal status, later snapshots cannot change it.
func MergeSnapshot(current, snap *models.ApplicationRun) *models.ApplicationRun {
	if snap == nil {
		return current
	}
	if current == nil {
		merged := *snap
		merged.LogEntries = mergeLogs(nil, snap.LogEntries)
		return &merged
	}

	if current.Status.Terminal() {
		// Terminal is a latch: keep the final state, absorb only late logs
		merged := *current
		merged.LogEntries = mergeLogs(current.LogEntries, snap.LogEntries)
		return &merged
	}

	merged := *snap
	merged.LogEntries = mergeLogs(current.LogEntries, snap.LogEntries)
	return &merged
}

// mergeLogs unions two entry lists by id and sorts by timestamp. The same
// entry may arrive verbatim in many snapshots; duplicates collapse to one.
// Ties on timestamp break by id so the order is deterministic.
func mergeLogs(existing, incoming []models.LogEntry) []models.LogEntry {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]models.LogEntry, 0, len(existing)+len(incoming))

	for _, e := range existing {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	for _, e := range incoming {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	return out
}
