package schedule

import (
	"sort"
	"time"
)

// =============================================================================
// STATUS HISTORY - Append-only log; status is derived, never stored apart
// =============================================================================

// StatusOf derives the current status from the history. A request always
// starts with a "" -> pending entry, so an empty history reads as pending.
func StatusOf(history []StatusChange) RequestStatus {
	if len(history) == 0 {
		return StatusPending
	}
	return history[len(history)-1].To
}

// CanTransition reports whether from -> to is a legal workflow move.
func CanTransition(from, to RequestStatus) bool {
	switch from {
	case "":
		return to == StatusPending
	case StatusPending:
		return to == StatusApproved || to == StatusDenied || to == StatusCancelled
	case StatusApproved:
		return to == StatusCancelled
	default:
		return false
	}
}

// Transition appends a change to r's history. Callers check legality first.
func (r *TimeOffRequest) Transition(to RequestStatus, actor Actor, at time.Time, reason string) StatusChange {
	change := StatusChange{
		From:            r.Status(),
		To:              to,
		ChangedAt:       at,
		ChangedBy:       actor.ID,
		ChangedByDevice: actor.DeviceID,
		Reason:          reason,
	}
	if len(r.StatusHistory) == 0 {
		change.From = ""
	}
	r.StatusHistory = append(r.StatusHistory, change)
	r.UpdatedAt = at
	return change
}

type historyKey struct {
	to     RequestStatus
	at     int64
	by     string
	device string
}

func keyOf(c StatusChange) historyKey {
	return historyKey{to: c.To, at: c.ChangedAt.UnixNano(), by: c.ChangedBy, device: c.ChangedByDevice}
}

// MergeHistory unions two histories of the same request written on
// different devices. Entries are ordered by ChangedAt (device, then target
// status, break ties) and replayed: an entry is kept only when its From
// matches the status reached so far and the move is legal. Entries that
// diverge from the replayed path are returned as discarded.
func MergeHistory(local, remote []StatusChange) (merged, discarded []StatusChange) {
	seen := make(map[historyKey]bool, len(local)+len(remote))
	var all []StatusChange
	for _, c := range append(append([]StatusChange{}, local...), remote...) {
		k := keyOf(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		all = append(all, c)
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.ChangedAt.Equal(b.ChangedAt) {
			return a.ChangedAt.Before(b.ChangedAt)
		}
		if a.ChangedByDevice != b.ChangedByDevice {
			return a.ChangedByDevice < b.ChangedByDevice
		}
		return a.To < b.To
	})

	var current RequestStatus
	for _, c := range all {
		if c.From == current && CanTransition(current, c.To) {
			merged = append(merged, c)
			current = c.To
			continue
		}
		discarded = append(discarded, c)
	}
	return merged, discarded
}
