package simulation

import "time"

// fullRatio is the change fraction above which a full snapshot is cheaper
// than a delta.
const fullRatio = 0.5

// computeDelta compares the current entity set against the previous one and
// returns the wire snapshot for this tick.
//
// The comparison is pure: storing current as the next tick's previous is the
// engine's job, at a single call site in the tick loop.
//
// Postcondition: When the returned delta is Full, Entities contains every
// current entity and Deleted is empty.
func computeDelta(now time.Time, current, previous map[string]EntityState, compress bool, events []Event) Delta {
	if !compress || previous == nil {
		return fullSnapshot(now, current, events)
	}

	changed := make(map[string]EntityState)
	for id, st := range current {
		prev, ok := previous[id]
		if !ok || !st.Equal(prev) {
			changed[id] = st.clone()
		}
	}
	var deleted []string
	for id := range previous {
		if _, ok := current[id]; !ok {
			deleted = append(deleted, id)
		}
	}

	// Deltas larger than half the state are not worth compressing. A tick
	// that empties the room stays a delta: the deletion list already carries
	// the whole change, and a full snapshot of nothing says less.
	if len(current) > 0 && float64(len(changed)+len(deleted)) > fullRatio*float64(len(current)) {
		return fullSnapshot(now, current, events)
	}

	return Delta{
		Timestamp: now.UnixMilli(),
		Entities:  changed,
		Deleted:   deleted,
		Events:    events,
		Full:      false,
	}
}

func fullSnapshot(now time.Time, current map[string]EntityState, events []Event) Delta {
	entities := make(map[string]EntityState, len(current))
	for id, st := range current {
		entities[id] = st.clone()
	}
	return Delta{
		Timestamp: now.UnixMilli(),
		Entities:  entities,
		Events:    events,
		Full:      true,
	}
}

// copyEntities snapshots an entity map for storage as the next previous.
func copyEntities(src map[string]EntityState) map[string]EntityState {
	dst := make(map[string]EntityState, len(src))
	for id, st := range src {
		dst[id] = st.clone()
	}
	return dst
}
