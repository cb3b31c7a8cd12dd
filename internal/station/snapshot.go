package station

import "time"

// Snapshot is the set of readings taken from one successfully parsed feed.
// A Snapshot is never modified after construction; a new one replaces it.
type Snapshot struct {
	values    map[Metric]string
	fetchedAt time.Time
}

// NewSnapshot copies values into a new Snapshot taken at fetchedAt.
func NewSnapshot(values map[Metric]string, fetchedAt time.Time) Snapshot {
	cp := make(map[Metric]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Snapshot{values: cp, fetchedAt: fetchedAt}
}

// Value returns the reading for m and whether the feed carried it.
func (s Snapshot) Value(m Metric) (string, bool) {
	v, ok := s.values[m]
	return v, ok
}

// Values returns a copy of all readings present in the snapshot.
func (s Snapshot) Values() map[Metric]string {
	cp := make(map[Metric]string, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

// Len is the number of metrics present.
func (s Snapshot) Len() int {
	return len(s.values)
}

// FetchedAt is when the payload behind the snapshot was fetched. Zero for
// snapshots that were never stamped.
func (s Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// At returns a copy of s stamped with t.
func (s Snapshot) At(t time.Time) Snapshot {
	return NewSnapshot(s.values, t)
}
