package streams

import (
	"sort"
	"time"
)

// Epoch is a half-open time interval [Start, End). A zero End means the
// interval is open ended.
type Epoch struct {
	Start time.Time
	End   time.Time
}

// Bounded reports whether the epoch has a concrete end.
func (e Epoch) Bounded() bool {
	return !e.End.IsZero()
}

// Covers reports whether t lies within [Start, End).
func (e Epoch) Covers(t time.Time) bool {
	if t.Before(e.Start) {
		return false
	}
	return !e.Bounded() || t.Before(e.End)
}

// Intersect returns the overlap of two epochs. The second return value is
// false when the epochs do not overlap.
func (e Epoch) Intersect(other Epoch) (Epoch, bool) {
	start := e.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := e.End
	if end.IsZero() || (!other.End.IsZero() && other.End.Before(end)) {
		end = other.End
	}
	if !end.IsZero() && !start.Before(end) {
		return Epoch{}, false
	}
	return Epoch{Start: start, End: end}, true
}

// overlapsOrAdjoins reports whether two epochs overlap or touch end to end.
func (e Epoch) overlapsOrAdjoins(other Epoch) bool {
	if e.Bounded() && e.End.Before(other.Start) {
		return false
	}
	if other.Bounded() && other.End.Before(e.Start) {
		return false
	}
	return true
}

// Epochs maintains a sorted set of disjoint epochs. Adding an epoch merges it
// with any overlapping or directly adjacent neighbors.
type Epochs struct {
	intervals []Epoch
}

// Add unions an epoch into the set.
func (es *Epochs) Add(epoch Epoch) {
	merged := epoch
	out := make([]Epoch, 0, len(es.intervals)+1)
	for _, iv := range es.intervals {
		if !iv.overlapsOrAdjoins(merged) {
			out = append(out, iv)
			continue
		}
		if iv.Start.Before(merged.Start) {
			merged.Start = iv.Start
		}
		if merged.End.IsZero() || iv.End.IsZero() {
			merged.End = time.Time{}
		} else if iv.End.After(merged.End) {
			merged.End = iv.End
		}
	}
	out = append(out, merged)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	es.intervals = out
}

// Overlaps reports whether any stored epoch overlaps the given one. Adjacency
// does not count as overlap.
func (es *Epochs) Overlaps(epoch Epoch) bool {
	for _, iv := range es.intervals {
		startsBeforeEnd := !iv.Bounded() || epoch.Start.Before(iv.End)
		endsAfterStart := !epoch.Bounded() || iv.Start.Before(epoch.End)
		if startsBeforeEnd && endsAfterStart {
			return true
		}
	}
	return false
}

// SliceAt splits any interval strictly containing t into two intervals that
// touch at t.
func (es *Epochs) SliceAt(t time.Time) {
	out := make([]Epoch, 0, len(es.intervals)+1)
	for _, iv := range es.intervals {
		if iv.Start.Before(t) && (!iv.Bounded() || t.Before(iv.End)) {
			out = append(out, Epoch{Start: iv.Start, End: t}, Epoch{Start: t, End: iv.End})
			continue
		}
		out = append(out, iv)
	}
	es.intervals = out
}

// Clip intersects every stored epoch with the window, dropping epochs that
// fall entirely outside of it.
func (es *Epochs) Clip(window Epoch) {
	if !window.Start.IsZero() {
		es.SliceAt(window.Start)
	}
	if window.Bounded() {
		es.SliceAt(window.End)
	}
	out := make([]Epoch, 0, len(es.intervals))
	for _, iv := range es.intervals {
		if clipped, ok := iv.Intersect(window); ok {
			out = append(out, clipped)
		}
	}
	es.intervals = out
}

// Intervals returns the stored epochs sorted by start time.
func (es *Epochs) Intervals() []Epoch {
	out := make([]Epoch, len(es.intervals))
	copy(out, es.intervals)
	return out
}

// Hull returns the epoch spanning all stored intervals. The second return
// value is false when the set is empty.
func (es *Epochs) Hull() (Epoch, bool) {
	if len(es.intervals) == 0 {
		return Epoch{}, false
	}
	hull := Epoch{Start: es.intervals[0].Start, End: es.intervals[0].End}
	for _, iv := range es.intervals[1:] {
		if !iv.Bounded() {
			hull.End = time.Time{}
		} else if hull.Bounded() && iv.End.After(hull.End) {
			hull.End = iv.End
		}
	}
	return hull, true
}

// Len returns the number of disjoint intervals.
func (es *Epochs) Len() int {
	return len(es.intervals)
}
