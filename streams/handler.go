package streams

import (
	"sort"
	"time"
)

// CanonicalOffset is the amount epoch boundaries are shifted by during
// canonicalization. It equals the smallest unit the FDSNWS time codec can
// represent.
const CanonicalOffset = time.Microsecond

// StreamEpochsHandler accumulates stream epochs per stream, merging
// overlapping and adjacent time windows.
type StreamEpochsHandler struct {
	epochs map[Stream]*Epochs
}

// NewStreamEpochsHandler returns a handler seeded with the given epochs.
func NewStreamEpochsHandler(epochs ...StreamEpoch) *StreamEpochsHandler {
	h := &StreamEpochsHandler{epochs: make(map[Stream]*Epochs)}
	for _, se := range epochs {
		h.Add(se)
	}
	return h
}

// Add unions a stream epoch into the handler.
func (h *StreamEpochsHandler) Add(se StreamEpoch) {
	es, ok := h.epochs[se.Stream]
	if !ok {
		es = &Epochs{}
		h.epochs[se.Stream] = es
	}
	es.Add(se.Epoch())
}

// Empty reports whether the handler holds no epochs.
func (h *StreamEpochsHandler) Empty() bool {
	return len(h.epochs) == 0
}

// ModifyWithTemporalConstraints clips every epoch to the window, dropping
// streams left without epochs.
func (h *StreamEpochsHandler) ModifyWithTemporalConstraints(window Epoch) {
	for stream, es := range h.epochs {
		es.Clip(window)
		if es.Len() == 0 {
			delete(h.epochs, stream)
		}
	}
}

// CanonicalizeEpoch shrinks epoch boundaries that were not supplied by the
// client: a start differing from the window start grows by CanonicalOffset, an
// end differing from the window end shrinks by it. Adjacent epochs of
// neighboring entities thereby stop sharing boundary instants. The second
// return value is false when the epoch collapses.
func CanonicalizeEpoch(iv, window Epoch) (Epoch, bool) {
	if !iv.Start.Equal(window.Start) {
		iv.Start = iv.Start.Add(CanonicalOffset)
	}
	if iv.Bounded() && !iv.End.Equal(window.End) {
		iv.End = iv.End.Add(-CanonicalOffset)
	}
	if iv.Bounded() && !iv.Start.Before(iv.End) {
		return Epoch{}, false
	}
	return iv, true
}

// CanonicalizeEpochs applies CanonicalizeEpoch to every merged interval,
// dropping streams left without epochs.
func (h *StreamEpochsHandler) CanonicalizeEpochs(window Epoch) {
	for stream, es := range h.epochs {
		canonical := &Epochs{}
		for _, iv := range es.Intervals() {
			if c, ok := CanonicalizeEpoch(iv, window); ok {
				canonical.Add(c)
			}
		}
		if canonical.Len() == 0 {
			delete(h.epochs, stream)
			continue
		}
		h.epochs[stream] = canonical
	}
}

// Streams returns the handled streams in lexicographic order.
func (h *StreamEpochsHandler) Streams() []Stream {
	out := make([]Stream, 0, len(h.epochs))
	for stream := range h.epochs {
		out = append(out, stream)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// StreamEpochs demultiplexes the handler into one StreamEpoch per merged
// interval, sorted by stream and start time.
func (h *StreamEpochsHandler) StreamEpochs() []StreamEpoch {
	var out []StreamEpoch
	for _, stream := range h.Streams() {
		for _, iv := range h.epochs[stream].Intervals() {
			out = append(out, StreamEpoch{Stream: stream, StartTime: iv.Start, EndTime: iv.End})
		}
	}
	return out
}

// StreamEpochHulls emits one StreamEpoch per stream spanning the hull of its
// epochs, sorted by stream.
func (h *StreamEpochsHandler) StreamEpochHulls() []StreamEpoch {
	var out []StreamEpoch
	for _, stream := range h.Streams() {
		hull, ok := h.epochs[stream].Hull()
		if !ok {
			continue
		}
		out = append(out, StreamEpoch{Stream: stream, StartTime: hull.Start, EndTime: hull.End})
	}
	return out
}
