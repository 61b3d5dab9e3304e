// Package streams provides the stream and stream epoch model shared by the
// federating gateway and the routing services: FDSN source identifiers with
// wildcard support, half-open time epochs with interval merging, and the
// textual codecs used on FDSNWS wire formats.
package streams

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EmptyLocation is the placeholder FDSNWS uses for a blank location code.
const EmptyLocation = "--"

// MaxDuration is the duration attributed to an open-ended epoch.
const MaxDuration = time.Duration(math.MaxInt64)

// Stream identifies a seismic data stream by its FDSN source codes. Codes may
// carry the FDSNWS wildcards * and ?.
type Stream struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

// String returns the dotted stream identifier, e.g. CH.HASLI..LHZ.
func (s Stream) String() string {
	return strings.Join([]string{s.Network, s.Station, s.Location, s.Channel}, ".")
}

// Less orders streams lexicographically by their dotted identifier.
func (s Stream) Less(other Stream) bool {
	return s.String() < other.String()
}

// StreamEpoch couples a stream with one time window. A zero EndTime means the
// epoch is open ended, i.e. the stream is currently acquiring.
type StreamEpoch struct {
	Stream    Stream
	StartTime time.Time
	EndTime   time.Time
}

// Epoch returns the stream epoch's time window.
func (se StreamEpoch) Epoch() Epoch {
	return Epoch{Start: se.StartTime, End: se.EndTime}
}

// Duration returns the length of the epoch, or MaxDuration when open ended.
func (se StreamEpoch) Duration() time.Duration {
	if se.EndTime.IsZero() {
		return MaxDuration
	}
	return se.EndTime.Sub(se.StartTime)
}

// Less orders stream epochs by stream, then start time, then end time.
func (se StreamEpoch) Less(other StreamEpoch) bool {
	if se.Stream != other.Stream {
		return se.Stream.Less(other.Stream)
	}
	if !se.StartTime.Equal(other.StartTime) {
		return se.StartTime.Before(other.StartTime)
	}
	if se.EndTime.IsZero() != other.EndTime.IsZero() {
		return other.EndTime.IsZero()
	}
	return se.EndTime.Before(other.EndTime)
}

// String returns the stream epoch in FDSNWS POST line form.
func (se StreamEpoch) String() string {
	return se.FDSNLine()
}

// FDSNLine encodes the stream epoch as a single FDSNWS POST line of the form
// "NET STA LOC CHA START [END]". A blank location is written as "--"; an open
// end is omitted.
func (se StreamEpoch) FDSNLine() string {
	loc := se.Stream.Location
	if loc == "" {
		loc = EmptyLocation
	}
	fields := []string{se.Stream.Network, se.Stream.Station, loc, se.Stream.Channel, FormatTime(se.StartTime)}
	if !se.EndTime.IsZero() {
		fields = append(fields, FormatTime(se.EndTime))
	}
	return strings.Join(fields, " ")
}

// Slice divides the epoch into n contiguous pieces. Pieces 1..n-1 have equal
// duration; the last piece absorbs the rounding remainder.
func (se StreamEpoch) Slice(n int) ([]StreamEpoch, error) {
	if n < 1 {
		return nil, errors.New("cannot slice into less than one piece")
	}
	if se.EndTime.IsZero() {
		return nil, errors.New("cannot slice an open-ended epoch")
	}
	step := se.EndTime.Sub(se.StartTime) / time.Duration(n)
	out := make([]StreamEpoch, 0, n)
	start := se.StartTime
	for i := 0; i < n; i++ {
		end := start.Add(step)
		if i == n-1 {
			end = se.EndTime
		}
		out = append(out, StreamEpoch{Stream: se.Stream, StartTime: start, EndTime: end})
		start = end
	}
	return out, nil
}

// ParsePostLine decodes a single FDSNWS POST line "NET STA LOC CHA START
// [END]". A missing end time is substituted with defaultEnd, which may be
// zero to leave the epoch open. A "--" location decodes to the blank code.
func ParsePostLine(line string, defaultEnd time.Time) (StreamEpoch, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 && len(fields) != 6 {
		return StreamEpoch{}, errors.Errorf("invalid POST line: %q", line)
	}
	loc := fields[2]
	if loc == EmptyLocation {
		loc = ""
	}
	start, err := ParseTime(fields[4])
	if err != nil {
		return StreamEpoch{}, errors.Wrapf(err, "invalid POST line: %q", line)
	}
	end := defaultEnd
	if len(fields) == 6 {
		end, err = ParseTime(fields[5])
		if err != nil {
			return StreamEpoch{}, errors.Wrapf(err, "invalid POST line: %q", line)
		}
	}
	if !end.IsZero() && !start.Before(end) {
		return StreamEpoch{}, errors.Errorf("invalid POST line: start time must precede end time: %q", line)
	}
	return StreamEpoch{
		Stream:    Stream{Network: fields[0], Station: fields[1], Location: loc, Channel: fields[3]},
		StartTime: start,
		EndTime:   end,
	}, nil
}

// Sort orders stream epochs in place by stream, start time and end time.
func Sort(epochs []StreamEpoch) {
	sort.Slice(epochs, func(i, j int) bool { return epochs[i].Less(epochs[j]) })
}

// TotalDuration sums the durations of all epochs, saturating at MaxDuration.
func TotalDuration(epochs []StreamEpoch) time.Duration {
	var total time.Duration
	for _, se := range epochs {
		d := se.Duration()
		if d == MaxDuration || total > MaxDuration-d {
			return MaxDuration
		}
		total += d
	}
	return total
}
