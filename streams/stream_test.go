package streams

import (
	"testing"
	"time"

	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
)

func TestParsePostLine(t *testing.T) {
	defaultEnd := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		line    string
		want    StreamEpoch
		wantErr string
	}{
		{
			name: "complete line",
			line: "CH HASLI -- LHZ 2019-01-01 2019-01-05",
			want: StreamEpoch{
				Stream:    Stream{Network: "CH", Station: "HASLI", Location: "", Channel: "LHZ"},
				StartTime: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2019, 1, 5, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "missing end substituted",
			line: "GR BFO 00 BHZ 2019-01-01T06:00:00",
			want: StreamEpoch{
				Stream:    Stream{Network: "GR", Station: "BFO", Location: "00", Channel: "BHZ"},
				StartTime: time.Date(2019, 1, 1, 6, 0, 0, 0, time.UTC),
				EndTime:   defaultEnd,
			},
		},
		{
			name:    "too few fields",
			line:    "CH HASLI -- LHZ",
			wantErr: "invalid POST line",
		},
		{
			name:    "too many fields",
			line:    "CH HASLI -- LHZ 2019-01-01 2019-01-05 2019-01-06",
			wantErr: "invalid POST line",
		},
		{
			name:    "bad start time",
			line:    "CH HASLI -- LHZ yesterday 2019-01-05",
			wantErr: "invalid POST line",
		},
		{
			name:    "start after end",
			line:    "CH HASLI -- LHZ 2019-01-05 2019-01-01",
			wantErr: "start time must precede end time",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePostLine(tt.line, defaultEnd)
			if tt.wantErr != "" {
				assert.ErrorContains(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.DeepEqual(t, tt.want, got)
		})
	}
}

func TestParsePostLineOpenEnd(t *testing.T) {
	got, err := ParsePostLine("CH HASLI -- LHZ 2019-01-01", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, true, got.EndTime.IsZero())
	assert.Equal(t, MaxDuration, got.Duration())
}

func TestFDSNLine(t *testing.T) {
	se := StreamEpoch{
		Stream:    Stream{Network: "CH", Station: "GRIMS", Location: "", Channel: "HHZ"},
		StartTime: time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2012, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "CH GRIMS -- HHZ 2012-01-01T00:00:00 2012-01-02T00:00:00", se.FDSNLine())

	parsed, err := ParsePostLine(se.FDSNLine(), time.Time{})
	require.NoError(t, err)
	assert.DeepEqual(t, se, parsed)
}

func TestStreamEpochSlice(t *testing.T) {
	se := StreamEpoch{
		Stream:    Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"},
		StartTime: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2019, 1, 10, 0, 0, 0, 0, time.UTC),
	}

	t.Run("even split", func(t *testing.T) {
		pieces, err := se.Slice(3)
		require.NoError(t, err)
		require.Equal(t, 3, len(pieces))
		assert.Equal(t, se.StartTime, pieces[0].StartTime)
		assert.Equal(t, se.EndTime, pieces[2].EndTime)
		for i := 1; i < len(pieces); i++ {
			assert.Equal(t, pieces[i-1].EndTime, pieces[i].StartTime, "pieces must be contiguous")
		}
		assert.Equal(t, pieces[0].Duration(), pieces[1].Duration())
	})

	t.Run("remainder goes to last piece", func(t *testing.T) {
		odd := se
		odd.EndTime = odd.StartTime.Add(10*time.Second + 1*time.Nanosecond)
		pieces, err := odd.Slice(3)
		require.NoError(t, err)
		require.Equal(t, 3, len(pieces))
		assert.Equal(t, pieces[0].Duration(), pieces[1].Duration())
		assert.Equal(t, true, pieces[2].Duration() > pieces[1].Duration())
		assert.Equal(t, odd.EndTime, pieces[2].EndTime)
	})

	t.Run("open ended rejected", func(t *testing.T) {
		open := se
		open.EndTime = time.Time{}
		_, err := open.Slice(2)
		assert.ErrorContains(t, "open-ended", err)
	})

	t.Run("zero pieces rejected", func(t *testing.T) {
		_, err := se.Slice(0)
		assert.ErrorContains(t, "less than one piece", err)
	})
}

func TestStreamEpochLess(t *testing.T) {
	a := StreamEpoch{Stream: Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}, StartTime: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := StreamEpoch{Stream: Stream{Network: "GR", Station: "BFO", Channel: "LHZ"}, StartTime: time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, true, a.Less(b), "stream identifier dominates the ordering")

	c := a
	c.StartTime = a.StartTime.Add(time.Hour)
	assert.Equal(t, true, a.Less(c))

	d := a
	d.EndTime = a.StartTime.Add(time.Hour)
	assert.Equal(t, true, d.Less(a), "bounded end sorts before open end")

	epochs := []StreamEpoch{b, c, a}
	Sort(epochs)
	assert.DeepEqual(t, []StreamEpoch{a, c, b}, epochs)
}

func TestTotalDuration(t *testing.T) {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	bounded := StreamEpoch{StartTime: start, EndTime: start.Add(time.Hour)}
	assert.Equal(t, 2*time.Hour, TotalDuration([]StreamEpoch{bounded, bounded}))

	open := StreamEpoch{StartTime: start}
	assert.Equal(t, MaxDuration, TotalDuration([]StreamEpoch{bounded, open}))
}
