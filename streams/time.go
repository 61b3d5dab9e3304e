package streams

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Layouts accepted for FDSNWS time parameters. Values carry no timezone
// designator and are interpreted as UTC. Fractional seconds are accepted up
// to microsecond precision.
var fdsnTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime decodes an FDSNWS time string. A bare date is midnight UTC. A
// trailing Z designator is tolerated.
func ParseTime(v string) (time.Time, error) {
	s := strings.TrimSuffix(v, "Z")
	for _, layout := range fdsnTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid time: %q", v)
}

// FormatTime encodes t in the FDSNWS wire form: ISO 8601 without timezone
// designator, microsecond precision, fractional part omitted when zero.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05")
	}
	return t.Format("2006-01-02T15:04:05.000000")
}
