package jobs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// runAtLayouts are tried in order. Layouts without a zone are read as UTC.
var runAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseRunAt converts a run_at value to epoch seconds. An empty value means
// now. Accepted forms are RFC 3339 timestamps (seconds optional), zone-less
// date-times and dates (UTC), and numeric epoch seconds.
func ParseRunAt(value string, now int64) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now, nil
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) || math.Abs(seconds) > maxEpochSeconds {
			return 0, fmt.Errorf("%w: %q is not a finite timestamp", ErrInvalidSchedule, value)
		}
		return int64(math.Floor(seconds)), nil
	}

	for _, layout := range runAtLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.Unix(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (expected RFC 3339, YYYY-MM-DD[ HH:MM[:SS]] or epoch seconds)", ErrInvalidSchedule, value)
}

// maxEpochSeconds keeps numeric run_at values within the range a time.Time
// round trip can represent.
const maxEpochSeconds = 1 << 40
