package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDayWindowBounds_RejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "2025-13-01", "not-a-day", "2025-06-01T00:00:00Z"} {
		if _, _, err := DayWindowBounds(key); err == nil {
			t.Errorf("DayWindowBounds(%q) accepted an invalid key", key)
		}
	}
}

// TestProperty_PartitionRoundtrip validates that any timestamp falls inside
// the half-open bounds of its own partition, and that the bounds parse back
// to the same key.
func TestProperty_PartitionRoundtrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("timestamp lies within its day window", prop.ForAll(
		func(offsetSec int64) bool {
			ts := base.Add(time.Duration(offsetSec) * time.Second)
			key := DayPartition(ts)
			start, end, err := DayWindowBounds(key)
			if err != nil {
				return false
			}
			return !ts.Before(start) && ts.Before(end) && DayPartition(start) == key
		},
		gen.Int64Range(0, 10*365*24*3600),
	))

	properties.Property("windows tile: end of one day starts the next", prop.ForAll(
		func(offsetSec int64) bool {
			ts := base.Add(time.Duration(offsetSec) * time.Second)
			_, end, err := DayWindowBounds(DayPartition(ts))
			if err != nil {
				return false
			}
			start2, _, err := DayWindowBounds(DayPartition(end))
			if err != nil {
				return false
			}
			return start2.Equal(end)
		},
		gen.Int64Range(0, 10*365*24*3600),
	))

	properties.TestingRun(t)
}
