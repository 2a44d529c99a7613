package gaps

import (
	"sort"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
)

// Missing returns the days of rng that are not in existing, in ascending order
func Missing(rng contracts.DateRange, existing []time.Time) []time.Time {
	have := make(map[time.Time]struct{}, len(existing))
	for _, d := range existing {
		have[contracts.Day(d)] = struct{}{}
	}

	missing := make([]time.Time, 0)
	for _, d := range rng.Days() {
		if _, ok := have[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// Ranges run-length-encodes days into maximal contiguous ranges.
// A new range starts whenever two consecutive days are more than one day apart.
func Ranges(days []time.Time) []contracts.DateRange {
	if len(days) == 0 {
		return []contracts.DateRange{}
	}

	sorted := make([]time.Time, len(days))
	for i, d := range days {
		sorted[i] = contracts.Day(d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	ranges := make([]contracts.DateRange, 0, 1)
	current := contracts.DateRange{Start: sorted[0], End: sorted[0]}
	for _, d := range sorted[1:] {
		switch contracts.DaysBetween(current.End, d) {
		case 0:
			// duplicate day
		case 1:
			current.End = d
		default:
			ranges = append(ranges, current)
			current = contracts.DateRange{Start: d, End: d}
		}
	}
	return append(ranges, current)
}
