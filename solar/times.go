package solar

import "time"

// scanStep is the sampling interval used when searching for predicate
// transitions across a day. One minute keeps the error below the time
// granularity of any cover schedule.
const scanStep = time.Minute

// CrossingTimes finds the first and last moment of the civil day containing
// t at which pred holds for the sun's position. ok is false when the
// predicate never holds that day.
func CrossingTimes(loc Location, t time.Time, pred func(Position) bool) (first, last time.Time, ok bool) {
	year, month, day := t.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	end := start.Add(24 * time.Hour)

	for cur := start; cur.Before(end); cur = cur.Add(scanStep) {
		if !pred(Compute(loc, cur)) {
			continue
		}
		if !ok {
			first = cur
			ok = true
		}
		last = cur
	}
	return first, last, ok
}
