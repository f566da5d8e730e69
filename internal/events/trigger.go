package events

import (
	"time"

	"racket/internal/game"
)

// searchDays bounds the forward scan. Eight days covers a weekly schedule
// even when from sits just past this week's slot.
const searchDays = 8

// NextTrigger returns the first minute-aligned time strictly after from that
// matches s, scanning forward day by day in UTC. It reports false only when s
// is invalid.
func NextTrigger(s game.Schedule, from time.Time) (time.Time, bool) {
	if s.Validate() != nil {
		return time.Time{}, false
	}
	from = from.UTC()
	y, m, d := from.Date()
	for day := 0; day <= searchDays; day++ {
		date := time.Date(y, m, d+day, 0, 0, 0, 0, time.UTC)
		for _, h := range candidates(s.Hour, 24) {
			for _, mm := range candidates(s.Minute, 60) {
				t := date.Add(time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute)
				if t.After(from) && s.Matches(t) {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

func candidates(field, n int) []int {
	if field != game.Any {
		return []int{field}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
