package ledger

import (
	"sort"
	"time"
)

// Candidate is a lesson instant produced by a schedule slot.
type Candidate struct {
	At     time.Time
	SlotID SlotID
}

// Window is the half-open range [Start, End) the expander fills.
type Window struct {
	Start time.Time
	End   time.Time
}

// ExpansionWindow starts at Monday 00:00 of the week containing now (in loc)
// and spans weeks whole weeks.
func ExpansionWindow(now time.Time, loc *time.Location, weeks int) Window {
	start := WeekStart(now, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 7*weeks)}
}

// ExpansionCandidates lists every future instant the active slots produce
// inside the window, in chronological order across all slots.
// Candidates at or before now are dropped.
func ExpansionCandidates(slots []ScheduleSlot, now time.Time, w Window) []Candidate {
	var out []Candidate
	for week := w.Start; week.Before(w.End); week = week.AddDate(0, 0, 7) {
		for _, s := range slots {
			if !s.IsActive {
				continue
			}
			at := s.On(week)
			if !at.After(now) || !at.Before(w.End) {
				continue
			}
			out = append(out, Candidate{At: at, SlotID: s.ID})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].SlotID < out[j].SlotID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}
