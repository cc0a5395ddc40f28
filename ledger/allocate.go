/*
allocate.go - Completion and payment allocation

PURPOSE:
  When lessons become due, each one is marked completed and is either paid
  from the student's balance or left unpaid. This file holds the pure rule;
  engine.go loads the inputs and persists the result atomically.

THE RULE:
  For every student, walk that student's due lessons in datetime order with
  a running balance seeded from the stored balance:
    running > 0  -> CompletedPaid, running--
    running <= 0 -> CompletedUnpaid, running unchanged

  Each lesson is checked against the running balance, never the stored one.

EXAMPLE:
  balance 2, due lessons Mon 10:00, Tue 10:00, Wed 10:00
    Mon -> paid   (2 -> 1)
    Tue -> paid   (1 -> 0)
    Wed -> unpaid (0)
  final balance 0

Across students there is no ordering requirement.
*/
package ledger

import (
	"sort"
)

// Allocation is the outcome of one completion pass.
type Allocation struct {
	// Lessons holds every allocated lesson with its new status, ordered by
	// (student, datetime, id).
	Lessons []Lesson

	// Balances holds the final balance of every student that had at least
	// one due lesson.
	Balances map[StudentID]int

	Paid   int
	Unpaid int
}

// Completed returns how many lessons were completed.
func (a Allocation) Completed() int { return len(a.Lessons) }

// Allocate applies the completion rule to due pending lessons.
// balances must contain the stored balance of every owner in due.
// Lessons that are not pending are ignored, which keeps repeated passes
// idempotent.
func Allocate(due []Lesson, balances map[StudentID]int) Allocation {
	pending := make([]Lesson, 0, len(due))
	for _, l := range due {
		if l.Status == StatusPending {
			pending = append(pending, l)
		}
	}
	sortChronological(pending)

	out := Allocation{
		Lessons:  make([]Lesson, 0, len(pending)),
		Balances: make(map[StudentID]int),
	}
	for _, l := range pending {
		running, seen := out.Balances[l.StudentID]
		if !seen {
			running = balances[l.StudentID]
		}

		if running > 0 {
			l.Status = StatusCompletedPaid
			running--
			out.Paid++
		} else {
			l.Status = StatusCompletedUnpaid
			out.Unpaid++
		}

		out.Balances[l.StudentID] = running
		out.Lessons = append(out.Lessons, l)
	}
	return out
}

// sortChronological orders lessons by (student, datetime, id).
func sortChronological(lessons []Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		a, b := lessons[i], lessons[j]
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		if !a.Datetime.Equal(b.Datetime) {
			return a.Datetime.Before(b.Datetime)
		}
		return a.ID < b.ID
	})
}

// transition describes the balance effect of a manual status change.
//
//	from \ to        Pending   Paid                 Unpaid
//	Pending          0         -1                   0
//	Paid             +1        0                    0
//	Unpaid           0         +1 if balance < 0    0
//
// Paid -> Unpaid leaves balance alone (open question, see DESIGN.md).
func transition(from, to LessonStatus, balance int) int {
	switch {
	case from == to:
		return 0
	case from == StatusPending && to == StatusCompletedPaid:
		return -1
	case from == StatusCompletedPaid && to == StatusPending:
		return 1
	case from == StatusCompletedUnpaid && to == StatusCompletedPaid:
		if balance < 0 {
			return 1
		}
		return 0
	default:
		return 0
	}
}
