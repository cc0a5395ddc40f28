/*
Package ledger provides the lesson balance reconciliation engine.

PURPOSE:
  A tutor sells lessons in advance. Each student carries a balance counted
  in lessons: positive means prepaid lessons remain, negative means the
  student owes lessons. This package decides when a scheduled lesson has
  happened, whether it consumed a prepaid unit, and how weekly schedule
  slots turn into concrete lessons without duplicates.

KEY CONCEPTS IN THIS FILE (types.go):
  - Student: who is taught, with a signed lesson balance
  - Lesson: a concrete calendar lesson with an explicit LessonStatus
  - ScheduleSlot: a recurring weekly (Weekday, SlotTime) pattern
  - Weekday: Monday-first day index, distinct from time.Weekday
  - SweepRun: audit record of a completion pass that changed something

DESIGN PRINCIPLES:
  1. Explicit state: lesson status is a tagged variant, never two loose bools
  2. Single authority: only Engine mutates balance
  3. Injected dependencies: store and clock are handed to the engine

SEE ALSO:
  - engine.go: Command surface
  - allocate.go: Completion and payment allocation
  - expand.go: Schedule expansion
  - store.go: Persistence interfaces
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StudentID int64
type LessonID int64
type SlotID int64

// =============================================================================
// STUDENT
// =============================================================================

// Student is a taught person and their lesson balance.
type Student struct {
	ID        StudentID
	Name      string
	Balance   int
	CreatedAt time.Time

	// CompletedLessons is derived by the store, not persisted.
	CompletedLessons int
}

// =============================================================================
// LESSON STATUS - Tagged variant over (is_completed, is_paid)
// =============================================================================

// LessonStatus is the lifecycle state of a lesson.
//
// Storage keeps two booleans. The (completed=false, paid=true) pair has no
// meaning for balance accounting and normalizes to StatusPending.
type LessonStatus int

const (
	StatusPending LessonStatus = iota
	StatusCompletedPaid
	StatusCompletedUnpaid
)

// StatusFromFlags converts the storage pair into a status.
func StatusFromFlags(completed, paid bool) LessonStatus {
	switch {
	case completed && paid:
		return StatusCompletedPaid
	case completed:
		return StatusCompletedUnpaid
	default:
		return StatusPending
	}
}

// Flags converts a status back into the storage pair.
func (s LessonStatus) Flags() (completed, paid bool) {
	switch s {
	case StatusCompletedPaid:
		return true, true
	case StatusCompletedUnpaid:
		return true, false
	default:
		return false, false
	}
}

func (s LessonStatus) IsCompleted() bool { return s != StatusPending }
func (s LessonStatus) IsPaid() bool      { return s == StatusCompletedPaid }

// ConsumesBalance reports whether a lesson in this state holds one unit of
// the student's balance.
func (s LessonStatus) ConsumesBalance() bool { return s == StatusCompletedPaid }

func (s LessonStatus) String() string {
	switch s {
	case StatusCompletedPaid:
		return "paid"
	case StatusCompletedUnpaid:
		return "unpaid"
	default:
		return "pending"
	}
}

// =============================================================================
// LESSON
// =============================================================================

// Lesson is one concrete lesson on the calendar.
type Lesson struct {
	ID        LessonID
	StudentID StudentID
	Datetime  time.Time

	// PreviousDatetime is the datetime before the latest reschedule.
	// Only the immediately preceding value is kept.
	PreviousDatetime *time.Time

	Status    LessonStatus
	CreatedAt time.Time
}

// EndsAt returns when the lesson is over.
func (l Lesson) EndsAt(duration time.Duration) time.Time {
	return l.Datetime.Add(duration)
}

// IsDue reports whether the lesson is eligible for completion at now.
func (l Lesson) IsDue(now time.Time, duration time.Duration) bool {
	return !now.Before(l.EndsAt(duration))
}

// LessonView is a lesson joined with its owner, as shown on a calendar.
type LessonView struct {
	Lesson
	StudentName    string
	StudentBalance int
}

// LessonUpdate carries the optional fields of an edit.
// Nil means "leave unchanged".
type LessonUpdate struct {
	Datetime  *time.Time
	Completed *bool
	Paid      *bool
}

// IsEmpty reports whether the update changes nothing.
func (u LessonUpdate) IsEmpty() bool {
	return u.Datetime == nil && u.Completed == nil && u.Paid == nil
}

// =============================================================================
// WEEKDAY - Monday-first (0=Monday..6=Sunday)
// =============================================================================

// Weekday is a Monday-first day index. time.Weekday is Sunday-first, so
// conversions must go through WeekdayOf and TimeWeekday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf normalizes a Go weekday to the Monday-first index.
func WeekdayOf(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % 7)
}

// TimeWeekday converts back to Go's Sunday-first weekday.
func (w Weekday) TimeWeekday() time.Weekday {
	return time.Weekday((int(w) + 1) % 7)
}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return w.TimeWeekday().String()
}

// =============================================================================
// SLOT TIME - Local wall-clock HH:MM
// =============================================================================

type SlotTime struct {
	Hour   int
	Minute int
}

// ParseSlotTime parses "HH:MM" (24h).
func ParseSlotTime(s string) (SlotTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return SlotTime{}, &ArgumentError{Field: "time", Value: s, Reason: "expected HH:MM"}
	}
	return SlotTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustSlotTime is ParseSlotTime for constants and tests.
func MustSlotTime(s string) SlotTime {
	st, err := ParseSlotTime(s)
	if err != nil {
		panic(err)
	}
	return st
}

func (t SlotTime) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Before orders slot times within a day.
func (t SlotTime) Before(o SlotTime) bool {
	return t.Hour < o.Hour || (t.Hour == o.Hour && t.Minute < o.Minute)
}

// =============================================================================
// SCHEDULE SLOT
// =============================================================================

// ScheduleSlot is a recurring weekly lesson pattern for one student.
type ScheduleSlot struct {
	ID        SlotID
	StudentID StudentID
	DayOfWeek Weekday
	Time      SlotTime
	IsActive  bool
	CreatedAt time.Time
}

// On returns the slot's instant in the week starting at weekStart
// (a Monday 00:00 in the wanted location).
func (s ScheduleSlot) On(weekStart time.Time) time.Time {
	day := weekStart.AddDate(0, 0, int(s.DayOfWeek))
	return time.Date(day.Year(), day.Month(), day.Day(), s.Time.Hour, s.Time.Minute, 0, 0, weekStart.Location())
}

// =============================================================================
// SWEEP RUN - Audit of a completion pass
// =============================================================================

type SweepTrigger string

const (
	TriggerSweep   SweepTrigger = "sweep"
	TriggerTimer   SweepTrigger = "timer"
	TriggerCommand SweepTrigger = "command"
)

// SweepRun records one completion pass that completed at least one lesson.
type SweepRun struct {
	ID         string
	Trigger    SweepTrigger
	StartedAt  time.Time
	FinishedAt time.Time
	Completed  int
	Paid       int
	Unpaid     int
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// WeekStart returns Monday 00:00 of the week containing t, in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	offset := int(WeekdayOf(local.Weekday()))
	day := local.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
}
