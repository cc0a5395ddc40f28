/*
store.go - Persistence interface for students, lessons and schedule slots

PURPOSE:
  Defines the boundary between the reconciliation engine and the database.
  The engine never talks SQL; it asks the Store for rows and hands back
  changed rows. Different implementations can use SQLite or memory.

KEY INTERFACES:
  Store:   CRUD for the three entities, reconciliation queries, sweep runs
  TxStore: Store plus WithTx, the atomic unit for every engine command

ATOMIC UNITS:
  A completion pass marks lessons completed AND moves balances. Both happen
  inside one WithTx call so a crash can never leave a completed lesson
  without its balance consequence (or the reverse).

NOT-FOUND CONTRACT:
  Get* methods return an error wrapping ErrNotFound (see errors.go) when the
  row does not exist. Update and Delete on a missing row do the same.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, goose-managed schema
  - ledger/store/memory.go: In-memory for tests

SEE ALSO:
  - engine.go: The only caller
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Students

	CreateStudent(ctx context.Context, name string, balance int) (Student, error)
	GetStudent(ctx context.Context, id StudentID) (Student, error)
	// ListStudents returns students ordered by name, with CompletedLessons set.
	ListStudents(ctx context.Context) ([]Student, error)
	SetBalance(ctx context.Context, id StudentID, balance int) error
	// DeleteStudent removes the student and cascades to lessons and slots.
	DeleteStudent(ctx context.Context, id StudentID) error

	// Lessons

	CreateLesson(ctx context.Context, l Lesson) (Lesson, error)
	GetLesson(ctx context.Context, id LessonID) (Lesson, error)
	// SaveLesson overwrites datetime, previous datetime and status.
	SaveLesson(ctx context.Context, l Lesson) error
	DeleteLesson(ctx context.Context, id LessonID) error

	// ListLessons returns lessons with from <= datetime < to, joined with
	// their student, ordered by datetime.
	ListLessons(ctx context.Context, from, to time.Time) ([]LessonView, error)

	// ListPendingStartedBefore returns pending lessons with datetime <= t,
	// ordered by (student, datetime, id). Optional studentID filter (0 = all).
	ListPendingStartedBefore(ctx context.Context, t time.Time, studentID StudentID) ([]Lesson, error)

	// ListPendingBetween returns pending lessons with from < datetime <= to,
	// ordered by datetime. Used to arm per-lesson timers.
	ListPendingBetween(ctx context.Context, from, to time.Time) ([]Lesson, error)

	// CountPending returns how many pending lessons the student has.
	CountPending(ctx context.Context, studentID StudentID) (int, error)

	// ListCompletedUnpaid returns the student's oldest completed-unpaid
	// lessons, datetime ascending, at most limit rows.
	ListCompletedUnpaid(ctx context.Context, studentID StudentID, limit int) ([]Lesson, error)

	// IsOccupied reports whether any lesson of the student is at t, or was
	// rescheduled away from t.
	IsOccupied(ctx context.Context, studentID StudentID, t time.Time) (bool, error)

	// Schedule slots

	CreateSlot(ctx context.Context, s ScheduleSlot) (ScheduleSlot, error)
	GetSlot(ctx context.Context, id SlotID) (ScheduleSlot, error)
	// FindSlot returns the slot at (day, time) for the student, active or
	// not. found is false when there is none.
	FindSlot(ctx context.Context, studentID StudentID, day Weekday, t SlotTime) (slot ScheduleSlot, found bool, err error)
	// ListSlots returns all slots of the student ordered by (day, time).
	ListSlots(ctx context.Context, studentID StudentID) ([]ScheduleSlot, error)
	SetSlotActive(ctx context.Context, id SlotID, active bool) error
	DeleteSlot(ctx context.Context, id SlotID) error

	// Sweep runs

	SaveSweepRun(ctx context.Context, run SweepRun) error
	ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// rolled back. If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
