/*
engine.go - Command surface of the reconciliation engine

PURPOSE:
  Every mutation of students, lessons and schedule slots goes through the
  Engine. Each command runs as one atomic unit (TxStore.WithTx) under the
  engine mutex, so commands, periodic sweeps and timer callbacks never
  interleave.

BALANCE EFFECTS (summary):
  completion pass   paid lessons take 1 each, in datetime order
  top-up            oldest unpaid lessons settled, then expansion
  manual edits      see transition() in allocate.go
  delete lesson     +1 only if it was CompletedPaid
  delete student    cascades, no balance change

CHANGE HOOKS:
  OnChange registers callbacks invoked after every successful mutation,
  outside the engine lock. LessonTimers uses it to re-arm.

SEE ALSO:
  - allocate.go: The completion rule
  - expand.go: Expansion candidates
  - timers.go: Per-lesson timers
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    TxStore
	clock    Clock
	settings Settings
	logger   *zap.Logger

	// mu serializes writers.
	mu sync.Mutex

	hooksMu sync.RWMutex
	hooks   []func()
}

// NewEngine wires an engine to its store and clock.
func NewEngine(store TxStore, clock Clock, settings Settings, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Location == nil {
		settings.Location = time.Local
	}
	return &Engine{
		store:    store,
		clock:    clock,
		settings: settings,
		logger:   logger.Named("engine"),
	}
}

func (e *Engine) Settings() Settings { return e.settings }
func (e *Engine) Clock() Clock       { return e.clock }

// OnChange registers fn to run after every successful mutation.
func (e *Engine) OnChange(fn func()) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

func (e *Engine) notify() {
	e.hooksMu.RLock()
	hooks := append([]func(){}, e.hooks...)
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

// write runs fn as one atomic unit under the writer lock.
func (e *Engine) write(ctx context.Context, fn func(Store) error) error {
	e.mu.Lock()
	err := e.store.WithTx(ctx, fn)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()
	return nil
}

// normalize matches the precision and zone the store keeps.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// =============================================================================
// STUDENTS
// =============================================================================

func (e *Engine) ListStudents(ctx context.Context) ([]Student, error) {
	return e.store.ListStudents(ctx)
}

// SearchStudents returns students whose name contains query, ignoring case.
// An empty query returns everyone.
func (e *Engine) SearchStudents(ctx context.Context, query string) ([]Student, error) {
	students, err := e.store.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return students, nil
	}
	out := make([]Student, 0, len(students))
	for _, s := range students {
		if strings.Contains(strings.ToLower(s.Name), q) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (e *Engine) GetStudent(ctx context.Context, id StudentID) (Student, error) {
	return e.store.GetStudent(ctx, id)
}

// CreateStudent adds a student and fills their schedule window.
func (e *Engine) CreateStudent(ctx context.Context, name string, balance int) (Student, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Student{}, &ArgumentError{Field: "name", Value: name, Reason: "must not be empty"}
	}

	var st Student
	err := e.write(ctx, func(tx Store) error {
		var err error
		st, err = tx.CreateStudent(ctx, name, balance)
		if err != nil {
			return fmt.Errorf("create student: %w", err)
		}
		_, err = e.expand(ctx, tx, st.ID)
		return err
	})
	if err != nil {
		return Student{}, err
	}

	e.logger.Info("student created",
		zap.Int64("student_id", int64(st.ID)),
		zap.Int("balance", st.Balance),
	)
	return st, nil
}

// DeleteStudent removes the student with all lessons and slots.
func (e *Engine) DeleteStudent(ctx context.Context, id StudentID) error {
	err := e.write(ctx, func(tx Store) error {
		if _, err := tx.GetStudent(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteStudent(ctx, id); err != nil {
			return fmt.Errorf("delete student %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("student deleted", zap.Int64("student_id", int64(id)))
	return nil
}

// AdjustBalance adds delta to the balance. A positive delta first settles
// the oldest completed-unpaid lessons (at most delta of them, according to
// the top-up policy) and then expands the schedule.
func (e *Engine) AdjustBalance(ctx context.Context, id StudentID, delta int) (Student, error) {
	var (
		st      Student
		settled int
		created int
	)
	err := e.write(ctx, func(tx Store) error {
		var err error
		st, err = tx.GetStudent(ctx, id)
		if err != nil {
			return err
		}
		if delta == 0 {
			return nil
		}

		balance := st.Balance + delta
		if delta > 0 {
			unpaid, err := tx.ListCompletedUnpaid(ctx, id, delta)
			if err != nil {
				return fmt.Errorf("list unpaid lessons of student %d: %w", id, err)
			}
			for _, l := range unpaid {
				l.Status = StatusCompletedPaid
				if err := tx.SaveLesson(ctx, l); err != nil {
					return fmt.Errorf("settle lesson %d: %w", l.ID, err)
				}
				if e.settings.TopUp == TopUpSettleAndDebit {
					balance--
				}
				settled++
			}
		}

		if err := tx.SetBalance(ctx, id, balance); err != nil {
			return fmt.Errorf("set balance of student %d: %w", id, err)
		}

		if delta > 0 {
			if created, err = e.expand(ctx, tx, id); err != nil {
				return err
			}
		}

		st, err = tx.GetStudent(ctx, id)
		return err
	})
	if err != nil {
		return Student{}, err
	}

	if delta != 0 {
		e.logger.Info("balance adjusted",
			zap.Int64("student_id", int64(id)),
			zap.Int("delta", delta),
			zap.Int("balance", st.Balance),
			zap.Int("settled", settled),
			zap.Int("created", created),
		)
	}
	return st, nil
}

// =============================================================================
// LESSONS
// =============================================================================

// ListLessons returns lessons with from <= datetime < to.
func (e *Engine) ListLessons(ctx context.Context, from, to time.Time) ([]LessonView, error) {
	if !to.After(from) {
		return nil, &ArgumentError{Field: "range", Value: fmt.Sprintf("%s..%s", from, to), Reason: "end must be after start"}
	}
	return e.store.ListLessons(ctx, normalize(from), normalize(to))
}

func (e *Engine) GetLesson(ctx context.Context, id LessonID) (Lesson, error) {
	return e.store.GetLesson(ctx, id)
}

// CreateLesson adds a lesson. A completed-paid lesson consumes one unit.
// A pending lesson that is already due is completed right away.
func (e *Engine) CreateLesson(ctx context.Context, studentID StudentID, at time.Time, paid, completed bool) (Lesson, error) {
	if at.IsZero() {
		return Lesson{}, &ArgumentError{Field: "datetime", Value: at, Reason: "is required"}
	}
	status := StatusFromFlags(completed, paid)

	var l Lesson
	err := e.write(ctx, func(tx Store) error {
		st, err := tx.GetStudent(ctx, studentID)
		if err != nil {
			return err
		}

		l, err = tx.CreateLesson(ctx, Lesson{
			StudentID: studentID,
			Datetime:  normalize(at),
			Status:    status,
		})
		if err != nil {
			return fmt.Errorf("create lesson for student %d: %w", studentID, err)
		}

		if d := transition(StatusPending, status, st.Balance); d != 0 {
			if err := tx.SetBalance(ctx, studentID, st.Balance+d); err != nil {
				return fmt.Errorf("set balance of student %d: %w", studentID, err)
			}
		}

		if status == StatusPending && l.IsDue(e.clock.Now(), e.settings.LessonDuration) {
			if _, err := e.complete(ctx, tx, studentID, TriggerCommand); err != nil {
				return err
			}
			l, err = tx.GetLesson(ctx, l.ID)
		}
		return err
	})
	if err != nil {
		return Lesson{}, err
	}

	e.logger.Debug("lesson created",
		zap.Int64("lesson_id", int64(l.ID)),
		zap.Int64("student_id", int64(studentID)),
		zap.Time("datetime", l.Datetime),
		zap.Stringer("status", l.Status),
	)
	return l, nil
}

// UpdateLesson edits datetime and/or completion flags.
//
// A datetime change records the old value as PreviousDatetime. Without
// explicit flags a completed lesson moved into the future becomes pending
// again. Unless completion is set explicitly, a pending lesson moved into
// the past is completed with its student's due batch. Completing a pending
// lesson without a paid flag charges it when the balance allows.
func (e *Engine) UpdateLesson(ctx context.Context, id LessonID, u LessonUpdate) (Lesson, error) {
	if u.IsEmpty() {
		return e.store.GetLesson(ctx, id)
	}
	if u.Datetime != nil && u.Datetime.IsZero() {
		return Lesson{}, &ArgumentError{Field: "datetime", Value: *u.Datetime, Reason: "must not be zero"}
	}

	var l Lesson
	err := e.write(ctx, func(tx Store) error {
		var err error
		l, err = tx.GetLesson(ctx, id)
		if err != nil {
			return err
		}
		st, err := tx.GetStudent(ctx, l.StudentID)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		from := l.Status
		to := l.Status

		moved := false
		if u.Datetime != nil {
			at := normalize(*u.Datetime)
			if !at.Equal(l.Datetime) {
				prev := l.Datetime
				l.PreviousDatetime = &prev
				l.Datetime = at
				moved = true
			}
		}

		explicit := u.Completed != nil || u.Paid != nil
		switch {
		case explicit:
			completed, paid := l.Status.Flags()
			if u.Completed != nil {
				completed = *u.Completed
			}
			switch {
			case u.Paid != nil:
				paid = *u.Paid
			case from == StatusPending && completed:
				// manual completion follows the sweep's payment rule
				paid = st.Balance > 0
			}
			to = StatusFromFlags(completed, paid)
		case moved && from.IsCompleted() && !l.IsDue(now, e.settings.LessonDuration):
			to = StatusPending
		}

		l.Status = to
		if err := tx.SaveLesson(ctx, l); err != nil {
			return fmt.Errorf("save lesson %d: %w", id, err)
		}
		if d := transition(from, to, st.Balance); d != 0 {
			if err := tx.SetBalance(ctx, st.ID, st.Balance+d); err != nil {
				return fmt.Errorf("set balance of student %d: %w", st.ID, err)
			}
		}

		if moved && u.Completed == nil && to == StatusPending && l.IsDue(now, e.settings.LessonDuration) {
			if _, err := e.complete(ctx, tx, st.ID, TriggerCommand); err != nil {
				return err
			}
			l, err = tx.GetLesson(ctx, id)
		}
		return err
	})
	if err != nil {
		return Lesson{}, err
	}
	return l, nil
}

// ToggleLessonPayment flips a completed lesson between paid and unpaid.
// Marking paid while the student is in debt repays one unit of that debt.
func (e *Engine) ToggleLessonPayment(ctx context.Context, id LessonID) (Lesson, error) {
	var l Lesson
	err := e.write(ctx, func(tx Store) error {
		var err error
		l, err = tx.GetLesson(ctx, id)
		if err != nil {
			return err
		}
		if !l.Status.IsCompleted() {
			return &InvalidStateError{Op: "toggle payment", LessonID: id, Reason: "lesson is not completed"}
		}
		st, err := tx.GetStudent(ctx, l.StudentID)
		if err != nil {
			return err
		}

		from := l.Status
		l.Status = StatusCompletedPaid
		if from == StatusCompletedPaid {
			l.Status = StatusCompletedUnpaid
		}
		if err := tx.SaveLesson(ctx, l); err != nil {
			return fmt.Errorf("save lesson %d: %w", id, err)
		}
		if d := transition(from, l.Status, st.Balance); d != 0 {
			if err := tx.SetBalance(ctx, st.ID, st.Balance+d); err != nil {
				return fmt.Errorf("set balance of student %d: %w", st.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return Lesson{}, err
	}
	return l, nil
}

// DeleteLesson removes a lesson, refunding it if it consumed balance.
func (e *Engine) DeleteLesson(ctx context.Context, id LessonID) error {
	return e.write(ctx, func(tx Store) error {
		l, err := tx.GetLesson(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteLesson(ctx, id); err != nil {
			return fmt.Errorf("delete lesson %d: %w", id, err)
		}
		if !l.Status.ConsumesBalance() {
			return nil
		}
		st, err := tx.GetStudent(ctx, l.StudentID)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, st.ID, st.Balance+1); err != nil {
			return fmt.Errorf("refund student %d: %w", st.ID, err)
		}
		return nil
	})
}

// =============================================================================
// COMPLETION
// =============================================================================

// RunCompletionSweep completes every due pending lesson and returns how
// many were completed.
func (e *Engine) RunCompletionSweep(ctx context.Context) (int, error) {
	return e.runCompletion(ctx, 0, TriggerSweep)
}

// CompleteDue is the timer path: it completes the due batch of the lesson's
// student. Nothing happens if the lesson is already completed or not due.
func (e *Engine) CompleteDue(ctx context.Context, id LessonID) (int, error) {
	var alloc Allocation
	err := e.write(ctx, func(tx Store) error {
		l, err := tx.GetLesson(ctx, id)
		if err != nil {
			return err
		}
		if l.Status.IsCompleted() || !l.IsDue(e.clock.Now(), e.settings.LessonDuration) {
			return nil
		}
		alloc, err = e.complete(ctx, tx, l.StudentID, TriggerTimer)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logAllocation(TriggerTimer, alloc)
	return alloc.Completed(), nil
}

func (e *Engine) runCompletion(ctx context.Context, studentID StudentID, trigger SweepTrigger) (int, error) {
	var alloc Allocation
	err := e.write(ctx, func(tx Store) error {
		var err error
		alloc, err = e.complete(ctx, tx, studentID, trigger)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logAllocation(trigger, alloc)
	return alloc.Completed(), nil
}

// complete loads due pending lessons (of one student, or all when
// studentID is 0), allocates them and persists the result through tx.
func (e *Engine) complete(ctx context.Context, tx Store, studentID StudentID, trigger SweepTrigger) (Allocation, error) {
	started := e.clock.Now()
	cutoff := started.Add(-e.settings.LessonDuration)

	due, err := tx.ListPendingStartedBefore(ctx, normalize(cutoff), studentID)
	if err != nil {
		return Allocation{}, fmt.Errorf("list due lessons: %w", err)
	}
	if len(due) == 0 {
		return Allocation{}, nil
	}

	balances := make(map[StudentID]int)
	for _, l := range due {
		if _, ok := balances[l.StudentID]; ok {
			continue
		}
		st, err := tx.GetStudent(ctx, l.StudentID)
		if err != nil {
			return Allocation{}, err
		}
		balances[st.ID] = st.Balance
	}

	alloc := Allocate(due, balances)
	for _, l := range alloc.Lessons {
		if err := tx.SaveLesson(ctx, l); err != nil {
			return Allocation{}, fmt.Errorf("complete lesson %d: %w", l.ID, err)
		}
	}
	for id, balance := range alloc.Balances {
		if balance == balances[id] {
			continue
		}
		if err := tx.SetBalance(ctx, id, balance); err != nil {
			return Allocation{}, fmt.Errorf("set balance of student %d: %w", id, err)
		}
	}

	run := SweepRun{
		ID:         uuid.NewString(),
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: e.clock.Now(),
		Completed:  alloc.Completed(),
		Paid:       alloc.Paid,
		Unpaid:     alloc.Unpaid,
	}
	if err := tx.SaveSweepRun(ctx, run); err != nil {
		return Allocation{}, fmt.Errorf("record sweep run: %w", err)
	}
	return alloc, nil
}

func (e *Engine) logAllocation(trigger SweepTrigger, alloc Allocation) {
	if alloc.Completed() == 0 {
		return
	}
	e.logger.Info("lessons completed",
		zap.String("trigger", string(trigger)),
		zap.Int("completed", alloc.Completed()),
		zap.Int("paid", alloc.Paid),
		zap.Int("unpaid", alloc.Unpaid),
	)
}

func (e *Engine) ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListSweepRuns(ctx, limit)
}

// =============================================================================
// SCHEDULE SLOTS
// =============================================================================

func (e *Engine) ListScheduleSlots(ctx context.Context, studentID StudentID) ([]ScheduleSlot, error) {
	if _, err := e.store.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	return e.store.ListSlots(ctx, studentID)
}

// CreateScheduleSlot adds a weekly slot. An inactive slot at the same
// (day, time) is reactivated instead; an active one is ErrAlreadyExists.
// Creating a slot does not expand the schedule.
func (e *Engine) CreateScheduleSlot(ctx context.Context, studentID StudentID, day Weekday, at SlotTime) (ScheduleSlot, error) {
	if !day.Valid() {
		return ScheduleSlot{}, &ArgumentError{Field: "day_of_week", Value: int(day), Reason: "must be 0 (Monday) to 6 (Sunday)"}
	}
	if at.Hour < 0 || at.Hour > 23 || at.Minute < 0 || at.Minute > 59 {
		return ScheduleSlot{}, &ArgumentError{Field: "time", Value: at, Reason: "expected HH:MM"}
	}

	var slot ScheduleSlot
	err := e.write(ctx, func(tx Store) error {
		if _, err := tx.GetStudent(ctx, studentID); err != nil {
			return err
		}

		existing, found, err := tx.FindSlot(ctx, studentID, day, at)
		if err != nil {
			return fmt.Errorf("find slot: %w", err)
		}
		if found {
			if existing.IsActive {
				return &SlotExistsError{StudentID: studentID, DayOfWeek: day, Time: at, SlotID: existing.ID}
			}
			if err := tx.SetSlotActive(ctx, existing.ID, true); err != nil {
				return fmt.Errorf("reactivate slot %d: %w", existing.ID, err)
			}
			existing.IsActive = true
			slot = existing
			return nil
		}

		slot, err = tx.CreateSlot(ctx, ScheduleSlot{
			StudentID: studentID,
			DayOfWeek: day,
			Time:      at,
			IsActive:  true,
		})
		if err != nil {
			return fmt.Errorf("create slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return ScheduleSlot{}, err
	}
	return slot, nil
}

// DeactivateScheduleSlot stops a slot from producing lessons. Lessons it
// already produced stay.
func (e *Engine) DeactivateScheduleSlot(ctx context.Context, id SlotID) (ScheduleSlot, error) {
	return e.setSlotActive(ctx, id, func(bool) bool { return false })
}

func (e *Engine) ReactivateScheduleSlot(ctx context.Context, id SlotID) (ScheduleSlot, error) {
	return e.setSlotActive(ctx, id, func(bool) bool { return true })
}

func (e *Engine) ToggleScheduleSlot(ctx context.Context, id SlotID) (ScheduleSlot, error) {
	return e.setSlotActive(ctx, id, func(active bool) bool { return !active })
}

func (e *Engine) setSlotActive(ctx context.Context, id SlotID, next func(bool) bool) (ScheduleSlot, error) {
	var slot ScheduleSlot
	err := e.write(ctx, func(tx Store) error {
		var err error
		slot, err = tx.GetSlot(ctx, id)
		if err != nil {
			return err
		}
		active := next(slot.IsActive)
		if active == slot.IsActive {
			return nil
		}
		if active {
			// another active slot may have taken the same (day, time)
			other, found, err := tx.FindSlot(ctx, slot.StudentID, slot.DayOfWeek, slot.Time)
			if err != nil {
				return fmt.Errorf("find slot: %w", err)
			}
			if found && other.ID != slot.ID && other.IsActive {
				return &SlotExistsError{StudentID: slot.StudentID, DayOfWeek: slot.DayOfWeek, Time: slot.Time, SlotID: other.ID}
			}
		}
		if err := tx.SetSlotActive(ctx, id, active); err != nil {
			return fmt.Errorf("update slot %d: %w", id, err)
		}
		slot.IsActive = active
		return nil
	})
	if err != nil {
		return ScheduleSlot{}, err
	}
	return slot, nil
}

func (e *Engine) DeleteScheduleSlot(ctx context.Context, id SlotID) error {
	return e.write(ctx, func(tx Store) error {
		if _, err := tx.GetSlot(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteSlot(ctx, id); err != nil {
			return fmt.Errorf("delete slot %d: %w", id, err)
		}
		return nil
	})
}

// =============================================================================
// EXPANSION
// =============================================================================

// ExpandSchedule creates pending lessons for the student's active slots in
// the expansion window and returns how many were created.
func (e *Engine) ExpandSchedule(ctx context.Context, studentID StudentID) (int, error) {
	var created int
	err := e.write(ctx, func(tx Store) error {
		var err error
		created, err = e.expand(ctx, tx, studentID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// expand walks the window's candidates in chronological order. Occupied
// instants (a lesson is there, or was moved away from there) are skipped.
// With gating on, lessons are created while the balance not yet promised
// to pending lessons stays positive.
func (e *Engine) expand(ctx context.Context, tx Store, studentID StudentID) (int, error) {
	st, err := tx.GetStudent(ctx, studentID)
	if err != nil {
		return 0, err
	}
	slots, err := tx.ListSlots(ctx, studentID)
	if err != nil {
		return 0, fmt.Errorf("list slots of student %d: %w", studentID, err)
	}

	now := e.clock.Now()
	window := ExpansionWindow(now, e.settings.Location, e.settings.WindowWeeks)
	candidates := ExpansionCandidates(slots, now, window)
	if len(candidates) == 0 {
		return 0, nil
	}

	budget := 0
	if e.settings.GateOnBalance {
		pending, err := tx.CountPending(ctx, studentID)
		if err != nil {
			return 0, fmt.Errorf("count pending lessons of student %d: %w", studentID, err)
		}
		budget = st.Balance - pending
		if budget <= 0 {
			return 0, nil
		}
	}

	created := 0
	for _, c := range candidates {
		if e.settings.GateOnBalance && budget <= 0 {
			break
		}
		at := normalize(c.At)
		occupied, err := tx.IsOccupied(ctx, studentID, at)
		if err != nil {
			return created, fmt.Errorf("check %s for student %d: %w", at, studentID, err)
		}
		if occupied {
			continue
		}
		if _, err := tx.CreateLesson(ctx, Lesson{StudentID: studentID, Datetime: at, Status: StatusPending}); err != nil {
			return created, fmt.Errorf("create lesson at %s for student %d: %w", at, studentID, err)
		}
		created++
		budget--
	}

	if created > 0 {
		e.logger.Debug("schedule expanded",
			zap.Int64("student_id", int64(studentID)),
			zap.Int("created", created),
			zap.Time("window_start", window.Start),
			zap.Time("window_end", window.End),
		)
	}
	return created, nil
}
