// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/tutor-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// state holds the tables. Its methods assume the caller holds the lock.
type state struct {
	students map[ledger.StudentID]ledger.Student
	lessons  map[ledger.LessonID]ledger.Lesson
	slots    map[ledger.SlotID]ledger.ScheduleSlot
	runs     []ledger.SweepRun

	nextStudent ledger.StudentID
	nextLesson  ledger.LessonID
	nextSlot    ledger.SlotID
}

func newState() *state {
	return &state{
		students: make(map[ledger.StudentID]ledger.Student),
		lessons:  make(map[ledger.LessonID]ledger.Lesson),
		slots:    make(map[ledger.SlotID]ledger.ScheduleSlot),
	}
}

func (s *state) clone() *state {
	c := *s
	c.students = make(map[ledger.StudentID]ledger.Student, len(s.students))
	for k, v := range s.students {
		c.students[k] = v
	}
	c.lessons = make(map[ledger.LessonID]ledger.Lesson, len(s.lessons))
	for k, v := range s.lessons {
		c.lessons[k] = v
	}
	c.slots = make(map[ledger.SlotID]ledger.ScheduleSlot, len(s.slots))
	for k, v := range s.slots {
		c.slots[k] = v
	}
	c.runs = append([]ledger.SweepRun(nil), s.runs...)
	return &c
}

func stamp(t time.Time) time.Time { return t.UTC().Truncate(time.Second) }

// --- students ---

func (s *state) createStudent(name string, balance int) ledger.Student {
	s.nextStudent++
	st := ledger.Student{ID: s.nextStudent, Name: name, Balance: balance, CreatedAt: stamp(time.Now())}
	s.students[st.ID] = st
	return st
}

func (s *state) getStudent(id ledger.StudentID) (ledger.Student, error) {
	st, ok := s.students[id]
	if !ok {
		return ledger.Student{}, ledger.StudentNotFound(id)
	}
	st.CompletedLessons = s.completedCount(id)
	return st, nil
}

func (s *state) completedCount(id ledger.StudentID) int {
	n := 0
	for _, l := range s.lessons {
		if l.StudentID == id && l.Status.IsCompleted() {
			n++
		}
	}
	return n
}

func (s *state) listStudents() []ledger.Student {
	out := make([]ledger.Student, 0, len(s.students))
	for id := range s.students {
		st, _ := s.getStudent(id)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *state) setBalance(id ledger.StudentID, balance int) error {
	st, ok := s.students[id]
	if !ok {
		return ledger.StudentNotFound(id)
	}
	st.Balance = balance
	s.students[id] = st
	return nil
}

func (s *state) deleteStudent(id ledger.StudentID) error {
	if _, ok := s.students[id]; !ok {
		return ledger.StudentNotFound(id)
	}
	delete(s.students, id)
	for lid, l := range s.lessons {
		if l.StudentID == id {
			delete(s.lessons, lid)
		}
	}
	for sid, sl := range s.slots {
		if sl.StudentID == id {
			delete(s.slots, sid)
		}
	}
	return nil
}

// --- lessons ---

func (s *state) createLesson(l ledger.Lesson) (ledger.Lesson, error) {
	if _, ok := s.students[l.StudentID]; !ok {
		return ledger.Lesson{}, ledger.StudentNotFound(l.StudentID)
	}
	s.nextLesson++
	l.ID = s.nextLesson
	l.Datetime = stamp(l.Datetime)
	if l.PreviousDatetime != nil {
		p := stamp(*l.PreviousDatetime)
		l.PreviousDatetime = &p
	}
	l.CreatedAt = stamp(time.Now())
	s.lessons[l.ID] = l
	return l, nil
}

func (s *state) getLesson(id ledger.LessonID) (ledger.Lesson, error) {
	l, ok := s.lessons[id]
	if !ok {
		return ledger.Lesson{}, ledger.LessonNotFound(id)
	}
	return l, nil
}

func (s *state) saveLesson(l ledger.Lesson) error {
	cur, ok := s.lessons[l.ID]
	if !ok {
		return ledger.LessonNotFound(l.ID)
	}
	cur.Datetime = stamp(l.Datetime)
	cur.PreviousDatetime = nil
	if l.PreviousDatetime != nil {
		p := stamp(*l.PreviousDatetime)
		cur.PreviousDatetime = &p
	}
	cur.Status = l.Status
	s.lessons[l.ID] = cur
	return nil
}

func (s *state) deleteLesson(id ledger.LessonID) error {
	if _, ok := s.lessons[id]; !ok {
		return ledger.LessonNotFound(id)
	}
	delete(s.lessons, id)
	return nil
}

func (s *state) filterLessons(keep func(ledger.Lesson) bool) []ledger.Lesson {
	var out []ledger.Lesson
	for _, l := range s.lessons {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func byDatetime(lessons []ledger.Lesson) {
	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].Datetime.Equal(lessons[j].Datetime) {
			return lessons[i].ID < lessons[j].ID
		}
		return lessons[i].Datetime.Before(lessons[j].Datetime)
	})
}

func (s *state) listLessons(from, to time.Time) []ledger.LessonView {
	lessons := s.filterLessons(func(l ledger.Lesson) bool {
		return !l.Datetime.Before(from) && l.Datetime.Before(to)
	})
	byDatetime(lessons)
	out := make([]ledger.LessonView, 0, len(lessons))
	for _, l := range lessons {
		st := s.students[l.StudentID]
		out = append(out, ledger.LessonView{Lesson: l, StudentName: st.Name, StudentBalance: st.Balance})
	}
	return out
}

func (s *state) listPendingStartedBefore(t time.Time, studentID ledger.StudentID) []ledger.Lesson {
	lessons := s.filterLessons(func(l ledger.Lesson) bool {
		return l.Status == ledger.StatusPending &&
			!l.Datetime.After(t) &&
			(studentID == 0 || l.StudentID == studentID)
	})
	sort.Slice(lessons, func(i, j int) bool {
		a, b := lessons[i], lessons[j]
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		if !a.Datetime.Equal(b.Datetime) {
			return a.Datetime.Before(b.Datetime)
		}
		return a.ID < b.ID
	})
	return lessons
}

func (s *state) listPendingBetween(from, to time.Time) []ledger.Lesson {
	lessons := s.filterLessons(func(l ledger.Lesson) bool {
		return l.Status == ledger.StatusPending && l.Datetime.After(from) && !l.Datetime.After(to)
	})
	byDatetime(lessons)
	return lessons
}

func (s *state) countPending(studentID ledger.StudentID) int {
	return len(s.filterLessons(func(l ledger.Lesson) bool {
		return l.StudentID == studentID && l.Status == ledger.StatusPending
	}))
}

func (s *state) listCompletedUnpaid(studentID ledger.StudentID, limit int) []ledger.Lesson {
	lessons := s.filterLessons(func(l ledger.Lesson) bool {
		return l.StudentID == studentID && l.Status == ledger.StatusCompletedUnpaid
	})
	byDatetime(lessons)
	if limit >= 0 && len(lessons) > limit {
		lessons = lessons[:limit]
	}
	return lessons
}

func (s *state) isOccupied(studentID ledger.StudentID, t time.Time) bool {
	t = stamp(t)
	for _, l := range s.lessons {
		if l.StudentID != studentID {
			continue
		}
		if l.Datetime.Equal(t) || (l.PreviousDatetime != nil && l.PreviousDatetime.Equal(t)) {
			return true
		}
	}
	return false
}

// --- slots ---

func (s *state) createSlot(sl ledger.ScheduleSlot) (ledger.ScheduleSlot, error) {
	if _, ok := s.students[sl.StudentID]; !ok {
		return ledger.ScheduleSlot{}, ledger.StudentNotFound(sl.StudentID)
	}
	if sl.IsActive {
		if other, ok := s.findSlot(sl.StudentID, sl.DayOfWeek, sl.Time); ok && other.IsActive {
			return ledger.ScheduleSlot{}, &ledger.SlotExistsError{
				StudentID: sl.StudentID, DayOfWeek: sl.DayOfWeek, Time: sl.Time, SlotID: other.ID,
			}
		}
	}
	s.nextSlot++
	sl.ID = s.nextSlot
	sl.CreatedAt = stamp(time.Now())
	s.slots[sl.ID] = sl
	return sl, nil
}

func (s *state) getSlot(id ledger.SlotID) (ledger.ScheduleSlot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return ledger.ScheduleSlot{}, ledger.SlotNotFound(id)
	}
	return sl, nil
}

// findSlot prefers an active match over inactive ones.
func (s *state) findSlot(studentID ledger.StudentID, day ledger.Weekday, t ledger.SlotTime) (ledger.ScheduleSlot, bool) {
	var (
		found ledger.ScheduleSlot
		ok    bool
	)
	for _, sl := range s.slots {
		if sl.StudentID != studentID || sl.DayOfWeek != day || sl.Time != t {
			continue
		}
		if !ok || (sl.IsActive && !found.IsActive) || (sl.IsActive == found.IsActive && sl.ID < found.ID) {
			found, ok = sl, true
		}
	}
	return found, ok
}

func (s *state) listSlots(studentID ledger.StudentID) []ledger.ScheduleSlot {
	var out []ledger.ScheduleSlot
	for _, sl := range s.slots {
		if sl.StudentID == studentID {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.Time != b.Time {
			return a.Time.Before(b.Time)
		}
		return a.ID < b.ID
	})
	return out
}

func (s *state) setSlotActive(id ledger.SlotID, active bool) error {
	sl, ok := s.slots[id]
	if !ok {
		return ledger.SlotNotFound(id)
	}
	sl.IsActive = active
	s.slots[id] = sl
	return nil
}

func (s *state) deleteSlot(id ledger.SlotID) error {
	if _, ok := s.slots[id]; !ok {
		return ledger.SlotNotFound(id)
	}
	delete(s.slots, id)
	return nil
}

// --- sweep runs ---

func (s *state) saveSweepRun(run ledger.SweepRun) {
	s.runs = append(s.runs, run)
}

func (s *state) listSweepRuns(limit int) []ledger.SweepRun {
	out := make([]ledger.SweepRun, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.runs[i])
	}
	return out
}

// =============================================================================
// STORE METHODS - Each takes the lock and delegates to state
// =============================================================================

func (m *Memory) CreateStudent(_ context.Context, name string, balance int) (ledger.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createStudent(name, balance), nil
}

func (m *Memory) GetStudent(_ context.Context, id ledger.StudentID) (ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getStudent(id)
}

func (m *Memory) ListStudents(_ context.Context) ([]ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listStudents(), nil
}

func (m *Memory) SetBalance(_ context.Context, id ledger.StudentID, balance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.setBalance(id, balance)
}

func (m *Memory) DeleteStudent(_ context.Context, id ledger.StudentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteStudent(id)
}

func (m *Memory) CreateLesson(_ context.Context, l ledger.Lesson) (ledger.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createLesson(l)
}

func (m *Memory) GetLesson(_ context.Context, id ledger.LessonID) (ledger.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getLesson(id)
}

func (m *Memory) SaveLesson(_ context.Context, l ledger.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveLesson(l)
}

func (m *Memory) DeleteLesson(_ context.Context, id ledger.LessonID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteLesson(id)
}

func (m *Memory) ListLessons(_ context.Context, from, to time.Time) ([]ledger.LessonView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listLessons(from, to), nil
}

func (m *Memory) ListPendingStartedBefore(_ context.Context, t time.Time, studentID ledger.StudentID) ([]ledger.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPendingStartedBefore(t, studentID), nil
}

func (m *Memory) ListPendingBetween(_ context.Context, from, to time.Time) ([]ledger.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPendingBetween(from, to), nil
}

func (m *Memory) CountPending(_ context.Context, studentID ledger.StudentID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.countPending(studentID), nil
}

func (m *Memory) ListCompletedUnpaid(_ context.Context, studentID ledger.StudentID, limit int) ([]ledger.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listCompletedUnpaid(studentID, limit), nil
}

func (m *Memory) IsOccupied(_ context.Context, studentID ledger.StudentID, t time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.isOccupied(studentID, t), nil
}

func (m *Memory) CreateSlot(_ context.Context, sl ledger.ScheduleSlot) (ledger.ScheduleSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createSlot(sl)
}

func (m *Memory) GetSlot(_ context.Context, id ledger.SlotID) (ledger.ScheduleSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getSlot(id)
}

func (m *Memory) FindSlot(_ context.Context, studentID ledger.StudentID, day ledger.Weekday, t ledger.SlotTime) (ledger.ScheduleSlot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sl, ok := m.st.findSlot(studentID, day, t)
	return sl, ok, nil
}

func (m *Memory) ListSlots(_ context.Context, studentID ledger.StudentID) ([]ledger.ScheduleSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listSlots(studentID), nil
}

func (m *Memory) SetSlotActive(_ context.Context, id ledger.SlotID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.setSlotActive(id, active)
}

func (m *Memory) DeleteSlot(_ context.Context, id ledger.SlotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteSlot(id)
}

func (m *Memory) SaveSweepRun(_ context.Context, run ledger.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.saveSweepRun(run)
	return nil
}

func (m *Memory) ListSweepRuns(_ context.Context, limit int) ([]ledger.SweepRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listSweepRuns(limit), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView is the Store handed to WithTx callbacks. The lock is already held.
type txView struct {
	st *state
}

func (v *txView) CreateStudent(_ context.Context, name string, balance int) (ledger.Student, error) {
	return v.st.createStudent(name, balance), nil
}

func (v *txView) GetStudent(_ context.Context, id ledger.StudentID) (ledger.Student, error) {
	return v.st.getStudent(id)
}

func (v *txView) ListStudents(_ context.Context) ([]ledger.Student, error) {
	return v.st.listStudents(), nil
}

func (v *txView) SetBalance(_ context.Context, id ledger.StudentID, balance int) error {
	return v.st.setBalance(id, balance)
}

func (v *txView) DeleteStudent(_ context.Context, id ledger.StudentID) error {
	return v.st.deleteStudent(id)
}

func (v *txView) CreateLesson(_ context.Context, l ledger.Lesson) (ledger.Lesson, error) {
	return v.st.createLesson(l)
}

func (v *txView) GetLesson(_ context.Context, id ledger.LessonID) (ledger.Lesson, error) {
	return v.st.getLesson(id)
}

func (v *txView) SaveLesson(_ context.Context, l ledger.Lesson) error {
	return v.st.saveLesson(l)
}

func (v *txView) DeleteLesson(_ context.Context, id ledger.LessonID) error {
	return v.st.deleteLesson(id)
}

func (v *txView) ListLessons(_ context.Context, from, to time.Time) ([]ledger.LessonView, error) {
	return v.st.listLessons(from, to), nil
}

func (v *txView) ListPendingStartedBefore(_ context.Context, t time.Time, studentID ledger.StudentID) ([]ledger.Lesson, error) {
	return v.st.listPendingStartedBefore(t, studentID), nil
}

func (v *txView) ListPendingBetween(_ context.Context, from, to time.Time) ([]ledger.Lesson, error) {
	return v.st.listPendingBetween(from, to), nil
}

func (v *txView) CountPending(_ context.Context, studentID ledger.StudentID) (int, error) {
	return v.st.countPending(studentID), nil
}

func (v *txView) ListCompletedUnpaid(_ context.Context, studentID ledger.StudentID, limit int) ([]ledger.Lesson, error) {
	return v.st.listCompletedUnpaid(studentID, limit), nil
}

func (v *txView) IsOccupied(_ context.Context, studentID ledger.StudentID, t time.Time) (bool, error) {
	return v.st.isOccupied(studentID, t), nil
}

func (v *txView) CreateSlot(_ context.Context, sl ledger.ScheduleSlot) (ledger.ScheduleSlot, error) {
	return v.st.createSlot(sl)
}

func (v *txView) GetSlot(_ context.Context, id ledger.SlotID) (ledger.ScheduleSlot, error) {
	return v.st.getSlot(id)
}

func (v *txView) FindSlot(_ context.Context, studentID ledger.StudentID, day ledger.Weekday, t ledger.SlotTime) (ledger.ScheduleSlot, bool, error) {
	sl, ok := v.st.findSlot(studentID, day, t)
	return sl, ok, nil
}

func (v *txView) ListSlots(_ context.Context, studentID ledger.StudentID) ([]ledger.ScheduleSlot, error) {
	return v.st.listSlots(studentID), nil
}

func (v *txView) SetSlotActive(_ context.Context, id ledger.SlotID, active bool) error {
	return v.st.setSlotActive(id, active)
}

func (v *txView) DeleteSlot(_ context.Context, id ledger.SlotID) error {
	return v.st.deleteSlot(id)
}

func (v *txView) SaveSweepRun(_ context.Context, run ledger.SweepRun) error {
	v.st.saveSweepRun(run)
	return nil
}

func (v *txView) ListSweepRuns(_ context.Context, limit int) ([]ledger.SweepRun, error) {
	return v.st.listSweepRuns(limit), nil
}

var (
	_ ledger.TxStore = (*Memory)(nil)
	_ ledger.Store   = (*txView)(nil)
)
