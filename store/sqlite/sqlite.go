/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

KEY TABLES:
  students:        name and signed lesson balance
  lessons:         concrete lessons, status as (is_completed, is_paid)
  schedule_slots:  weekly (day_of_week, HH:MM) patterns
  sweep_runs:      audit of completion passes

INDEXES:
  - idx_lessons_pending: due-lesson scan of the completion pass (hot path)
  - idx_lessons_student_datetime / _previous: expansion occupancy checks
  - idx_unique_active_slot: one active slot per (student, day, time)

TIME FORMAT:
  Every instant is stored as UTC RFC 3339 text with second precision, so
  string comparison in SQL matches chronological order.

CONCURRENCY:
  The pool is limited to one connection. WithTx is therefore the single
  writer, and reads made through the Store it hands out use the same tx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on, so
  deleting a student cascades to lessons and slots.

MIGRATION:
  Schema is versioned with goose; migrations are embedded and applied on New.

USAGE:
  store, err := sqlite.New(ctx, "./data/tutor.db", logger)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements ledger.TxStore using SQLite.
type Store struct {
	*queries
	db     *sql.DB
	logger *zap.Logger
}

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{queries: &queries{q: db}, db: db, logger: logger.Named("sqlite")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	dir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.db, dir)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration),
		)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store on top of a querier.
type queries struct {
	q querier
}

// =============================================================================
// STUDENTS
// =============================================================================

const studentColumns = `
	s.id, s.name, s.balance, s.created_at,
	(SELECT COUNT(*) FROM lessons l WHERE l.student_id = s.id AND l.is_completed = 1)
`

func (s *queries) CreateStudent(ctx context.Context, name string, balance int) (ledger.Student, error) {
	now := stamp(time.Now())
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO students (name, balance, created_at) VALUES (?, ?, ?)`,
		name, balance, formatTime(now),
	)
	if err != nil {
		return ledger.Student{}, fmt.Errorf("insert student: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Student{}, err
	}
	return ledger.Student{ID: ledger.StudentID(id), Name: name, Balance: balance, CreatedAt: now}, nil
}

func (s *queries) GetStudent(ctx context.Context, id ledger.StudentID) (ledger.Student, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students s WHERE s.id = ?`, id)
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Student{}, ledger.StudentNotFound(id)
	}
	return st, err
}

func (s *queries) ListStudents(ctx context.Context) ([]ledger.Student, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+studentColumns+` FROM students s ORDER BY s.name, s.id`)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var out []ledger.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *queries) SetBalance(ctx context.Context, id ledger.StudentID, balance int) error {
	res, err := s.q.ExecContext(ctx, `UPDATE students SET balance = ? WHERE id = ?`, balance, id)
	if err != nil {
		return err
	}
	return expectRow(res, ledger.StudentNotFound(id))
}

func (s *queries) DeleteStudent(ctx context.Context, id ledger.StudentID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM students WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, ledger.StudentNotFound(id))
}

// =============================================================================
// LESSONS
// =============================================================================

const lessonColumns = `l.id, l.student_id, l.datetime, l.previous_datetime, l.is_completed, l.is_paid, l.created_at`

func (s *queries) CreateLesson(ctx context.Context, l ledger.Lesson) (ledger.Lesson, error) {
	l.Datetime = stamp(l.Datetime)
	l.CreatedAt = stamp(time.Now())
	completed, paid := l.Status.Flags()

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO lessons (student_id, datetime, previous_datetime, is_completed, is_paid, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.StudentID, formatTime(l.Datetime), formatTimePtr(l.PreviousDatetime), completed, paid, formatTime(l.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.Lesson{}, ledger.StudentNotFound(l.StudentID)
		}
		return ledger.Lesson{}, fmt.Errorf("insert lesson: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Lesson{}, err
	}
	l.ID = ledger.LessonID(id)
	return l, nil
}

func (s *queries) GetLesson(ctx context.Context, id ledger.LessonID) (ledger.Lesson, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons l WHERE l.id = ?`, id)
	l, err := scanLesson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Lesson{}, ledger.LessonNotFound(id)
	}
	return l, err
}

func (s *queries) SaveLesson(ctx context.Context, l ledger.Lesson) error {
	completed, paid := l.Status.Flags()
	res, err := s.q.ExecContext(ctx, `
		UPDATE lessons SET datetime = ?, previous_datetime = ?, is_completed = ?, is_paid = ?
		WHERE id = ?`,
		formatTime(l.Datetime), formatTimePtr(l.PreviousDatetime), completed, paid, l.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, ledger.LessonNotFound(l.ID))
}

func (s *queries) DeleteLesson(ctx context.Context, id ledger.LessonID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM lessons WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, ledger.LessonNotFound(id))
}

func (s *queries) ListLessons(ctx context.Context, from, to time.Time) ([]ledger.LessonView, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+lessonColumns+`, s.name, s.balance
		FROM lessons l JOIN students s ON s.id = l.student_id
		WHERE l.datetime >= ? AND l.datetime < ?
		ORDER BY l.datetime, l.id`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	var out []ledger.LessonView
	for rows.Next() {
		var v ledger.LessonView
		var r lessonRow
		if err := rows.Scan(r.dest(&v.StudentName, &v.StudentBalance)...); err != nil {
			return nil, err
		}
		if v.Lesson, err = r.lesson(); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *queries) ListPendingStartedBefore(ctx context.Context, t time.Time, studentID ledger.StudentID) ([]ledger.Lesson, error) {
	return s.queryLessons(ctx, `
		SELECT `+lessonColumns+` FROM lessons l
		WHERE l.is_completed = 0 AND l.datetime <= ? AND (? = 0 OR l.student_id = ?)
		ORDER BY l.student_id, l.datetime, l.id`,
		formatTime(t), studentID, studentID,
	)
}

func (s *queries) ListPendingBetween(ctx context.Context, from, to time.Time) ([]ledger.Lesson, error) {
	return s.queryLessons(ctx, `
		SELECT `+lessonColumns+` FROM lessons l
		WHERE l.is_completed = 0 AND l.datetime > ? AND l.datetime <= ?
		ORDER BY l.datetime, l.id`,
		formatTime(from), formatTime(to),
	)
}

func (s *queries) CountPending(ctx context.Context, studentID ledger.StudentID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lessons WHERE student_id = ? AND is_completed = 0`, studentID,
	).Scan(&n)
	return n, err
}

func (s *queries) ListCompletedUnpaid(ctx context.Context, studentID ledger.StudentID, limit int) ([]ledger.Lesson, error) {
	return s.queryLessons(ctx, `
		SELECT `+lessonColumns+` FROM lessons l
		WHERE l.student_id = ? AND l.is_completed = 1 AND l.is_paid = 0
		ORDER BY l.datetime, l.id
		LIMIT ?`,
		studentID, limit,
	)
}

func (s *queries) IsOccupied(ctx context.Context, studentID ledger.StudentID, t time.Time) (bool, error) {
	at := formatTime(t)
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM lessons
			WHERE student_id = ? AND (datetime = ? OR previous_datetime = ?)
		)`,
		studentID, at, at,
	).Scan(&exists)
	return exists, err
}

func (s *queries) queryLessons(ctx context.Context, query string, args ...any) ([]ledger.Lesson, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	var out []ledger.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// SCHEDULE SLOTS
// =============================================================================

const slotColumns = `id, student_id, day_of_week, time, is_active, created_at`

func (s *queries) CreateSlot(ctx context.Context, sl ledger.ScheduleSlot) (ledger.ScheduleSlot, error) {
	sl.CreatedAt = stamp(time.Now())
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO schedule_slots (student_id, day_of_week, time, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sl.StudentID, int(sl.DayOfWeek), sl.Time.String(), sl.IsActive, formatTime(sl.CreatedAt),
	)
	if err != nil {
		switch {
		case isUniqueConstraintError(err):
			return ledger.ScheduleSlot{}, &ledger.SlotExistsError{StudentID: sl.StudentID, DayOfWeek: sl.DayOfWeek, Time: sl.Time}
		case isForeignKeyError(err):
			return ledger.ScheduleSlot{}, ledger.StudentNotFound(sl.StudentID)
		}
		return ledger.ScheduleSlot{}, fmt.Errorf("insert slot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.ScheduleSlot{}, err
	}
	sl.ID = ledger.SlotID(id)
	return sl, nil
}

func (s *queries) GetSlot(ctx context.Context, id ledger.SlotID) (ledger.ScheduleSlot, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM schedule_slots WHERE id = ?`, id)
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ScheduleSlot{}, ledger.SlotNotFound(id)
	}
	return sl, err
}

func (s *queries) FindSlot(ctx context.Context, studentID ledger.StudentID, day ledger.Weekday, t ledger.SlotTime) (ledger.ScheduleSlot, bool, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+slotColumns+` FROM schedule_slots
		WHERE student_id = ? AND day_of_week = ? AND time = ?
		ORDER BY is_active DESC, id
		LIMIT 1`,
		studentID, int(day), t.String(),
	)
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ScheduleSlot{}, false, nil
	}
	if err != nil {
		return ledger.ScheduleSlot{}, false, err
	}
	return sl, true, nil
}

func (s *queries) ListSlots(ctx context.Context, studentID ledger.StudentID) ([]ledger.ScheduleSlot, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+slotColumns+` FROM schedule_slots
		WHERE student_id = ?
		ORDER BY day_of_week, time, id`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var out []ledger.ScheduleSlot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *queries) SetSlotActive(ctx context.Context, id ledger.SlotID, active bool) error {
	res, err := s.q.ExecContext(ctx, `UPDATE schedule_slots SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("activate slot %d: %w", id, ledger.ErrAlreadyExists)
		}
		return err
	}
	return expectRow(res, ledger.SlotNotFound(id))
}

func (s *queries) DeleteSlot(ctx context.Context, id ledger.SlotID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM schedule_slots WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, ledger.SlotNotFound(id))
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func (s *queries) SaveSweepRun(ctx context.Context, r ledger.SweepRun) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, source, started_at, finished_at, completed, paid, unpaid)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Trigger), formatTime(r.StartedAt), formatTime(r.FinishedAt),
		r.Completed, r.Paid, r.Unpaid,
	)
	return err
}

func (s *queries) ListSweepRuns(ctx context.Context, limit int) ([]ledger.SweepRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, source, started_at, finished_at, completed, paid, unpaid
		FROM sweep_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sweep runs: %w", err)
	}
	defer rows.Close()

	var out []ledger.SweepRun
	for rows.Next() {
		var r ledger.SweepRun
		var trigger, started, finished string
		if err := rows.Scan(&r.ID, &trigger, &started, &finished, &r.Completed, &r.Paid, &r.Unpaid); err != nil {
			return nil, err
		}
		r.Trigger = ledger.SweepTrigger(trigger)
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (ledger.Student, error) {
	var st ledger.Student
	var created string
	if err := row.Scan(&st.ID, &st.Name, &st.Balance, &created, &st.CompletedLessons); err != nil {
		return ledger.Student{}, err
	}
	var err error
	st.CreatedAt, err = parseTime(created)
	return st, err
}

// lessonRow holds the raw columns of lessonColumns.
type lessonRow struct {
	id        int64
	studentID int64
	datetime  string
	previous  sql.NullString
	completed bool
	paid      bool
	created   string
}

func (r *lessonRow) dest(extra ...any) []any {
	return append([]any{&r.id, &r.studentID, &r.datetime, &r.previous, &r.completed, &r.paid, &r.created}, extra...)
}

func (r *lessonRow) lesson() (ledger.Lesson, error) {
	l := ledger.Lesson{
		ID:        ledger.LessonID(r.id),
		StudentID: ledger.StudentID(r.studentID),
		Status:    ledger.StatusFromFlags(r.completed, r.paid),
	}
	var err error
	if l.Datetime, err = parseTime(r.datetime); err != nil {
		return ledger.Lesson{}, err
	}
	if r.previous.Valid {
		prev, err := parseTime(r.previous.String)
		if err != nil {
			return ledger.Lesson{}, err
		}
		l.PreviousDatetime = &prev
	}
	if l.CreatedAt, err = parseTime(r.created); err != nil {
		return ledger.Lesson{}, err
	}
	return l, nil
}

func scanLesson(row scanner) (ledger.Lesson, error) {
	var r lessonRow
	if err := row.Scan(r.dest()...); err != nil {
		return ledger.Lesson{}, err
	}
	return r.lesson()
}

func scanSlot(row scanner) (ledger.ScheduleSlot, error) {
	var sl ledger.ScheduleSlot
	var day int
	var at, created string
	if err := row.Scan(&sl.ID, &sl.StudentID, &day, &at, &sl.IsActive, &created); err != nil {
		return ledger.ScheduleSlot{}, err
	}
	sl.DayOfWeek = ledger.Weekday(day)
	var err error
	if sl.Time, err = ledger.ParseSlotTime(at); err != nil {
		return ledger.ScheduleSlot{}, fmt.Errorf("slot %d: %w", sl.ID, err)
	}
	if sl.CreatedAt, err = parseTime(created); err != nil {
		return ledger.ScheduleSlot{}, err
	}
	return sl, nil
}

// Helper functions

func stamp(t time.Time) time.Time { return t.UTC().Truncate(time.Second) }

func formatTime(t time.Time) string { return stamp(t).Format(time.RFC3339) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %s: %w", strconv.Quote(s), err)
	}
	return t.UTC(), nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

var _ ledger.TxStore = (*Store)(nil)
