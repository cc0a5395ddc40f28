/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract. Field names are
  snake_case; instants are RFC 3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/tutor-ledger/ledger"
	"github.com/warp/tutor-ledger/report"
)

// =============================================================================
// STUDENTS
// =============================================================================

type StudentDTO struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Balance          int    `json:"balance"`
	CompletedLessons int    `json:"completed_lessons"`
	CreatedAt        string `json:"created_at"`
}

type CreateStudentRequest struct {
	Name    string `json:"name"`
	Balance int    `json:"balance"`
}

type AdjustBalanceRequest struct {
	Delta int `json:"delta"`
}

func toStudentDTO(s ledger.Student) StudentDTO {
	return StudentDTO{
		ID:               int64(s.ID),
		Name:             s.Name,
		Balance:          s.Balance,
		CompletedLessons: s.CompletedLessons,
		CreatedAt:        formatTime(s.CreatedAt),
	}
}

// =============================================================================
// LESSONS
// =============================================================================

type LessonDTO struct {
	ID               int64   `json:"id"`
	StudentID        int64   `json:"student_id"`
	StudentName      string  `json:"student_name,omitempty"`
	StudentBalance   *int    `json:"student_balance,omitempty"`
	Datetime         string  `json:"datetime"`
	PreviousDatetime *string `json:"previous_datetime"`
	IsCompleted      bool    `json:"is_completed"`
	IsPaid           bool    `json:"is_paid"`
	Status           string  `json:"status"` // pending | paid | unpaid
}

type CreateLessonRequest struct {
	StudentID   int64     `json:"student_id"`
	Datetime    time.Time `json:"datetime"`
	IsPaid      bool      `json:"is_paid"`
	IsCompleted bool      `json:"is_completed"`
}

// UpdateLessonRequest fields are optional; absent means unchanged.
type UpdateLessonRequest struct {
	Datetime    *time.Time `json:"datetime"`
	IsCompleted *bool      `json:"is_completed"`
	IsPaid      *bool      `json:"is_paid"`
}

func (r UpdateLessonRequest) toUpdate() ledger.LessonUpdate {
	return ledger.LessonUpdate{Datetime: r.Datetime, Completed: r.IsCompleted, Paid: r.IsPaid}
}

func toLessonDTO(l ledger.Lesson) LessonDTO {
	completed, paid := l.Status.Flags()
	dto := LessonDTO{
		ID:          int64(l.ID),
		StudentID:   int64(l.StudentID),
		Datetime:    formatTime(l.Datetime),
		IsCompleted: completed,
		IsPaid:      paid,
		Status:      l.Status.String(),
	}
	if l.PreviousDatetime != nil {
		s := formatTime(*l.PreviousDatetime)
		dto.PreviousDatetime = &s
	}
	return dto
}

func toLessonViewDTO(v ledger.LessonView) LessonDTO {
	dto := toLessonDTO(v.Lesson)
	dto.StudentName = v.StudentName
	balance := v.StudentBalance
	dto.StudentBalance = &balance
	return dto
}

// =============================================================================
// SCHEDULE SLOTS
// =============================================================================

type SlotDTO struct {
	ID        int64  `json:"id"`
	StudentID int64  `json:"student_id"`
	DayOfWeek int    `json:"day_of_week"` // 0=Monday..6=Sunday
	DayName   string `json:"day_name"`
	Time      string `json:"time"` // HH:MM
	IsActive  bool   `json:"is_active"`
}

type CreateSlotRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	Time      string `json:"time"`
}

func toSlotDTO(s ledger.ScheduleSlot) SlotDTO {
	return SlotDTO{
		ID:        int64(s.ID),
		StudentID: int64(s.StudentID),
		DayOfWeek: int(s.DayOfWeek),
		DayName:   s.DayOfWeek.String(),
		Time:      s.Time.String(),
		IsActive:  s.IsActive,
	}
}

// =============================================================================
// SWEEPS, STATS
// =============================================================================

type SweepRunDTO struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Completed  int    `json:"completed"`
	Paid       int    `json:"paid"`
	Unpaid     int    `json:"unpaid"`
}

func toSweepRunDTO(r ledger.SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:         r.ID,
		Trigger:    string(r.Trigger),
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
		Completed:  r.Completed,
		Paid:       r.Paid,
		Unpaid:     r.Unpaid,
	}
}

type StatsDTO struct {
	Total           int    `json:"total"`
	LowBalance      int    `json:"low_balance"`
	NegativeBalance int    `json:"negative_balance"`
	TotalBalance    int    `json:"total_balance"`
	PrepaidValue    string `json:"prepaid_value"`
	DebtValue       string `json:"debt_value"`
	Currency        string `json:"currency"`
}

func toStatsDTO(s report.Stats) StatsDTO {
	return StatsDTO{
		Total:           s.TotalStudents,
		LowBalance:      s.LowBalance,
		NegativeBalance: s.NegativeBalance,
		TotalBalance:    s.TotalBalance,
		PrepaidValue:    s.Prepaid.StringFixed(2),
		DebtValue:       s.Debt.StringFixed(2),
		Currency:        s.Currency,
	}
}

type CountResponse struct {
	Created   *int `json:"created,omitempty"`
	Completed *int `json:"completed,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
