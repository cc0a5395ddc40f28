/*
handlers.go - HTTP API handlers for the lesson ledger

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response and JSON serialization, and delegates every decision to
  ledger.Engine.

ENDPOINTS:
  Students:
    GET    /api/students?q=            List (optional name search)
    POST   /api/students               Create student
    GET    /api/students/{id}          Get student
    DELETE /api/students/{id}          Delete student with lessons and slots
    POST   /api/students/{id}/balance  Adjust balance by delta
    GET    /api/students/{id}/slots    List schedule slots
    POST   /api/students/{id}/slots    Add (or reactivate) a slot
    POST   /api/students/{id}/expand   Fill the schedule window

  Lessons:
    GET    /api/lessons?from=&to=      Lessons in range (default current week)
    POST   /api/lessons                Create lesson
    PATCH  /api/lessons/{id}           Edit datetime and/or flags
    POST   /api/lessons/{id}/toggle-payment
    DELETE /api/lessons/{id}

  Slots:
    POST   /api/slots/{id}/deactivate | reactivate | toggle
    DELETE /api/slots/{id}

  Reconciliation and reports:
    POST   /api/sweep                  Run the completion sweep now
    GET    /api/sweep/runs             Recent sweep runs
    GET    /api/stats                  Balance statistics
    GET    /api/export/lessons.ics     Calendar export
    GET    /api/export/students.xlsx   Balance sheet export

  Demo:
    GET    /api/scenarios              Available scenarios
    POST   /api/scenarios/load         Add a scenario's data (see scenarios.go)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Student, lesson or slot not found
  - 409: Duplicate active slot, operation invalid in current state
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The server is meant for a single tutor on localhost.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
	"github.com/warp/tutor-ledger/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *ledger.Engine
	Pricing report.Pricing
	logger  *zap.Logger
}

// NewHandler creates a new handler for engine.
func NewHandler(engine *ledger.Engine, pricing report.Pricing, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Pricing: pricing, logger: logger.Named("api")}
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns students ordered by name.
// GET /api/students?q=
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Engine.SearchStudents(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeEngineError(w, "Failed to list students", err)
		return
	}
	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStudent adds a student.
// POST /api/students
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.Engine.CreateStudent(r.Context(), req.Name, req.Balance)
	if err != nil {
		h.writeEngineError(w, "Failed to create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(st))
}

// GetStudent returns one student.
// GET /api/students/{id}
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := h.Engine.GetStudent(r.Context(), ledger.StudentID(id))
	if err != nil {
		h.writeEngineError(w, "Failed to get student", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// DeleteStudent removes a student and everything they own.
// DELETE /api/students/{id}
func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteStudent(r.Context(), ledger.StudentID(id)); err != nil {
		h.writeEngineError(w, "Failed to delete student", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdjustBalance adds delta to a student's balance.
// POST /api/students/{id}/balance
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AdjustBalanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.Engine.AdjustBalance(r.Context(), ledger.StudentID(id), req.Delta)
	if err != nil {
		h.writeEngineError(w, "Failed to adjust balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// ListSlots returns a student's schedule slots.
// GET /api/students/{id}/slots
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	slots, err := h.Engine.ListScheduleSlots(r.Context(), ledger.StudentID(id))
	if err != nil {
		h.writeEngineError(w, "Failed to list slots", err)
		return
	}
	dtos := make([]SlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = toSlotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSlot adds or reactivates a weekly slot.
// POST /api/students/{id}/slots
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CreateSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	at, err := ledger.ParseSlotTime(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time", err)
		return
	}
	slot, err := h.Engine.CreateScheduleSlot(r.Context(), ledger.StudentID(id), ledger.Weekday(req.DayOfWeek), at)
	if err != nil {
		h.writeEngineError(w, "Failed to create slot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotDTO(slot))
}

// ExpandSchedule fills the student's schedule window.
// POST /api/students/{id}/expand
func (h *Handler) ExpandSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := h.Engine.ExpandSchedule(r.Context(), ledger.StudentID(id))
	if err != nil {
		h.writeEngineError(w, "Failed to expand schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Created: &n})
}

// =============================================================================
// LESSON HANDLERS
// =============================================================================

// ListLessons returns lessons in [from, to), joined with their student.
// GET /api/lessons?from=&to=
func (h *Handler) ListLessons(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.lessonRange(w, r)
	if !ok {
		return
	}
	lessons, err := h.Engine.ListLessons(r.Context(), from, to)
	if err != nil {
		h.writeEngineError(w, "Failed to list lessons", err)
		return
	}
	dtos := make([]LessonDTO, len(lessons))
	for i, l := range lessons {
		dtos[i] = toLessonViewDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLesson adds a single lesson.
// POST /api/lessons
func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var req CreateLessonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	l, err := h.Engine.CreateLesson(r.Context(), ledger.StudentID(req.StudentID), req.Datetime, req.IsPaid, req.IsCompleted)
	if err != nil {
		h.writeEngineError(w, "Failed to create lesson", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLessonDTO(l))
}

// UpdateLesson edits a lesson.
// PATCH /api/lessons/{id}
func (h *Handler) UpdateLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateLessonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	l, err := h.Engine.UpdateLesson(r.Context(), ledger.LessonID(id), req.toUpdate())
	if err != nil {
		h.writeEngineError(w, "Failed to update lesson", err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonDTO(l))
}

// TogglePayment flips paid/unpaid on a completed lesson.
// POST /api/lessons/{id}/toggle-payment
func (h *Handler) TogglePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := h.Engine.ToggleLessonPayment(r.Context(), ledger.LessonID(id))
	if err != nil {
		h.writeEngineError(w, "Failed to toggle payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonDTO(l))
}

// DeleteLesson removes a lesson.
// DELETE /api/lessons/{id}
func (h *Handler) DeleteLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteLesson(r.Context(), ledger.LessonID(id)); err != nil {
		h.writeEngineError(w, "Failed to delete lesson", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SLOT HANDLERS
// =============================================================================

func (h *Handler) slotAction(action func(*ledger.Engine, *http.Request, ledger.SlotID) (ledger.ScheduleSlot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		slot, err := action(h.Engine, r, ledger.SlotID(id))
		if err != nil {
			h.writeEngineError(w, "Failed to update slot", err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotDTO(slot))
	}
}

// DeactivateSlot stops a slot from producing lessons.
// POST /api/slots/{id}/deactivate
func (h *Handler) DeactivateSlot(w http.ResponseWriter, r *http.Request) {
	h.slotAction(func(e *ledger.Engine, r *http.Request, id ledger.SlotID) (ledger.ScheduleSlot, error) {
		return e.DeactivateScheduleSlot(r.Context(), id)
	})(w, r)
}

// ReactivateSlot turns a slot back on.
// POST /api/slots/{id}/reactivate
func (h *Handler) ReactivateSlot(w http.ResponseWriter, r *http.Request) {
	h.slotAction(func(e *ledger.Engine, r *http.Request, id ledger.SlotID) (ledger.ScheduleSlot, error) {
		return e.ReactivateScheduleSlot(r.Context(), id)
	})(w, r)
}

// ToggleSlot flips a slot's active flag.
// POST /api/slots/{id}/toggle
func (h *Handler) ToggleSlot(w http.ResponseWriter, r *http.Request) {
	h.slotAction(func(e *ledger.Engine, r *http.Request, id ledger.SlotID) (ledger.ScheduleSlot, error) {
		return e.ToggleScheduleSlot(r.Context(), id)
	})(w, r)
}

// DeleteSlot removes a slot. Lessons it produced stay.
// DELETE /api/slots/{id}
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteScheduleSlot(r.Context(), ledger.SlotID(id)); err != nil {
		h.writeEngineError(w, "Failed to delete slot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECONCILIATION AND REPORTS
// =============================================================================

// RunSweep completes every due lesson now.
// POST /api/sweep
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.RunCompletionSweep(r.Context())
	if err != nil {
		h.writeEngineError(w, "Completion sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Completed: &n})
}

// ListSweepRuns returns recent sweep runs, newest first.
// GET /api/sweep/runs?limit=
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	runs, err := h.Engine.ListSweepRuns(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, "Failed to list sweep runs", err)
		return
	}
	dtos := make([]SweepRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSweepRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStats returns balance statistics.
// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	students, err := h.Engine.ListStudents(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(report.ComputeStats(students, h.Pricing)))
}

// ExportCalendar returns lessons in range as an iCalendar file.
// GET /api/export/lessons.ics?from=&to=
func (h *Handler) ExportCalendar(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.lessonRange(w, r)
	if !ok {
		return
	}
	lessons, err := h.Engine.ListLessons(r.Context(), from, to)
	if err != nil {
		h.writeEngineError(w, "Failed to export lessons", err)
		return
	}
	body := report.LessonsCalendar(lessons, h.Engine.Settings().LessonDuration, h.Engine.Clock().Now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="lessons.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// ExportStudents returns the balance sheet as an Excel workbook.
// GET /api/export/students.xlsx
func (h *Handler) ExportStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Engine.ListStudents(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to export students", err)
		return
	}
	buf, err := report.StudentsWorkbook(students, h.Pricing)
	if err != nil {
		h.writeEngineError(w, "Failed to export students", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="students.xlsx"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// HELPERS
// =============================================================================

// lessonRange parses ?from=&to= (RFC 3339). Missing bounds default to the
// current Monday-start week in the engine's location.
func (h *Handler) lessonRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	settings := h.Engine.Settings()
	weekStart := ledger.WeekStart(h.Engine.Clock().Now(), settings.Location)
	from, to := weekStart, weekStart.AddDate(0, 0, 7)

	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from", err)
			return time.Time{}, time.Time{}, false
		}
		from = t
		if q.Get("to") == "" {
			to = from.AddDate(0, 0, 7)
		}
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to", err)
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	return from, to, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", fmt.Errorf("id %q", raw))
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeEngineError maps ledger error categories onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyExists), errors.Is(err, ledger.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
