/*
handlers_test.go - HTTP tests for the ledger API

Runs requests through the full router against an in-memory store and a
manual clock set to Sunday 2025-03-09 00:00 UTC.
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
	"github.com/warp/tutor-ledger/ledger/store"
	"github.com/warp/tutor-ledger/report"
)

type testServer struct {
	engine *ledger.Engine
	clock  *ledger.ManualClock
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	settings := ledger.DefaultSettings()
	settings.Location = time.UTC
	clock := ledger.NewManualClock(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	engine := ledger.NewEngine(store.NewMemory(), clock, settings, zap.NewNop())
	h := NewHandler(engine, report.DefaultPricing(), zap.NewNop())
	return &testServer{engine: engine, clock: clock, router: NewRouter(h, []string{"*"})}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createStudent(t *testing.T, name string, balance int) StudentDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/students", CreateStudentRequest{Name: name, Balance: balance})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[StudentDTO](t, rec)
}

func (s *testServer) createLesson(t *testing.T, studentID int64, at time.Time) LessonDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/lessons", CreateLessonRequest{StudentID: studentID, Datetime: at})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[LessonDTO](t, rec)
}

// =============================================================================
// STUDENTS
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStudents_CRUD(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: two students
	alice := s.createStudent(t, "Alice", 4)
	s.createStudent(t, "Bob", 0)
	assert.Equal(t, 4, alice.Balance)

	// WHEN/THEN: read, search, adjust, delete
	rec := s.do(t, http.MethodGet, "/api/students/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", decode[StudentDTO](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/api/students?q=bo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[[]StudentDTO](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, "Bob", found[0].Name)

	rec = s.do(t, http.MethodPost, "/api/students/1/balance", AdjustBalanceRequest{Delta: -6})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -2, decode[StudentDTO](t, rec).Balance)

	rec = s.do(t, http.MethodDelete, "/api/students/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/students/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStudents_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed body", http.MethodPost, "/api/students", "{", http.StatusBadRequest},
		{"empty name", http.MethodPost, "/api/students", CreateStudentRequest{Name: " "}, http.StatusBadRequest},
		{"non-numeric id", http.MethodGet, "/api/students/abc", nil, http.StatusBadRequest},
		{"unknown student", http.MethodGet, "/api/students/42", nil, http.StatusNotFound},
		{"unknown student balance", http.MethodPost, "/api/students/42/balance", AdjustBalanceRequest{Delta: 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

// =============================================================================
// SLOTS AND EXPANSION
// =============================================================================

func TestSlots_ExpandSchedule(t *testing.T) {
	s := newTestServer(t)
	st := s.createStudent(t, "A", 2)

	for _, day := range []int{0, 2} {
		rec := s.do(t, http.MethodPost, "/api/students/1/slots", CreateSlotRequest{DayOfWeek: day, Time: "10:00"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodPost, "/api/students/1/slots", CreateSlotRequest{DayOfWeek: 0, Time: "10:00"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/students/1/slots", CreateSlotRequest{DayOfWeek: 0, Time: "late"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/students/1/slots", CreateSlotRequest{DayOfWeek: 9, Time: "10:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/students/1/slots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[[]SlotDTO](t, rec)
	require.Len(t, slots, 2)
	assert.Equal(t, "Monday", slots[0].DayName)
	assert.Equal(t, "Wednesday", slots[1].DayName)

	// WHEN: expanding
	rec = s.do(t, http.MethodPost, "/api/students/1/expand", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[map[string]int](t, rec)["created"])

	// THEN: the lessons show up with their student
	rec = s.do(t, http.MethodGet, "/api/lessons?from=2025-03-10T00:00:00Z&to=2025-03-17T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lessons := decode[[]LessonDTO](t, rec)
	require.Len(t, lessons, 2)
	assert.Equal(t, "2025-03-10T10:00:00Z", lessons[0].Datetime)
	assert.Equal(t, "2025-03-12T10:00:00Z", lessons[1].Datetime)
	assert.Equal(t, st.Name, lessons[0].StudentName)
	require.NotNil(t, lessons[0].StudentBalance)
	assert.Equal(t, 2, *lessons[0].StudentBalance)
	assert.Equal(t, "pending", lessons[0].Status)
}

func TestSlots_Activation(t *testing.T) {
	s := newTestServer(t)
	s.createStudent(t, "B", 0)
	rec := s.do(t, http.MethodPost, "/api/students/1/slots", CreateSlotRequest{DayOfWeek: 4, Time: "18:30"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/slots/1/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[SlotDTO](t, rec).IsActive)

	rec = s.do(t, http.MethodPost, "/api/slots/1/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SlotDTO](t, rec).IsActive)

	rec = s.do(t, http.MethodPost, "/api/slots/1/reactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/slots/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/slots/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// LESSONS AND SWEEP
// =============================================================================

func TestLessons_SweepAndPayment(t *testing.T) {
	s := newTestServer(t)
	s.createStudent(t, "C", 1)
	first := s.createLesson(t, 1, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	second := s.createLesson(t, 1, time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC))

	// pending lessons cannot be toggled
	rec := s.do(t, http.MethodPost, "/api/lessons/1/toggle-payment", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: both lessons have ended and the sweep runs
	s.clock.Set(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	rec = s.do(t, http.MethodPost, "/api/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[map[string]int](t, rec)["completed"])

	// THEN: the earlier one is paid
	lesson, err := s.engine.GetLesson(t.Context(), ledger.LessonID(first.ID))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompletedPaid, lesson.Status)

	rec = s.do(t, http.MethodGet, "/api/sweep/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]SweepRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "sweep", runs[0].Trigger)
	assert.Equal(t, 1, runs[0].Paid)
	assert.Equal(t, 1, runs[0].Unpaid)

	rec = s.do(t, http.MethodGet, "/api/sweep/runs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// topping up settles the unpaid lesson
	rec = s.do(t, http.MethodPost, "/api/students/1/balance", AdjustBalanceRequest{Delta: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/lessons/2/toggle-payment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	toggled := decode[LessonDTO](t, rec)
	assert.Equal(t, second.ID, toggled.ID)
	assert.Equal(t, "unpaid", toggled.Status)
	assert.True(t, toggled.IsCompleted)
	assert.False(t, toggled.IsPaid)
}

func TestLessons_UpdateAndDelete(t *testing.T) {
	s := newTestServer(t)
	s.createStudent(t, "D", 2)
	l := s.createLesson(t, 1, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	assert.Nil(t, l.PreviousDatetime)

	rec := s.do(t, http.MethodPatch, "/api/lessons/1", `{"datetime":"2025-03-11T15:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[LessonDTO](t, rec)
	assert.Equal(t, "2025-03-11T15:00:00Z", moved.Datetime)
	require.NotNil(t, moved.PreviousDatetime)
	assert.Equal(t, "2025-03-10T10:00:00Z", *moved.PreviousDatetime)

	rec = s.do(t, http.MethodPatch, "/api/lessons/1", `{"is_completed":true,"is_paid":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decode[LessonDTO](t, rec).Status)

	st, err := s.engine.GetStudent(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Balance)

	// deleting a paid lesson refunds it
	rec = s.do(t, http.MethodDelete, "/api/lessons/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	st, err = s.engine.GetStudent(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Balance)

	rec = s.do(t, http.MethodPatch, "/api/lessons/1", `{"is_paid":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/lessons", CreateLessonRequest{StudentID: 42, Datetime: time.Now()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLessons_Range(t *testing.T) {
	s := newTestServer(t)
	s.createStudent(t, "E", 0)
	// inside the current week (Monday 2025-03-03 .. 2025-03-10)
	s.createLesson(t, 1, time.Date(2025, 3, 9, 18, 0, 0, 0, time.UTC))
	s.createLesson(t, 1, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))

	rec := s.do(t, http.MethodGet, "/api/lessons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]LessonDTO](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/lessons?from=2025-03-10T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]LessonDTO](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/lessons?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/lessons?from=2025-03-10T00:00:00Z&to=2025-03-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestStatsAndExports(t *testing.T) {
	s := newTestServer(t)
	s.createStudent(t, "F", 5)
	s.createStudent(t, "G", -1)
	s.createLesson(t, 1, time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))

	rec := s.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsDTO](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.LowBalance)
	assert.Equal(t, 1, stats.NegativeBalance)
	assert.Equal(t, "0.00", stats.PrepaidValue)

	rec = s.do(t, http.MethodGet, "/api/export/lessons.ics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, rec.Body.String(), "BEGIN:VEVENT")
	assert.Contains(t, rec.Body.String(), "lesson-1@tutor-ledger")

	rec = s.do(t, http.MethodGet, "/api/export/students.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "students.xlsx")
	assert.NotZero(t, rec.Body.Len())
}
