package report

import (
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/tutor-ledger/ledger"
)

func students() []ledger.Student {
	created := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	return []ledger.Student{
		{ID: 1, Name: "Alice", Balance: 5, CreatedAt: created, CompletedLessons: 10},
		{ID: 2, Name: "Bob", Balance: 2, CreatedAt: created},
		{ID: 3, Name: "Carol", Balance: -2, CreatedAt: created, CompletedLessons: 4},
		{ID: 4, Name: "Dan", Balance: 0, CreatedAt: created},
	}
}

func TestComputeStats(t *testing.T) {
	// GIVEN: a price of 25.50 per lesson
	p := DefaultPricing()
	p.LessonPrice = decimal.RequireFromString("25.50")

	s := ComputeStats(students(), p)

	assert.Equal(t, 4, s.TotalStudents)
	assert.Equal(t, 3, s.LowBalance, "below 3, negatives included")
	assert.Equal(t, 1, s.NegativeBalance)
	assert.Equal(t, 5, s.TotalBalance)
	assert.Equal(t, "178.50", s.Prepaid.StringFixed(2))
	assert.Equal(t, "51.00", s.Debt.StringFixed(2))
	assert.Equal(t, "USD", s.Currency)
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil, DefaultPricing())
	assert.Zero(t, s.TotalStudents)
	assert.True(t, s.Prepaid.IsZero())
	assert.True(t, s.Debt.IsZero())
}

func TestLessonsCalendar(t *testing.T) {
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	lessons := []ledger.LessonView{
		{
			Lesson:         ledger.Lesson{ID: 7, StudentID: 1, Datetime: at, Status: ledger.StatusCompletedPaid, CreatedAt: at},
			StudentName:    "Alice",
			StudentBalance: 4,
		},
		{
			Lesson:      ledger.Lesson{ID: 8, StudentID: 2, Datetime: at.Add(24 * time.Hour), CreatedAt: at},
			StudentName: "Bob",
		},
	}

	body := LessonsCalendar(lessons, 50*time.Minute, at)

	cal, err := ics.ParseCalendar(strings.NewReader(body))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	assert.Equal(t, "lesson-7@tutor-ledger", events[0].Id())
	assert.Equal(t, "Alice (paid)", events[0].GetProperty(ics.ComponentPropertySummary).Value)
	start, err := events[0].GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(at))
	end, err := events[0].GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(at.Add(50*time.Minute)))

	assert.Equal(t, "Bob (pending)", events[1].GetProperty(ics.ComponentPropertySummary).Value)
}

func TestStudentsWorkbook(t *testing.T) {
	p := DefaultPricing()
	p.LessonPrice = decimal.NewFromInt(20)

	buf, err := StudentsWorkbook(students(), p)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(studentsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, studentsHeader, rows[0])
	assert.Equal(t, "Alice", rows[1][1])
	assert.Equal(t, "5", rows[1][2])
	assert.Equal(t, "100", rows[1][4])
	assert.Equal(t, "-2", rows[3][2])
	assert.Equal(t, "2025-01-15", rows[3][5])

	// debt rows are styled differently from the rest
	debt, err := f.GetCellStyle(studentsSheet, "B4")
	require.NoError(t, err)
	plain, err := f.GetCellStyle(studentsSheet, "B2")
	require.NoError(t, err)
	assert.NotEqual(t, plain, debt)
}
