package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slot(id SlotID, day Weekday, at string) ScheduleSlot {
	return ScheduleSlot{ID: id, StudentID: 1, DayOfWeek: day, Time: MustSlotTime(at), IsActive: true}
}

func TestExpansionWindow_StartsMonday(t *testing.T) {
	// Sunday 2025-03-09 belongs to the week starting Monday 2025-03-03
	w := ExpansionWindow(mar(9, 0), time.UTC, 2)

	assert.True(t, w.Start.Equal(mar(3, 0)), "start %s", w.Start)
	assert.True(t, w.End.Equal(mar(17, 0)), "end %s", w.End)
}

func TestExpansionWindow_MondayIsItsOwnWeek(t *testing.T) {
	w := ExpansionWindow(mar(10, 0), time.UTC, 1)
	assert.True(t, w.Start.Equal(mar(10, 0)))
}

func TestExpansionCandidates_ChronologicalAcrossSlots(t *testing.T) {
	// GIVEN: slots listed Wednesday first, now = Sunday before the window's
	// second week, three-week window
	now := mar(9, 0)
	w := ExpansionWindow(now, time.UTC, 3)
	slots := []ScheduleSlot{slot(2, Wednesday, "10:00"), slot(1, Monday, "10:00")}

	got := ExpansionCandidates(slots, now, w)

	// THEN: past candidates of the first week are dropped and the rest are
	// in datetime order, not slot order
	require.Len(t, got, 4)
	want := []time.Time{mar(10, 10), mar(12, 10), mar(17, 10), mar(19, 10)}
	for i := range want {
		assert.True(t, want[i].Equal(got[i].At), "candidate %d: want %s got %s", i, want[i], got[i].At)
	}
}

func TestExpansionCandidates_SkipsInactiveAndNow(t *testing.T) {
	now := mar(10, 10) // exactly the Monday slot
	w := ExpansionWindow(now, time.UTC, 1)
	inactive := slot(2, Tuesday, "10:00")
	inactive.IsActive = false

	got := ExpansionCandidates([]ScheduleSlot{slot(1, Monday, "10:00"), inactive}, now, w)

	assert.Empty(t, got, "candidate equal to now is not in the future")
}

func TestExpansionCandidates_LocalWallClock(t *testing.T) {
	loc := time.FixedZone("EET", 2*60*60)

	now := time.Date(2025, time.March, 9, 12, 0, 0, 0, loc)
	w := ExpansionWindow(now, loc, 1)
	got := ExpansionCandidates([]ScheduleSlot{slot(1, Sunday, "18:30")}, now, w)

	require.Len(t, got, 1)
	local := got[0].At.In(loc)
	assert.Equal(t, 18, local.Hour())
	assert.Equal(t, 30, local.Minute())
	assert.Equal(t, time.Sunday, local.Weekday())
}

func TestWeekday_Conversions(t *testing.T) {
	assert.Equal(t, Monday, WeekdayOf(time.Monday))
	assert.Equal(t, Sunday, WeekdayOf(time.Sunday))
	assert.Equal(t, time.Sunday, Sunday.TimeWeekday())
	assert.Equal(t, time.Wednesday, Wednesday.TimeWeekday())
	for d := Monday; d <= Sunday; d++ {
		assert.Equal(t, d, WeekdayOf(d.TimeWeekday()))
	}
	assert.False(t, Weekday(7).Valid())
	assert.Equal(t, "Monday", Monday.String())
}

func TestParseSlotTime(t *testing.T) {
	st, err := ParseSlotTime("09:05")
	require.NoError(t, err)
	assert.Equal(t, SlotTime{Hour: 9, Minute: 5}, st)
	assert.Equal(t, "09:05", st.String())

	_, err = ParseSlotTime("25:00")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseSlotTime("nine")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLessonStatus_Flags(t *testing.T) {
	assert.Equal(t, StatusPending, StatusFromFlags(false, true), "paid but not completed normalizes to pending")
	assert.Equal(t, StatusCompletedUnpaid, StatusFromFlags(true, false))
	assert.Equal(t, StatusCompletedPaid, StatusFromFlags(true, true))

	c, p := StatusCompletedUnpaid.Flags()
	assert.True(t, c)
	assert.False(t, p)
	assert.Equal(t, "unpaid", StatusCompletedUnpaid.String())
}

func TestLesson_IsDue(t *testing.T) {
	l := Lesson{Datetime: mar(10, 10)}
	d := 50 * time.Minute

	assert.False(t, l.IsDue(mar(10, 10).Add(49*time.Minute), d))
	assert.True(t, l.IsDue(mar(10, 10).Add(50*time.Minute), d))
}
