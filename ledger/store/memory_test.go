package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tutor-ledger/ledger"
)

func TestMemory_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st, err := m.CreateStudent(ctx, "Alice", 3)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.SetBalance(ctx, st.ID, 0))
		_, err := tx.CreateLesson(ctx, ledger.Lesson{StudentID: st.ID, Datetime: time.Now()})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := m.GetStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Balance)
	n, err := m.CountPending(ctx, st.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemory_StoresUTCSeconds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st, _ := m.CreateStudent(ctx, "Bob", 0)

	at := time.Date(2025, 3, 10, 13, 0, 0, 999, time.FixedZone("UTC+3", 3*60*60))
	l, err := m.CreateLesson(ctx, ledger.Lesson{StudentID: st.ID, Datetime: at})
	require.NoError(t, err)

	got, err := m.GetLesson(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC).Equal(got.Datetime))
	assert.Equal(t, time.UTC, got.Datetime.Location())
}

func TestMemory_SlotUniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st, _ := m.CreateStudent(ctx, "Carol", 0)
	slot := ledger.ScheduleSlot{StudentID: st.ID, DayOfWeek: ledger.Tuesday, Time: ledger.MustSlotTime("17:00"), IsActive: true}

	first, err := m.CreateSlot(ctx, slot)
	require.NoError(t, err)
	_, err = m.CreateSlot(ctx, slot)
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)

	require.NoError(t, m.SetSlotActive(ctx, first.ID, false))
	second, err := m.CreateSlot(ctx, slot)
	require.NoError(t, err)

	found, ok, err := m.FindSlot(ctx, st.ID, ledger.Tuesday, ledger.MustSlotTime("17:00"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, found.ID)

	_, err = m.CreateSlot(ctx, ledger.ScheduleSlot{StudentID: 99, Time: ledger.MustSlotTime("17:00")})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemory_DeleteStudentCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st, _ := m.CreateStudent(ctx, "Dan", 0)
	other, _ := m.CreateStudent(ctx, "Eve", 0)
	l, _ := m.CreateLesson(ctx, ledger.Lesson{StudentID: st.ID, Datetime: time.Now()})
	kept, _ := m.CreateLesson(ctx, ledger.Lesson{StudentID: other.ID, Datetime: time.Now()})

	require.NoError(t, m.DeleteStudent(ctx, st.ID))

	_, err := m.GetLesson(ctx, l.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = m.GetLesson(ctx, kept.ID)
	assert.NoError(t, err)
	assert.ErrorIs(t, m.DeleteStudent(ctx, st.ID), ledger.ErrNotFound)
}
