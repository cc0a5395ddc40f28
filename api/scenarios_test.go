package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tutor-ledger/ledger"
)

func TestLoadScenario_Studio(t *testing.T) {
	// GIVEN: an empty ledger on Sunday 2025-03-09
	s := newTestServer(t)

	// WHEN: loading the studio scenario
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "studio"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[LoadScenarioResponse](t, rec)

	// THEN: three students with the balances their history implies
	require.Len(t, resp.Students, 3)
	byName := map[string]StudentDTO{}
	for _, st := range resp.Students {
		byName[st.Name] = st
	}

	regular := byName["Alice Johnson"]
	assert.Equal(t, 8, regular.Balance)

	debtor := byName["Bob Smith"]
	assert.Equal(t, 0, debtor.Balance)
	assert.Equal(t, 3, debtor.CompletedLessons)

	// one unit paid the older lesson, the top-up settled the newer one
	partial := byName["Carol White"]
	assert.Equal(t, 4, partial.Balance)
	assert.Equal(t, 2, partial.CompletedLessons)
	unpaid := 0
	lessons, err := s.engine.ListLessons(context.Background(), mustTime("2025-01-01T00:00:00Z"), mustTime("2026-01-01T00:00:00Z"))
	require.NoError(t, err)
	for _, l := range lessons {
		if l.StudentName == partial.Name && l.Status == ledger.StatusCompletedUnpaid {
			unpaid++
		}
	}
	assert.Zero(t, unpaid)
}

func TestLoadScenario_WeeklyRegularExpands(t *testing.T) {
	s := newTestServer(t)

	students, err := LoadScenario(context.Background(), s.engine, "weekly-regular")
	require.NoError(t, err)
	require.Len(t, students, 1)

	// Monday 10th and Thursday 13th are the only future slots in the window
	lessons, err := s.engine.ListLessons(context.Background(), mustTime("2025-03-01T00:00:00Z"), mustTime("2025-04-01T00:00:00Z"))
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, "2025-03-10T17:00:00Z", formatTime(lessons[0].Datetime))
	assert.Equal(t, "2025-03-13T17:00:00Z", formatTime(lessons[1].Datetime))
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
