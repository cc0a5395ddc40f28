/*
scenarios.go - Demo scenario loaders

PURPOSE:

	Provides pre-built scenarios that add realistic students, slots and
	lessons for demos and manual testing. Everything is created through the
	engine, so balances, completion and expansion behave exactly as they do
	for real commands.

AVAILABLE SCENARIOS:

	weekly-regular:  Prepaid student with two weekly slots, schedule expanded
	in-debt:         Student with past lessons and no balance (unpaid history)
	partial-balance: One unit left for two past lessons, then a top-up
	studio:          All of the above

HOW SCENARIOS WORK:
 1. Create the student with an opening balance
 2. Add past lessons (they complete immediately, oldest first)
 3. Add weekly slots and expand the schedule window
 4. Optionally top up the balance

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "studio"}

NOTE:

	Scenarios add to the existing data; nothing is reset.

SEE ALSO:
  - handlers.go: Route handlers
  - ledger/engine.go: Commands used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	Scenario string       `json:"scenario"`
	Students []StudentDTO `json:"students"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "weekly-regular",
		Name:        "Weekly Regular",
		Description: "Eight prepaid lessons, Monday and Thursday 17:00",
	},
	{
		ID:          "in-debt",
		Name:        "In Debt",
		Description: "Three past lessons with no balance, Wednesday 16:00 slot",
	},
	{
		ID:          "partial-balance",
		Name:        "Partial Balance",
		Description: "One unit for two past lessons, then a top-up settles the older debt",
	},
	{
		ID:          "studio",
		Name:        "Studio",
		Description: "All scenarios at once",
	},
}

type scenarioLoader func(ctx context.Context, e *ledger.Engine) ([]ledger.Student, error)

var scenarioLoaders = map[string]scenarioLoader{
	"weekly-regular":  loadWeeklyRegular,
	"in-debt":         loadInDebt,
	"partial-balance": loadPartialBalance,
	"studio":          loadStudio,
}

// LoadScenario runs the loader for id against engine.
func LoadScenario(ctx context.Context, e *ledger.Engine, id string) ([]ledger.Student, error) {
	load, ok := scenarioLoaders[id]
	if !ok {
		return nil, &ledger.ArgumentError{Field: "scenario_id", Value: id, Reason: "unknown scenario"}
	}
	return load(ctx, e)
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	students, err := LoadScenario(r.Context(), h.Engine, req.ScenarioID)
	if err != nil {
		h.writeEngineError(w, "Failed to load scenario", err)
		return
	}

	resp := LoadScenarioResponse{Scenario: req.ScenarioID, Students: make([]StudentDTO, len(students))}
	for i, st := range students {
		// re-read: completion and expansion ran after creation
		if fresh, err := h.Engine.GetStudent(r.Context(), st.ID); err == nil {
			st = fresh
		}
		resp.Students[i] = toStudentDTO(st)
	}
	h.logger.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.Int("students", len(students)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadWeeklyRegular(ctx context.Context, e *ledger.Engine) ([]ledger.Student, error) {
	st, err := e.CreateStudent(ctx, "Alice Johnson", 8)
	if err != nil {
		return nil, err
	}
	if err := addSlots(ctx, e, st.ID, "17:00", ledger.Monday, ledger.Thursday); err != nil {
		return nil, err
	}
	if _, err := e.ExpandSchedule(ctx, st.ID); err != nil {
		return nil, err
	}
	return []ledger.Student{st}, nil
}

func loadInDebt(ctx context.Context, e *ledger.Engine) ([]ledger.Student, error) {
	st, err := e.CreateStudent(ctx, "Bob Smith", 0)
	if err != nil {
		return nil, err
	}
	if err := addPastLessons(ctx, e, st.ID, 3); err != nil {
		return nil, err
	}
	if err := addSlots(ctx, e, st.ID, "16:00", ledger.Wednesday); err != nil {
		return nil, err
	}
	return []ledger.Student{st}, nil
}

func loadPartialBalance(ctx context.Context, e *ledger.Engine) ([]ledger.Student, error) {
	st, err := e.CreateStudent(ctx, "Carol White", 1)
	if err != nil {
		return nil, err
	}
	// oldest is paid, the newer one stays unpaid
	if err := addPastLessons(ctx, e, st.ID, 2); err != nil {
		return nil, err
	}
	if err := addSlots(ctx, e, st.ID, "18:30", ledger.Tuesday, ledger.Friday); err != nil {
		return nil, err
	}
	// settles the unpaid lesson and expands with what is left
	if _, err := e.AdjustBalance(ctx, st.ID, 4); err != nil {
		return nil, err
	}
	return []ledger.Student{st}, nil
}

func loadStudio(ctx context.Context, e *ledger.Engine) ([]ledger.Student, error) {
	var all []ledger.Student
	for _, load := range []scenarioLoader{loadWeeklyRegular, loadInDebt, loadPartialBalance} {
		students, err := load(ctx, e)
		if err != nil {
			return nil, err
		}
		all = append(all, students...)
	}
	return all, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func addSlots(ctx context.Context, e *ledger.Engine, id ledger.StudentID, at string, days ...ledger.Weekday) error {
	t, err := ledger.ParseSlotTime(at)
	if err != nil {
		return err
	}
	for _, d := range days {
		if _, err := e.CreateScheduleSlot(ctx, id, d, t); err != nil {
			return fmt.Errorf("add %s slot: %w", d, err)
		}
	}
	return nil
}

// addPastLessons adds n lessons on the Wednesdays before the current week,
// oldest first. Each is already over, so the engine completes it on
// creation.
func addPastLessons(ctx context.Context, e *ledger.Engine, id ledger.StudentID, n int) error {
	settings := e.Settings()
	week := ledger.WeekStart(e.Clock().Now(), settings.Location)
	for i := n; i >= 1; i-- {
		day := week.AddDate(0, 0, -7*i+int(ledger.Wednesday))
		at := time.Date(day.Year(), day.Month(), day.Day(), 15, 0, 0, 0, settings.Location)
		if _, err := e.CreateLesson(ctx, id, at, false, false); err != nil {
			return fmt.Errorf("add past lesson: %w", err)
		}
	}
	return nil
}
