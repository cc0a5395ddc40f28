package ledger

import (
	"fmt"
	"time"
)

// TopUpPolicy decides what a positive balance adjustment does to old
// completed-unpaid lessons.
type TopUpPolicy string

const (
	// TopUpSettleOnly marks the oldest unpaid lessons paid, up to the amount
	// added, without touching balance again.
	TopUpSettleOnly TopUpPolicy = "settle_only"

	// TopUpSettleAndDebit marks them paid and takes one unit of the new
	// balance for each.
	TopUpSettleAndDebit TopUpPolicy = "settle_and_debit"
)

// Settings are the engine's policy constants.
type Settings struct {
	// LessonDuration is how long after its start a lesson becomes due.
	LessonDuration time.Duration

	// WindowWeeks is how many weeks, starting with the current one, the
	// schedule expander fills.
	WindowWeeks int

	// GateOnBalance limits expansion to lessons the student can pay for.
	GateOnBalance bool

	TopUp TopUpPolicy

	// Location is the wall-clock zone of schedule slots.
	Location *time.Location
}

func DefaultSettings() Settings {
	return Settings{
		LessonDuration: 50 * time.Minute,
		WindowWeeks:    2,
		GateOnBalance:  true,
		TopUp:          TopUpSettleOnly,
		Location:       time.Local,
	}
}

func (s Settings) Validate() error {
	if s.LessonDuration <= 0 {
		return fmt.Errorf("lesson duration must be positive, got %v", s.LessonDuration)
	}
	if s.WindowWeeks < 1 {
		return fmt.Errorf("window weeks must be at least 1, got %d", s.WindowWeeks)
	}
	switch s.TopUp {
	case TopUpSettleOnly, TopUpSettleAndDebit:
	default:
		return fmt.Errorf("unknown top-up policy %q", s.TopUp)
	}
	if s.Location == nil {
		return fmt.Errorf("location is required")
	}
	return nil
}
