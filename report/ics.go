package report

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/warp/tutor-ledger/ledger"
)

const productID = "-//warp//tutor-ledger//EN"

// LessonsCalendar renders lessons as an iCalendar (RFC 5545) feed. Each
// event runs for the lesson duration; the summary carries the student name
// and the lesson status label.
func LessonsCalendar(lessons []ledger.LessonView, duration time.Duration, now time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("Lessons")

	for _, l := range lessons {
		ev := cal.AddEvent(lessonUID(l.ID))
		ev.SetDtStampTime(now.UTC())
		ev.SetCreatedTime(l.CreatedAt.UTC())
		ev.SetStartAt(l.Datetime.UTC())
		ev.SetEndAt(l.EndsAt(duration).UTC())
		ev.SetSummary(fmt.Sprintf("%s (%s)", l.StudentName, l.Status))
		ev.SetDescription(fmt.Sprintf("Balance: %d", l.StudentBalance))
		ev.SetProperty(ics.ComponentPropertyStatus, "CONFIRMED")
	}
	return cal.Serialize()
}

func lessonUID(id ledger.LessonID) string {
	return fmt.Sprintf("lesson-%d@tutor-ledger", id)
}
