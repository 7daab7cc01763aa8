package triage

import (
	"fmt"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// Follow-up HIV testing cadence recommended when PEP is not indicated or too late.
const (
	TestingFirst  = "6 weeks"
	TestingSecond = "3 months"
)

// Assess derives the urgency label, hours remaining and the context lines the
// consult request carries.
//
//	risk none                         -> ROUTINE
//	window closed                     -> PEP WINDOW CLOSED
//	high, time known                  -> CRITICAL URGENCY
//	moderate, time known              -> HIGH URGENCY
//	high or moderate, time unknown    -> URGENT - TIME UNKNOWN
//	anything else                     -> ROUTINE
func Assess(d models.TriageData) models.UrgencyContext {
	u := models.UrgencyContext{Label: models.UrgencyRoutine}
	remaining, known := d.HoursRemaining()
	if known {
		r := remaining
		u.HoursRemaining = &r
	}
	risk := d.Risk()

	switch {
	case risk == models.RiskNone:
		u.Label = models.UrgencyRoutine
		u.Messages = append(u.Messages, "Reported contact carries no HIV transmission risk; PEP is not indicated.")
	case d.WindowClosed():
		u.Label = models.UrgencyWindowClosed
		u.Messages = append(u.Messages,
			fmt.Sprintf("PEP window has closed (exposure about %.0f hours ago); PEP is no longer effective.", *d.TimeSinceHours),
			testingCadence())
	case known && risk == models.RiskHigh:
		u.Label = models.UrgencyCritical
		u.Messages = append(u.Messages, fmt.Sprintf("About %.0f hours remain in the 72-hour PEP window; start PEP as soon as possible.", remaining))
	case known && risk == models.RiskModerate:
		u.Label = models.UrgencyHigh
		u.Messages = append(u.Messages, fmt.Sprintf("About %.0f hours remain in the 72-hour PEP window; seek a PEP evaluation today.", remaining))
	case !known && (risk == models.RiskHigh || risk == models.RiskModerate):
		u.Label = models.UrgencyTimeUnknown
		u.Messages = append(u.Messages, "Time since exposure is unknown; seek a PEP evaluation immediately in case the window is still open.")
	default:
		if risk == "" {
			u.Messages = append(u.Messages, "Risk could not be determined from the conversation; recommend a clinical assessment.")
		}
		u.Messages = append(u.Messages, testingCadence())
	}

	if d.STISymptoms {
		u.Messages = append(u.Messages, "STI symptoms were reported; recommend STI testing.")
	}
	if d.HasInjury {
		u.Messages = append(u.Messages, "An injury was reported; recommend in-person care.")
	}
	return u
}

func testingCadence() string {
	return fmt.Sprintf("Recommend HIV testing at %s and again at %s after the exposure.", TestingFirst, TestingSecond)
}
