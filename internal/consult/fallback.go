package consult

import (
	"fmt"
	"math"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/triage"
)

type fallbackText struct {
	critical     string
	high         string
	timeUnknown  string
	windowClosed string
	noRisk       string
	routine      string
	nearest      string
	testing      string
	injury       string
	symptoms     string
	intervals    map[string]string
}

var fallbackTexts = map[models.Locale]fallbackText{
	models.LocaleEnglish: {
		critical:     "You are inside the 72-hour PEP window with about %d hours left. PEP works best the sooner it starts, so please act now.",
		high:         "You are inside the 72-hour PEP window with about %d hours left. Please get a PEP evaluation today.",
		timeUnknown:  "PEP only works if it is started within 72 hours of the exposure, and the sooner the better. Please get a PEP evaluation right away.",
		windowClosed: "It has been more than 72 hours since the exposure, so PEP is no longer effective. Testing is now the most important step.",
		noRisk:       "What you described does not carry a risk of HIV transmission, so PEP is not needed.",
		routine:      "Based on what you shared, PEP may not be needed, but a clinician can confirm this with you.",
		nearest:      "Go to the nearest clinic or emergency department and tell them you had a possible HIV exposure.",
		testing:      "Get an HIV test at %s and again at %s after the exposure.",
		injury:       "Because you mentioned an injury, please get in-person care.",
		symptoms:     "Because you mentioned symptoms, ask about STI testing too.",
		intervals:    map[string]string{triage.TestingFirst: "6 weeks", triage.TestingSecond: "3 months"},
	},
	models.LocaleSpanish: {
		critical:     "Estás dentro de la ventana de 72 horas para la PEP y te quedan unas %d horas. La PEP funciona mejor cuanto antes empiece, así que actúa ahora.",
		high:         "Estás dentro de la ventana de 72 horas para la PEP y te quedan unas %d horas. Busca una evaluación de PEP hoy mismo.",
		timeUnknown:  "La PEP solo funciona si se empieza dentro de las 72 horas posteriores a la exposición, y cuanto antes mejor. Busca una evaluación de PEP de inmediato.",
		windowClosed: "Han pasado más de 72 horas desde la exposición, así que la PEP ya no es eficaz. Ahora lo más importante es hacerte la prueba.",
		noRisk:       "Lo que describiste no conlleva riesgo de transmisión del VIH, así que no necesitas PEP.",
		routine:      "Según lo que compartiste, puede que no necesites PEP, pero un profesional de salud puede confirmarlo contigo.",
		nearest:      "Acude a la clínica o sala de urgencias más cercana y explica que tuviste una posible exposición al VIH.",
		testing:      "Hazte una prueba de VIH a las %s y otra a los %s después de la exposición.",
		injury:       "Como mencionaste una lesión, busca atención en persona.",
		symptoms:     "Como mencionaste síntomas, pregunta también por pruebas de ITS.",
		intervals:    map[string]string{triage.TestingFirst: "6 semanas", triage.TestingSecond: "3 meses"},
	},
}

// Fallback is the deterministic guidance used when the consult model fails. It
// depends only on the triage facts and their urgency: a PEP-window message, the
// nearest-clinic instruction and the testing cadence.
func Fallback(d models.TriageData, u models.UrgencyContext, locale models.Locale) string {
	txt, ok := fallbackTexts[locale]
	if !ok {
		txt = fallbackTexts[models.LocaleEnglish]
	}

	var parts []string
	switch u.Label {
	case models.UrgencyCritical:
		parts = append(parts, fmt.Sprintf(txt.critical, hoursLeft(u)))
	case models.UrgencyHigh:
		parts = append(parts, fmt.Sprintf(txt.high, hoursLeft(u)))
	case models.UrgencyTimeUnknown:
		parts = append(parts, txt.timeUnknown)
	case models.UrgencyWindowClosed:
		parts = append(parts, txt.windowClosed)
	default:
		if d.Risk() == models.RiskNone {
			parts = append(parts, txt.noRisk)
		} else {
			parts = append(parts, txt.routine)
		}
	}

	parts = append(parts, txt.nearest)
	parts = append(parts, fmt.Sprintf(txt.testing, txt.intervals[triage.TestingFirst], txt.intervals[triage.TestingSecond]))
	if d.HasInjury {
		parts = append(parts, txt.injury)
	}
	if d.STISymptoms {
		parts = append(parts, txt.symptoms)
	}
	return strings.Join(parts, " ")
}

func hoursLeft(u models.UrgencyContext) int {
	if u.HoursRemaining == nil {
		return 0
	}
	return int(math.Round(*u.HoursRemaining))
}
