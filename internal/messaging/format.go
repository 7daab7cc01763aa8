package messaging

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

type textStrings struct {
	shortlistHeader string
	noClinics       string
	pep             string
	open24x7        string
	goodbye         string
	welcome         string
}

var texts = map[models.Locale]textStrings{
	models.LocaleEnglish: {
		shortlistHeader: "Clinics near you:",
		noClinics:       "I could not find clinics for your country. Please go to the nearest clinic or emergency department.",
		pep:             "PEP",
		open24x7:        "open 24/7",
		goodbye:         "Okay, I have stopped. Text me again any time if you need help.",
		welcome:         "Hi, I'm here to help after a possible HIV exposure. I'll ask a few short questions. Reply STOP at any time to end.",
	},
	models.LocaleSpanish: {
		shortlistHeader: "Clínicas cerca de ti:",
		noClinics:       "No encontré clínicas para tu país. Acude a la clínica o sala de urgencias más cercana.",
		pep:             "PEP",
		open24x7:        "abierta 24/7",
		goodbye:         "De acuerdo, me detengo. Escríbeme de nuevo cuando necesites ayuda.",
		welcome:         "Hola, estoy aquí para ayudarte después de una posible exposición al VIH. Te haré algunas preguntas breves. Responde ALTO en cualquier momento para terminar.",
	},
}

func textsFor(locale models.Locale) textStrings {
	if t, ok := texts[locale]; ok {
		return t
	}
	return texts[models.LocaleEnglish]
}

// FormatShortlist renders a clinic shortlist as a numbered text message.
func FormatShortlist(clinics []models.Clinic, locale models.Locale) string {
	t := textsFor(locale)
	if len(clinics) == 0 {
		return t.noClinics
	}
	var b strings.Builder
	b.WriteString(t.shortlistHeader)
	for i, c := range clinics {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Name)
		var details []string
		if c.Address != "" {
			details = append(details, c.Address)
		}
		if c.Phone != "" {
			details = append(details, c.Phone)
		}
		var tags []string
		if c.OffersPEP {
			tags = append(tags, t.pep)
		}
		if c.Open24x7 {
			tags = append(tags, t.open24x7)
		}
		if len(tags) > 0 {
			details = append(details, "("+strings.Join(tags, ", ")+")")
		}
		if len(details) > 0 {
			b.WriteString(" - " + strings.Join(details, " "))
		}
	}
	return b.String()
}

var spanishGreetings = []string{"hola", "español", "espanol", "ayuda", "buenas", "necesito"}

// DetectLocale guesses the locale of a first message. Anything not clearly
// Spanish is English.
func DetectLocale(text string) models.Locale {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "es" {
		return models.LocaleSpanish
	}
	for _, w := range spanishGreetings {
		if strings.Contains(lower, w) {
			return models.LocaleSpanish
		}
	}
	return models.LocaleEnglish
}

var stopWords = map[string]bool{"stop": true, "cancel": true, "quit": true, "alto": true, "cancelar": true, "salir": true}

// IsStopWord reports whether a message asks to end the conversation.
func IsStopWord(text string) bool {
	return stopWords[strings.ToLower(strings.TrimSpace(text))]
}
