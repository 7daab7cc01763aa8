// Package flow implements the adaptive question flow state machine and the static
// triage question catalog.
package flow

import (
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/triage"
)

// Answers maps question keys to the raw answer text collected so far.
type Answers map[models.QuestionKey]string

// Question is an immutable catalog entry. Unlock, when set, reads only answers
// that were already collected.
type Question struct {
	Key     models.QuestionKey
	Prompt  map[models.Locale]string
	Context map[models.Locale]string
	Unlock  func(Answers) bool
}

// Conditional reports whether the question is only asked after being unlocked.
func (q Question) Conditional() bool {
	return q.Unlock != nil
}

// PromptFor returns the prompt in the locale, falling back to English.
func (q Question) PromptFor(locale models.Locale) string {
	return localized(q.Prompt, locale)
}

// ContextFor returns the optional context sentence in the locale.
func (q Question) ContextFor(locale models.Locale) string {
	return localized(q.Context, locale)
}

// Utterance is the prompt and its context spoken as one piece of text.
func (q Question) Utterance(locale models.Locale) string {
	return strings.TrimSpace(q.PromptFor(locale) + " " + q.ContextFor(locale))
}

func localized(texts map[models.Locale]string, locale models.Locale) string {
	if s, ok := texts[locale]; ok {
		return s
	}
	return texts[models.DefaultLocale]
}

// DefaultCatalog returns the crisis triage questions in asking order. Unlock
// conditions classify answers with the same patterns the extractor uses.
func DefaultCatalog(ex *triage.Extractor) []Question {
	partnerPositive := func(a Answers) bool {
		for _, key := range []models.QuestionKey{models.KeyPartnerStatus, models.KeyKnownStatus} {
			if ans, ok := a[key]; ok {
				if v, ok := ex.ClassifyAnswer(triage.FieldPartnerStatus, key, ans); ok {
					return v == models.PartnerPositive
				}
			}
		}
		return false
	}

	return []Question{
		{
			Key: models.KeyTimeSince,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "How long ago did the exposure happen? An approximate number of hours or days is fine.",
				models.LocaleSpanish: "¿Hace cuánto tiempo ocurrió la exposición? Un número aproximado de horas o días está bien.",
			},
			Context: map[models.Locale]string{
				models.LocaleEnglish: "PEP works best when started as soon as possible, within 72 hours.",
				models.LocaleSpanish: "La PEP funciona mejor cuanto antes se empiece, dentro de las 72 horas.",
			},
		},
		{
			Key: models.KeyExposureType,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "What kind of contact was it? For example anal, vaginal or oral sex, or sharing needles.",
				models.LocaleSpanish: "¿Qué tipo de contacto fue? Por ejemplo sexo anal, vaginal u oral, o compartir agujas.",
			},
		},
		{
			Key: models.KeySexualRole,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "During anal sex, were you the receptive partner, the insertive partner, or both?",
				models.LocaleSpanish: "Durante el sexo anal, ¿fuiste la pareja receptiva, la insertiva o ambas?",
			},
			Context: map[models.Locale]string{
				models.LocaleEnglish: "Receptive is sometimes called bottom, insertive is called top.",
				models.LocaleSpanish: "A la pareja receptiva a veces se le dice pasiva y a la insertiva activa.",
			},
			Unlock: func(a Answers) bool {
				v, ok := ex.ClassifyAnswer(triage.FieldExposureType, models.KeyExposureType, a[models.KeyExposureType])
				return ok && v == models.ExposureAnal
			},
		},
		{
			Key: models.KeyCondomUsed,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "Was a condom used?",
				models.LocaleSpanish: "¿Se usó condón?",
			},
			Context: map[models.Locale]string{
				models.LocaleEnglish: "If it broke or slipped off, please tell me.",
				models.LocaleSpanish: "Si se rompió o se salió, dímelo por favor.",
			},
		},
		{
			Key: models.KeyOnPrep,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "Are you currently taking PrEP?",
				models.LocaleSpanish: "¿Estás tomando PrEP actualmente?",
			},
			Context: map[models.Locale]string{
				models.LocaleEnglish: "PrEP is a medicine taken before exposure to prevent HIV.",
				models.LocaleSpanish: "La PrEP es un medicamento que se toma antes de la exposición para prevenir el VIH.",
			},
		},
		{
			Key: models.KeyKnownStatus,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "Do you know your partner's HIV status?",
				models.LocaleSpanish: "¿Conoces el estado de VIH de tu pareja?",
			},
		},
		{
			Key: models.KeyPartnerStatus,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "What is your partner's HIV status: positive or negative?",
				models.LocaleSpanish: "¿Cuál es el estado de VIH de tu pareja: positivo o negativo?",
			},
			Unlock: func(a Answers) bool {
				ans, ok := a[models.KeyKnownStatus]
				if !ok {
					return false
				}
				if ex.IsAffirmative(ans) {
					return true
				}
				v, ok := ex.ClassifyAnswer(triage.FieldPartnerStatus, models.KeyKnownStatus, ans)
				return ok && v != models.PartnerUnknown
			},
		},
		{
			Key: models.KeyPartnerOnTreatment,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "Is your partner on HIV treatment with an undetectable viral load?",
				models.LocaleSpanish: "¿Tu pareja está en tratamiento para el VIH con carga viral indetectable?",
			},
			Context: map[models.Locale]string{
				models.LocaleEnglish: "Undetectable means untransmittable.",
				models.LocaleSpanish: "Indetectable significa intransmisible.",
			},
			Unlock: partnerPositive,
		},
		{
			Key: models.KeySymptoms,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "Do you have any symptoms such as sores, discharge, burning or a rash?",
				models.LocaleSpanish: "¿Tienes algún síntoma como llagas, secreción, ardor o sarpullido?",
			},
		},
		{
			Key: models.KeyIdentity,
			Prompt: map[models.Locale]string{
				models.LocaleEnglish: "Do you identify as LGBTQIA+? This is optional and helps me suggest welcoming clinics.",
				models.LocaleSpanish: "¿Te identificas como LGBTQIA+? Es opcional y me ayuda a sugerir clínicas acogedoras.",
			},
		},
	}
}
