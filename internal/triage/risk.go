package triage

import "github.com/BTreeMap/TriagePipe/internal/models"

// RiskRule is one (predicate, level) pair of the stratification table.
type RiskRule struct {
	Name    string
	Level   models.RiskLevel
	Applies func(d models.TriageData) bool
}

// RiskRules is evaluated top to bottom; the first rule that applies wins. When no
// rule applies the risk level stays undetermined.
var RiskRules = []RiskRule{
	{
		Name:  "receptive anal or needle, unprotected, no PrEP, partner not undetectable",
		Level: models.RiskHigh,
		Applies: func(d models.TriageData) bool {
			return (receptiveAnal(d) || models.Is(d.ExposureType, models.ExposureNeedle)) &&
				unprotected(d) && notOnPrep(d) && !partnerUndetectable(d)
		},
	},
	{
		Name:  "STI symptoms or injury, unprotected, no PrEP",
		Level: models.RiskHigh,
		Applies: func(d models.TriageData) bool {
			return (d.STISymptoms || d.HasInjury) && unprotected(d) && notOnPrep(d)
		},
	},
	{
		Name:  "partner positive and not undetectable, unprotected, no PrEP",
		Level: models.RiskHigh,
		Applies: func(d models.TriageData) bool {
			return models.Is(d.PartnerStatus, models.PartnerPositive) && !partnerUndetectable(d) &&
				unprotected(d) && notOnPrep(d)
		},
	},
	{
		Name:  "vaginal or insertive anal, unprotected, no PrEP, partner not negative",
		Level: models.RiskModerate,
		Applies: func(d models.TriageData) bool {
			return (models.Is(d.ExposureType, models.ExposureVaginal) || insertiveAnal(d)) &&
				unprotected(d) && notOnPrep(d) && !models.Is(d.PartnerStatus, models.PartnerNegative)
		},
	},
	{
		Name:  "oral, condom used, on PrEP, or partner undetectable or negative",
		Level: models.RiskLow,
		Applies: func(d models.TriageData) bool {
			return models.Is(d.ExposureType, models.ExposureOral) ||
				models.Is(d.CondomUsed, models.CondomYes) ||
				models.Is(d.OnPrep, models.PrepYes) ||
				partnerUndetectable(d) ||
				models.Is(d.PartnerStatus, models.PartnerNegative)
		},
	},
	{
		Name:  "only no-risk contact",
		Level: models.RiskNone,
		Applies: func(d models.TriageData) bool {
			return d.NoRiskContact && d.ExposureType == nil && !d.STISymptoms && !d.HasInjury
		},
	},
}

// ClassifyRisk returns the level of the first applying rule, or nil when the facts
// are insufficient. It never substitutes a default level.
func ClassifyRisk(d models.TriageData) *models.RiskLevel {
	if rule, ok := MatchRule(d); ok {
		level := rule.Level
		return &level
	}
	return nil
}

// MatchRule returns the first applying rule.
func MatchRule(d models.TriageData) (RiskRule, bool) {
	for _, r := range RiskRules {
		if r.Applies(d) {
			return r, true
		}
	}
	return RiskRule{}, false
}

// receptiveAnal treats anal exposure with an undetermined role as receptive.
func receptiveAnal(d models.TriageData) bool {
	return models.Is(d.ExposureType, models.ExposureAnal) && !models.Is(d.SexualRole, models.RoleInsertive)
}

func insertiveAnal(d models.TriageData) bool {
	return models.Is(d.ExposureType, models.ExposureAnal) && models.Is(d.SexualRole, models.RoleInsertive)
}

// unprotected is true only for a known missing or broken condom.
func unprotected(d models.TriageData) bool {
	return models.Is(d.CondomUsed, models.CondomNo) || models.Is(d.CondomUsed, models.CondomBroken)
}

func notOnPrep(d models.TriageData) bool {
	return !models.Is(d.OnPrep, models.PrepYes)
}

func partnerUndetectable(d models.TriageData) bool {
	return models.Is(d.PartnerStatus, models.PartnerPositive) &&
		models.Is(d.PartnerOnTreatment, models.TreatmentUndetectable)
}
