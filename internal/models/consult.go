package models

// Clinic is a read-only directory record supplied by the clinic directory collaborator.
type Clinic struct {
	ID              string  `json:"id" bson:"_id"`
	Name            string  `json:"name" bson:"name"`
	CountryCode     string  `json:"countryCode" bson:"country_code"`
	City            string  `json:"city,omitempty" bson:"city,omitempty"`
	Address         string  `json:"address,omitempty" bson:"address,omitempty"`
	Phone           string  `json:"phone,omitempty" bson:"phone,omitempty"`
	Hours           string  `json:"hours,omitempty" bson:"hours,omitempty"`
	OffersPEP       bool    `json:"offersPep" bson:"offers_pep"`
	OffersPrEP      bool    `json:"offersPrep" bson:"offers_prep"`
	Open24x7        bool    `json:"open24x7" bson:"open_24x7"`
	LGBTQIAFriendly float64 `json:"lgbtqiaFriendliness" bson:"lgbtqia_friendliness"` // 0..5
}

// UrgencyContext holds the derived urgency strings embedded in a consult request.
type UrgencyContext struct {
	Label          Urgency  `json:"label"`
	HoursRemaining *float64 `json:"hoursRemaining"`
	Messages       []string `json:"messages"`
}

// ConsultContext is the structured context handed to the consult collaborator.
type ConsultContext struct {
	Triage    TriageData     `json:"triage"`
	Urgency   UrgencyContext `json:"urgency"`
	Clinics   []Clinic       `json:"clinics"`
	Trend     Trend          `json:"emotionalTrend"`
	Tone      Tone           `json:"tone"`
	Guardrail string         `json:"guardrail,omitempty"`
}

// ConsultRequest is the structured request built at finalization.
type ConsultRequest struct {
	SessionID         string                `json:"sessionId"`
	PriorTurns        []ConversationMessage `json:"priorTurns"`
	StructuredContext ConsultContext        `json:"structuredContext"`
	Locale            Locale                `json:"locale"`
	CountryCode       string                `json:"countryCode"`
}

// ConsultResult is what finalization hands back to the caller.
type ConsultResult struct {
	SessionID    string         `json:"sessionId"`
	Answer       string         `json:"answer"`
	UsedFallback bool           `json:"usedFallback"`
	Triage       TriageData     `json:"triage"`
	Urgency      UrgencyContext `json:"urgency"`
	Clinics      []Clinic       `json:"clinics"`
	Trend        Trend          `json:"emotionalTrend"`
}
