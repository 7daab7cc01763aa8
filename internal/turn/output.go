package turn

import (
	"github.com/BTreeMap/TriagePipe/internal/models"
)

// OutputKind identifies what the controller is asking the UI to render.
type OutputKind string

const (
	OutputQuestion       OutputKind = "question"
	OutputCaption        OutputKind = "caption"
	OutputNotice         OutputKind = "notice"
	OutputListening      OutputKind = "listening"
	OutputInterim        OutputKind = "interim"
	OutputAwaitingText   OutputKind = "awaiting_text"
	OutputAcknowledgment OutputKind = "acknowledgment"
	OutputGuardrail      OutputKind = "guardrail"
	OutputFinalizing     OutputKind = "finalizing"
	OutputResult         OutputKind = "result"
	OutputError          OutputKind = "error"
	// OutputAudio is emitted by players that hand audio to a remote client.
	OutputAudio OutputKind = "audio"
)

// Output is one render instruction.
type Output struct {
	Kind    OutputKind            `json:"kind"`
	Text    string                `json:"text,omitempty"`
	Context string                `json:"context,omitempty"`
	Key     models.QuestionKey    `json:"key,omitempty"`
	Index   int                   `json:"index,omitempty"`
	Total   int                   `json:"total,omitempty"`
	Tone    models.Tone           `json:"tone,omitempty"`
	Audio   []byte                `json:"audio,omitempty"`
	Result  *models.ConsultResult `json:"result,omitempty"`
}

// Waiting reports whether the output leaves the controller waiting on the user
// or finished.
func (o Output) Waiting() bool {
	switch o.Kind {
	case OutputListening, OutputAwaitingText, OutputAudio, OutputResult:
		return true
	default:
		return false
	}
}

// Presenter renders outputs. It is called from the controller goroutine only and
// must not block.
type Presenter interface {
	Present(Output)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Output)

// Present calls f(o).
func (f PresenterFunc) Present(o Output) { f(o) }

var acknowledgments = map[models.Locale][]string{
	models.LocaleEnglish: {
		"Thank you.",
		"Got it.",
		"Okay, thank you for telling me.",
		"Understood.",
		"Thanks, that helps.",
	},
	models.LocaleSpanish: {
		"Gracias.",
		"Entendido.",
		"De acuerdo, gracias por contármelo.",
		"Muy bien.",
		"Gracias, eso ayuda.",
	},
}

var audioUnavailable = map[models.Locale]string{
	models.LocaleEnglish: "Audio is unavailable right now. Please read the text on screen.",
	models.LocaleSpanish: "El audio no está disponible en este momento. Por favor, lee el texto en pantalla.",
}

var preparingGuidance = map[models.Locale]string{
	models.LocaleEnglish: "Thank you. I'm putting together your guidance now.",
	models.LocaleSpanish: "Gracias. Estoy preparando tu orientación.",
}

func localized(table map[models.Locale]string, locale models.Locale) string {
	if s, ok := table[locale]; ok {
		return s
	}
	return table[models.LocaleEnglish]
}
