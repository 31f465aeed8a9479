// ABOUTME: Tests for rule-based intent detection
// ABOUTME: Covers scoring, priority tie-breaks, normalization and fallback

package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_Fallback(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name    string
		message string
	}{
		{name: "empty message", message: ""},
		{name: "whitespace only", message: "   "},
		{name: "no keywords", message: "xyzzy frobnicate"},
		{name: "keyword inside longer word", message: "siempre"},
		{name: "numbers and symbols", message: "12345 !!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Fallback, engine.Detect(tt.message))
		})
	}
}

func TestDetect_SingleIntent(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name    string
		message string
		want    Intent
	}{
		{name: "greeting", message: "Hola!", want: Greeting},
		{name: "greeting phrase", message: "buenas tardes", want: Greeting},
		{name: "info request", message: "me pasas el catalogo?", want: InfoRequest},
		{name: "availability", message: "tienen disponibilidad para el viernes?", want: AvailabilityRequest},
		{name: "booking", message: "necesito sacar turno", want: BookingIntent},
		{name: "confirmation", message: "dale, perfecto", want: Confirmation},
		{name: "cancellation", message: "mejor cancelar todo", want: Cancellation},
		{name: "human handoff", message: "quiero hablar con un asesor", want: HumanHandoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Detect(tt.message))
		})
	}
}

func TestDetect_HighestScoreWins(t *testing.T) {
	engine := NewEngine()

	// "hola" scores 1 for greeting; "quiero reservar" plus "reservar" score 2
	// for booking, so booking wins despite greeting's presence.
	got := engine.Detect("Hola, quiero reservar una consulta")
	assert.Equal(t, BookingIntent, got)
}

func TestDetect_TieBreaksByPriority(t *testing.T) {
	engine := NewEngine()

	// One keyword each: "si" (confirmation) and "cancelar" (cancellation).
	// Cancellation outranks confirmation in the priority order.
	got := engine.Detect("si cancelar")
	assert.Equal(t, Cancellation, got)

	// "hola" (greeting) against "asesor" (handoff): handoff has top priority.
	got = engine.Detect("hola asesor")
	assert.Equal(t, HumanHandoff, got)
}

func TestDetect_AccentPairsScoreOnce(t *testing.T) {
	engine := NewEngine()

	// The keyword lists carry accented and stripped variants of the same
	// entry ("si"/"sí", "esta bien"/"está bien", "que tal"/"qué tal"). Both
	// normalize to the same matcher, so a single occurrence scores one point
	// and these texts stay ties that resolve by priority.
	tests := []struct {
		name    string
		message string
		want    Intent
	}{
		{name: "si versus cancelar", message: "sí, cancelar", want: Cancellation},
		{name: "esta bien versus cancela", message: "esta bien, cancela", want: Cancellation},
		{name: "que tal versus necesito ayuda", message: "que tal, necesito ayuda", want: HumanHandoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Detect(tt.message))
		})
	}
}

func TestDetect_NormalizesAccentsAndCase(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name    string
		message string
		want    Intent
	}{
		{name: "uppercase with accent", message: "CANCELÁ TODO", want: Cancellation},
		{name: "accented keyword matches stripped form", message: "cuánto cuesta el plan", want: InfoRequest},
		{name: "stripped form matches accented keyword", message: "que tal", want: Greeting},
		{name: "extra whitespace", message: "  quiero   hablar   con   alguien  ", want: HumanHandoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Detect(tt.message))
		})
	}
}

func TestDetect_WordBoundaries(t *testing.T) {
	engine := NewEngine()

	// "si" must not fire inside "siempre", nor "info" inside "informal".
	assert.Equal(t, Fallback, engine.Detect("siempre lo mismo"))

	// But punctuation next to a keyword still matches.
	assert.Equal(t, Confirmation, engine.Detect("si, dale"))
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "Hola", want: "hola"},
		{input: "  QUÉ   TAL  ", want: "que tal"},
		{input: "atención humana", want: "atencion humana"},
		{input: "", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeText(tt.input))
	}
}
