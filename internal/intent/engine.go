// ABOUTME: Rule-based intent detection for inbound messages with score-based ranking
// ABOUTME: Keyword scoring plus an explicit priority order for breaking ties

package intent

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Intent is a symbolic label for what the user is trying to do
type Intent string

// Known intents, highest priority first. Handoff and cancellation outrank the
// rest so incidental keyword overlap never starves them.
const (
	HumanHandoff        Intent = "human_handoff"
	Cancellation        Intent = "cancellation"
	Confirmation        Intent = "confirmation"
	BookingIntent       Intent = "booking_intent"
	AvailabilityRequest Intent = "availability_request"
	InfoRequest         Intent = "info_request"
	Greeting            Intent = "greeting"
	Fallback            Intent = "fallback"
)

// priorityOrder breaks score ties between intents
var priorityOrder = []Intent{
	HumanHandoff,
	Cancellation,
	Confirmation,
	BookingIntent,
	AvailabilityRequest,
	InfoRequest,
	Greeting,
	Fallback,
}

var intentKeywords = map[Intent][]string{
	Greeting: {
		"hola", "hello", "hi", "buenas", "buenos dias", "buen día",
		"buenas tardes", "buenas noches", "que tal", "qué tal", "como va",
		"cómo va", "como estas", "cómo estás", "todo bien", "saludos", "ey",
		"hey", "holaa", "holis", "buenas!",
	},
	InfoRequest: {
		"servicio", "servicios", "producto", "productos", "plan", "planes",
		"precio", "precios", "costo", "costos", "valor", "cuanto cuesta",
		"cuánto cuesta", "cuanto sale", "cuánto sale", "catalogo", "catálogo",
		"informacion", "información", "info", "detalles", "mas info",
		"más info", "quiero informacion", "me podes informar",
		"me podés informar", "que ofrecen", "qué ofrecen", "que incluye",
		"qué incluye", "como funciona", "cómo funciona", "de que se trata",
		"de qué se trata", "explicame", "explícame",
	},
	AvailabilityRequest: {
		"disponibilidad", "disponible", "hay cupo", "tienen cupo",
		"queda lugar", "hay lugar", "stock", "hay stock", "les queda",
		"horario", "horarios", "a que hora", "a qué hora", "cuando atienden",
		"cuándo atienden", "dias de atencion", "días de atención", "turno",
		"turnos", "agenda", "esta libre", "está libre", "puedo pasar",
		"puedo ir",
	},
	BookingIntent: {
		"reservar", "reserva", "agendar", "agendo", "quiero reservar",
		"quiero agendar", "sacar turno", "pedir cita", "cita", "contratar",
		"comprar", "quiero comprar", "me interesa", "interesado",
		"interesada", "quiero avanzar", "quiero contratar", "como contrato",
		"cómo contrato", "quiero el servicio", "quiero ese plan", "lo quiero",
		"lo llevo", "me lo quedo", "vamos con eso",
	},
	Confirmation: {
		"si", "sí", "confirmo", "confirmar", "correcto", "ok", "oki", "okey",
		"dale", "de una", "perfecto", "genial", "listo", "adelante",
		"aceptar", "esta bien", "está bien", "me sirve",
	},
	Cancellation: {
		"cancelar", "cancela", "anular", "anula", "detener", "stop", "olvida",
		"olvidalo", "salir", "no quiero", "ya no", "me arrepenti",
		"me arrepentí", "no me interesa", "no gracias", "dejalo", "déjalo",
	},
	HumanHandoff: {
		"asesor", "agente", "humano", "persona", "representante", "soporte",
		"operador", "hablar con alguien", "hablar con una persona",
		"atencion humana", "atención humana", "quiero hablar con alguien",
		"pasame con alguien", "pasame con un asesor", "necesito ayuda",
		"me podes atender",
	},
}

// matcher checks one keyword against normalized text.
// Multi-word phrases match on substring containment; single words only on a
// word boundary, so "si" never fires inside "siempre".
type matcher struct {
	phrase string
	word   *regexp.Regexp
}

func (m matcher) matches(text string) bool {
	if m.word != nil {
		return m.word.MatchString(text)
	}
	return strings.Contains(text, m.phrase)
}

// Engine detects user intent from raw message text.
// Detection is deterministic and side-effect free.
type Engine struct {
	matchers map[Intent][]matcher
}

// NewEngine builds the engine, compiling keyword matchers once.
// Keywords are normalized the same way as inbound text so accented entries
// match their accent-stripped form. Accent pairs in the lists ("si"/"sí")
// collapse to a single matcher so one occurrence never scores twice.
func NewEngine() *Engine {
	e := &Engine{matchers: make(map[Intent][]matcher, len(intentKeywords))}
	for label, keywords := range intentKeywords {
		ms := make([]matcher, 0, len(keywords))
		seen := make(map[string]struct{}, len(keywords))
		for _, kw := range keywords {
			normalized := normalizeText(kw)
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			if strings.Contains(normalized, " ") {
				ms = append(ms, matcher{phrase: normalized})
			} else {
				ms = append(ms, matcher{word: regexp.MustCompile(`\b` + regexp.QuoteMeta(normalized) + `\b`)})
			}
		}
		e.matchers[label] = ms
	}
	return e
}

// Detect returns the intent label for a message.
// The intent with the highest keyword score wins; score ties resolve by
// priority order; a zero best score returns Fallback.
func (e *Engine) Detect(message string) Intent {
	normalized := normalizeText(message)

	scores := make(map[Intent]int, len(e.matchers))
	best := 0
	for label, ms := range e.matchers {
		score := 0
		for _, m := range ms {
			if m.matches(normalized) {
				score++
			}
		}
		scores[label] = score
		if score > best {
			best = score
		}
	}

	if best == 0 {
		return Fallback
	}

	for _, label := range priorityOrder {
		if scores[label] == best {
			return label
		}
	}
	return Fallback
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases, strips diacritics, and collapses whitespace
func normalizeText(message string) string {
	lowered := strings.ToLower(strings.TrimSpace(message))
	stripped, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		stripped = lowered
	}
	return strings.Join(strings.Fields(stripped), " ")
}
