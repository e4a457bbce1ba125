package conversation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	scheduleCues = []string{
		"agendar", "agendamento", "visitar", "visita", "marcar",
		"quando posso", "ver o imovel", "conhecer o imovel", "ver pessoalmente",
	}
	interestCues = []string{
		"interesse", "interessei", "gostei", "me interessa", "quero ver",
		"mais detalhes", "mais informacoes", "fotos", "esse imovel", "este imovel",
	}
	refineCues = []string{
		"ajustar", "outra regiao", "outro bairro", "aumentar", "diminuir",
		"mudar", "mais barato", "menor valor",
	}
)

// DetectIntent classifies text by keyword. It is the fallback when the
// model does not return an intent.
func DetectIntent(text string) Intent {
	t := fold(text)
	switch {
	case containsAny(t, scheduleCues):
		return IntentSchedule
	case containsAny(t, interestCues):
		return IntentInterest
	case containsAny(t, refineCues):
		return IntentRefine
	default:
		return IntentNone
	}
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

// fold lowercases s and strips diacritics ("Imóvel" -> "imovel").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
