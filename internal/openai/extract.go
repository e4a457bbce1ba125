package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const extractSystemPrompt = `Você é um assistente especializado em extrair informações estruturadas de conversas imobiliárias.

Analise a conversa e extraia os seguintes dados:
- nome: nome do cliente, se ele se apresentou
- email: e-mail do cliente
- budget_min: orçamento mínimo (número)
- budget_max: orçamento máximo (número)
- localizacao: bairro/cidade desejada
- quartos: número de quartos
- suites: número de suítes
- garagem: número de vagas
- caracteristicas_desejadas: lista de características mencionadas
- intencao: "interesse" se o cliente gostou de um imóvel apresentado, "agendar" se quer marcar visita, "refinar" se quer mudar a busca, ou vazio

Use null para o que não foi mencionado.
Retorne APENAS um JSON válido sem explicações adicionais.`

// Extraction holds lead fields read from a conversation. Absent values are
// nil or empty.
type Extraction struct {
	Name      string
	Email     string
	BudgetMin *float64
	BudgetMax *float64
	Location  string
	Rooms     *int
	Suites    *int
	Garage    *int
	Features  []string
	Intent    string
}

// rawExtraction tolerates numbers sent as strings ("300 mil", "2").
type rawExtraction struct {
	Name      any `json:"nome"`
	Email     any `json:"email"`
	BudgetMin any `json:"budget_min"`
	BudgetMax any `json:"budget_max"`
	Location  any `json:"localizacao"`
	Rooms     any `json:"quartos"`
	Suites    any `json:"suites"`
	Garage    any `json:"garagem"`
	Features  any `json:"caracteristicas_desejadas"`
	Intent    any `json:"intencao"`
}

// ExtractLead asks the model for structured lead data from a transcript.
func (c *Client) ExtractLead(ctx context.Context, transcript string) (*Extraction, error) {
	user := "Conversa:\n\n" + transcript + "\n\nExtrai os dados no formato JSON."
	out, err := c.Chat(ctx, extractSystemPrompt, user, 0.2, c.maxTokens)
	if err != nil {
		return nil, err
	}
	x, err := ParseExtraction(out)
	if err != nil {
		return nil, fmt.Errorf("openai: extract: %w", err)
	}
	return x, nil
}

// ParseExtraction decodes the model's JSON answer. Code fences and text
// around the object are ignored.
func ParseExtraction(s string) (*Extraction, error) {
	s = stripFences(s)
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in %q", truncate(s, 80))
	}
	var raw rawExtraction
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return nil, err
	}
	return &Extraction{
		Name:      asString(raw.Name),
		Email:     asString(raw.Email),
		BudgetMin: asFloat(raw.BudgetMin),
		BudgetMax: asFloat(raw.BudgetMax),
		Location:  asString(raw.Location),
		Rooms:     asInt(raw.Rooms),
		Suites:    asInt(raw.Suites),
		Garage:    asInt(raw.Garage),
		Features:  asStrings(raw.Features),
		Intent:    asString(raw.Intent),
	}, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := asString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

// asFloat reads a positive amount. Strings use Brazilian notation:
// "R$ 350.000,00", "350 mil", "1,2 milhão".
func asFloat(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		var ok bool
		if f, ok = parseAmount(t); !ok {
			return nil
		}
	default:
		return nil
	}
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func asInt(v any) *int {
	f := asFloat(v)
	if f == nil {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}

func parseAmount(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "r$")
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "mil"):
		mult, s = 1e3, strings.TrimSuffix(s, "mil")
	case strings.HasSuffix(s, "milhão"), strings.HasSuffix(s, "milhao"):
		mult = 1e6
		s = strings.TrimSuffix(strings.TrimSuffix(s, "milhão"), "milhao")
	case strings.HasSuffix(s, "milhões"), strings.HasSuffix(s, "milhoes"):
		mult = 1e6
		s = strings.TrimSuffix(strings.TrimSuffix(s, "milhões"), "milhoes")
	}
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
