package notify

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zulandar/larcrm/internal/models"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// FormatBRL formats an amount as Brazilian reais (e.g. 350000 -> "R$ 350.000,00").
func FormatBRL(v float64) string {
	if v < 0 {
		return "-" + FormatBRL(-v)
	}
	cents := int64(math.Round(v * 100))
	s := fmt.Sprintf("%d", cents/100)

	var b strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		b.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	return fmt.Sprintf("R$ %s,%02d", b.String(), cents%100)
}

// budget renders a lead's price range.
func budget(minV, maxV *float64) string {
	switch {
	case minV != nil && maxV != nil:
		return FormatBRL(*minV) + " a " + FormatBRL(*maxV)
	case maxV != nil:
		return "até " + FormatBRL(*maxV)
	case minV != nil:
		return "a partir de " + FormatBRL(*minV)
	}
	return ""
}

// ConversationURL links to a conversation in the admin panel at base. It
// returns "" when no panel URL is configured.
func ConversationURL(base string, id uint) string {
	base = strings.TrimRight(base, "/")
	if base == "" || id == 0 {
		return ""
	}
	return base + "/conversas/" + strconv.FormatUint(uint64(id), 10)
}

// FormatHandoff describes a lead that asked to schedule a visit.
func FormatHandoff(l *models.Lead, conv *models.Conversation) Event {
	name := l.Name
	if name == "" {
		name = l.WhatsAppName
	}
	if name == "" {
		name = l.Phone
	}

	evt := Event{
		Title:    fmt.Sprintf("Lead %s quer agendar visita", name),
		Body:     "Conversa aguardando corretor.",
		Severity: "success",
		Urgent:   true,
		Fields:   []Field{{Name: "Telefone", Value: l.Phone, Short: true}},
	}
	if conv != nil {
		evt.Fields = append(evt.Fields, Field{Name: "Conversa", Value: fmt.Sprintf("#%d", conv.ID), Short: true})
		if conv.LastMessage != "" {
			evt.Body = fmt.Sprintf("Última mensagem: %q", conv.LastMessage)
		}
	}
	if b := budget(l.BudgetMin, l.BudgetMax); b != "" {
		evt.Fields = append(evt.Fields, Field{Name: "Orçamento", Value: b, Short: true})
	}
	if l.Location != "" {
		evt.Fields = append(evt.Fields, Field{Name: "Região", Value: l.Location, Short: true})
	}
	if l.Rooms != nil {
		evt.Fields = append(evt.Fields, Field{Name: "Quartos", Value: fmt.Sprintf("%d", *l.Rooms), Short: true})
	}
	evt.Color = severityColor(evt.Severity)
	return evt
}

// FormatSyncRun summarizes a finished catalog sync. Completed runs with
// failures are warnings.
func FormatSyncRun(run *models.SyncRun) Event {
	evt := Event{
		Title:    fmt.Sprintf("Sincronização %d concluída", run.ID),
		Severity: "success",
		Fields: []Field{
			{Name: "Listados", Value: fmt.Sprintf("%d", run.Listed), Short: true},
			{Name: "Atualizados", Value: fmt.Sprintf("%d", run.Updated), Short: true},
			{Name: "Falhas", Value: fmt.Sprintf("%d", run.Failed), Short: true},
			{Name: "Geocodificados", Value: fmt.Sprintf("%d/%d", run.GeocodeOK, run.GeocodeOK+run.GeocodeFailed), Short: true},
		},
	}
	switch {
	case run.Status == "failed":
		evt.Title = fmt.Sprintf("Sincronização %d falhou", run.ID)
		evt.Body = run.Error
		evt.Severity = "error"
	case run.Failed > 0:
		evt.Severity = "warning"
	}
	evt.Color = severityColor(evt.Severity)
	return evt
}
