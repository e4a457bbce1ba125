// Package dashboard computes the aggregates shown on the CRM home screen.
package dashboard

import (
	"fmt"
	"time"

	"github.com/zulandar/larcrm/internal/conversation"
	"github.com/zulandar/larcrm/internal/lead"
	"github.com/zulandar/larcrm/internal/models"
	"gorm.io/gorm"
)

// LeadCounts summarizes the lead funnel.
type LeadCounts struct {
	Total         int64 `json:"total"`
	Novos         int64 `json:"novos"`
	EmAtendimento int64 `json:"em_atendimento"`
	Qualificados  int64 `json:"qualificados"`
	FechadosMes   int64 `json:"fechados_mes"`
}

// ConversationCounts summarizes conversation load.
type ConversationCounts struct {
	Ativas     int64 `json:"ativas"`
	Hoje       int64 `json:"hoje"`
	Aguardando int64 `json:"aguardando"`
}

// AgentCounts summarizes the sales team.
type AgentCounts struct {
	Total int64 `json:"total"`
}

// Stats is the dashboard headline block.
type Stats struct {
	Leads      LeadCounts         `json:"leads"`
	Conversas  ConversationCounts `json:"conversas"`
	Corretores AgentCounts        `json:"corretores"`
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// GetStats counts leads, conversations and active agents as of now.
func GetStats(db *gorm.DB, now time.Time) (*Stats, error) {
	ls, err := lead.GetStats(db, now)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	s := &Stats{Leads: LeadCounts{
		Total:         ls.Total,
		Novos:         ls.ByStatus[lead.StatusNovo],
		EmAtendimento: ls.ByStatus[lead.StatusEmAtendimento],
		Qualificados:  ls.ByStatus[lead.StatusQualificado],
	}}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	counts := []struct {
		name string
		q    *gorm.DB
		dst  *int64
	}{
		{"closed this month", db.Model(&models.Lead{}).Where("status = ? AND updated_at >= ?", lead.StatusFechado, monthStart), &s.Leads.FechadosMes},
		{"active conversations", db.Model(&models.Conversation{}).Where("status = ?", conversation.StatusAtiva), &s.Conversas.Ativas},
		{"conversations today", db.Model(&models.Conversation{}).Where("started_at >= ?", startOfDay(now)), &s.Conversas.Hoje},
		{"waiting conversations", db.Model(&models.Conversation{}).Where("status = ?", conversation.StatusAguardandoCorretor), &s.Conversas.Aguardando},
		{"active agents", db.Model(&models.User{}).Where("role = ? AND active = ?", "corretor", true), &s.Corretores.Total},
	}
	for _, c := range counts {
		if err := c.q.Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("dashboard: count %s: %w", c.name, err)
		}
	}
	return s, nil
}

// ActivityRef points at the records an activity concerns.
type ActivityRef struct {
	ConversationID uint  `json:"conversa_id"`
	LeadID         *uint `json:"lead_id"`
}

// Activity is one entry of the recent-activity feed.
type Activity struct {
	Type        string      `json:"tipo"`
	Description string      `json:"descricao"`
	Timestamp   time.Time   `json:"timestamp"`
	Data        ActivityRef `json:"data"`
}

// Activities lists the most recently started conversations, newest first.
func Activities(db *gorm.DB, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 10
	}
	var convs []models.Conversation
	if err := db.Preload("Lead").Order("started_at DESC, id DESC").Limit(limit).Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("dashboard: activities: %w", err)
	}
	out := make([]Activity, len(convs))
	for i, c := range convs {
		who := c.Phone
		if c.Lead != nil && c.Lead.Name != "" {
			who = c.Lead.Name
		}
		out[i] = Activity{
			Type:        "nova_conversa",
			Description: "Nova conversa iniciada com " + who,
			Timestamp:   c.StartedAt,
			Data:        ActivityRef{ConversationID: c.ID, LeadID: c.LeadID},
		}
	}
	return out, nil
}

// DayCount is the number of conversations started on one day.
type DayCount struct {
	Date  string `json:"data"` // YYYY-MM-DD
	Total int64  `json:"total"`
}

// ConversationsPerDay counts conversations started on each of the last days
// days, today included, oldest first. Days without conversations are zero.
// Bucketing happens in Go so the query stays portable across drivers.
func ConversationsPerDay(db *gorm.DB, now time.Time, days int) ([]DayCount, error) {
	if days <= 0 {
		days = 7
	}
	first := startOfDay(now).AddDate(0, 0, -(days - 1))

	var starts []time.Time
	if err := db.Model(&models.Conversation{}).
		Where("started_at >= ?", first).
		Pluck("started_at", &starts).Error; err != nil {
		return nil, fmt.Errorf("dashboard: conversations per day: %w", err)
	}

	out := make([]DayCount, days)
	index := make(map[string]int, days)
	for i := range out {
		d := first.AddDate(0, 0, i).Format("2006-01-02")
		out[i].Date = d
		index[d] = i
	}
	for _, ts := range starts {
		if i, ok := index[ts.In(now.Location()).Format("2006-01-02")]; ok {
			out[i].Total++
		}
	}
	return out, nil
}
