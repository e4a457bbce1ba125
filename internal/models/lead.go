package models

import (
	"time"

	"gorm.io/datatypes"
)

// Lead is a prospective customer captured from an inbound WhatsApp
// conversation. Leads are never hard-deleted.
type Lead struct {
	ID               uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Phone            string         `gorm:"size:32;not null;uniqueIndex" json:"telefone"`
	Name             string         `gorm:"size:255" json:"nome"`
	Email            string         `gorm:"size:255" json:"email"`
	WhatsAppName     string         `gorm:"column:whatsapp_name;size:255" json:"whatsapp_name"`
	BudgetMin        *float64       `json:"budget_min"`
	BudgetMax        *float64       `json:"budget_max"`
	Location         string         `gorm:"size:255" json:"localizacao"`
	Rooms            *int           `json:"quartos"`
	Suites           *int           `json:"suites"`
	Garage           *int           `json:"garagem"`
	DesiredFeatures  datatypes.JSON `json:"caracteristicas_desejadas"`
	AgentID          *uint          `gorm:"index" json:"corretor_id"`
	Status           string         `gorm:"size:32;default:novo;index" json:"status"`
	Origin           string         `gorm:"size:64;default:whatsapp" json:"origem"`
	Score            int            `gorm:"default:0" json:"score"`
	FirstInteraction *time.Time     `json:"primeira_interacao"`
	LastInteraction  *time.Time     `gorm:"index" json:"ultima_interacao"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	Agent         *User               `gorm:"foreignKey:AgentID" json:"corretor,omitempty"`
	Conversations []Conversation      `gorm:"foreignKey:LeadID" json:"conversas,omitempty"`
	Matches       []LeadPropertyMatch `gorm:"foreignKey:LeadID" json:"matches,omitempty"`
}
