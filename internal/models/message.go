package models

import "time"

// Conversation is the WhatsApp thread with one phone number. ActiveKey holds
// the phone while the conversation is not finalized and is NULL afterwards,
// so the unique index allows at most one open conversation per phone.
type Conversation struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Phone        string     `gorm:"size:32;not null;index" json:"telefone"`
	WhatsAppName string     `gorm:"column:whatsapp_name;size:255" json:"whatsapp_name"`
	Stage        string     `gorm:"size:32;default:boas_vindas" json:"stage"`
	Status       string     `gorm:"size:32;default:ativa;index" json:"status"`
	ActiveKey    *string    `gorm:"size:32;uniqueIndex" json:"-"`
	LeadID       *uint      `gorm:"index" json:"lead_id"`
	AgentID      *uint      `gorm:"index" json:"corretor_id"`
	LastMessage  string     `gorm:"type:text" json:"ultima_mensagem"`
	StartedAt    time.Time  `json:"iniciada_em"`
	LastActivity time.Time  `gorm:"index" json:"ultima_atividade"`
	FinishedAt   *time.Time `json:"finalizada_em"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Lead     *Lead     `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
	Messages []Message `gorm:"foreignKey:ConversationID" json:"mensagens,omitempty"`
}

// Message is a single inbound or outbound WhatsApp message. ProviderSID is
// the gateway's message ID; its unique index makes redeliveries detectable.
type Message struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint       `gorm:"not null;index" json:"conversa_id"`
	ProviderSID    *string    `gorm:"column:provider_sid;size:64;uniqueIndex" json:"message_sid,omitempty"`
	Direction      string     `gorm:"size:16;not null" json:"direction"`
	Type           string     `gorm:"size:16;default:text" json:"tipo"`
	Content        string     `gorm:"type:text" json:"conteudo"`
	MediaURL       string     `gorm:"size:1024" json:"media_url,omitempty"`
	Transcription  string     `gorm:"type:text" json:"transcricao,omitempty"`
	Status         string     `gorm:"size:32;default:received" json:"status"`
	SentAt         time.Time  `gorm:"index" json:"sent_at"`
	ReadAt         *time.Time `json:"read_at"`
	CreatedAt      time.Time  `json:"created_at"`
}
