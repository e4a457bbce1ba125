// Package conversation stores WhatsApp conversations and their messages and
// owns the intake stage machine.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/larcrm/internal/models"
	"github.com/zulandar/larcrm/internal/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Conversation statuses.
const (
	StatusAtiva              = "ativa"
	StatusFinalizada         = "finalizada"
	StatusAguardandoCorretor = "aguardando_corretor"
)

// Message directions, types and delivery states.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"

	TypeText     = "text"
	TypeAudio    = "audio"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeDocument = "document"

	MessageReceived = "received"
	MessageSent     = "sent"
	MessageFailed   = "failed"
	MessageRead     = "read"
)

var (
	// ErrNotFound is returned when no conversation or message matches.
	ErrNotFound = errors.New("conversation: not found")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("conversation: invalid")
)

// ValidStatus reports whether s is a conversation status.
func ValidStatus(s string) bool {
	return s == StatusAtiva || s == StatusFinalizada || s == StatusAguardandoCorretor
}

// FindOrCreateActive returns the open conversation for phone, creating one
// in stage boas_vindas when none exists. The insert relies on the unique
// active_key, so concurrent deliveries for one phone share a single row.
func FindOrCreateActive(db *gorm.DB, phone, displayName string) (*models.Conversation, bool, error) {
	now := time.Now()
	key := phone
	fresh := models.Conversation{
		Phone:        phone,
		WhatsAppName: displayName,
		Stage:        string(StageBoasVindas),
		Status:       StatusAtiva,
		ActiveKey:    &key,
		StartedAt:    now,
		LastActivity: now,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "active_key"}},
		DoNothing: true,
	}).Create(&fresh)
	if result.Error != nil {
		return nil, false, fmt.Errorf("conversation: create for %s: %w", phone, result.Error)
	}
	created := result.RowsAffected == 1

	var c models.Conversation
	if err := db.Where("active_key = ?", phone).First(&c).Error; err != nil {
		return nil, false, fmt.Errorf("conversation: load active for %s: %w", phone, err)
	}
	if created {
		return &c, true, nil
	}

	updates := map[string]interface{}{"last_activity": now}
	if displayName != "" {
		updates["whatsapp_name"] = displayName
	}
	if err := db.Model(&models.Conversation{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("conversation: touch %d: %w", c.ID, err)
	}
	c.LastActivity = now
	if displayName != "" {
		c.WhatsAppName = displayName
	}
	return &c, false, nil
}

// Get retrieves a conversation with its lead and messages in send order.
func Get(db *gorm.DB, id uint) (*models.Conversation, error) {
	var c models.Conversation
	err := db.Preload("Lead").
		Preload("Messages", func(tx *gorm.DB) *gorm.DB { return tx.Order("sent_at ASC, id ASC") }).
		First(&c, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("conversation: get %d: %w", id, err)
	}
	return &c, nil
}

// ListFilters holds optional filters for listing conversations. Finalized
// conversations are excluded unless All is set or Status asks for them.
type ListFilters struct {
	Status string
	All    bool
	pagination.Params
}

// List returns one page of conversations, most recently active first.
func List(db *gorm.DB, filters ListFilters) (*pagination.Result[models.Conversation], error) {
	q := db.Model(&models.Conversation{}).Preload("Lead")
	switch {
	case filters.Status != "":
		q = q.Where("status = ?", filters.Status)
	case !filters.All:
		q = q.Where("status <> ?", StatusFinalizada)
	}
	res, err := pagination.Find[models.Conversation](q, "last_activity DESC, id DESC", filters.Params)
	if err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	return res, nil
}

// Live pairs an active conversation with its latest message.
type Live struct {
	models.Conversation
	Latest *models.Message `json:"mensagem_recente"`
}

// Recent returns up to limit active conversations with their latest message.
func Recent(db *gorm.DB, limit int) ([]Live, error) {
	if limit <= 0 {
		limit = 10
	}
	var convs []models.Conversation
	if err := db.Preload("Lead").
		Where("status = ?", StatusAtiva).
		Order("last_activity DESC, id DESC").
		Limit(limit).
		Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("conversation: recent: %w", err)
	}

	out := make([]Live, 0, len(convs))
	for _, c := range convs {
		item := Live{Conversation: c}
		var m models.Message
		err := db.Where("conversation_id = ?", c.ID).Order("sent_at DESC, id DESC").First(&m).Error
		switch {
		case err == nil:
			item.Latest = &m
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("conversation: latest message of %d: %w", c.ID, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// SetStage persists a new stage.
func SetStage(db *gorm.DB, id uint, stage Stage) error {
	if _, err := ParseStage(string(stage)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := db.Model(&models.Conversation{}).Where("id = ?", id).
		Update("stage", string(stage)).Error; err != nil {
		return fmt.Errorf("conversation: set stage %d: %w", id, err)
	}
	return nil
}

// SetStatus changes the conversation status. Finalizing releases the
// phone's active slot so the next inbound message opens a new conversation.
func SetStatus(db *gorm.DB, id uint, status string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: status %q", ErrInvalid, status)
	}
	updates := map[string]interface{}{"status": status}
	if status == StatusFinalizada {
		updates["active_key"] = nil
		updates["finished_at"] = time.Now()
	}
	result := db.Model(&models.Conversation{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("conversation: set status %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// LinkLead attaches a lead to the conversation.
func LinkLead(db *gorm.DB, id, leadID uint) error {
	if err := db.Model(&models.Conversation{}).Where("id = ?", id).
		Update("lead_id", leadID).Error; err != nil {
		return fmt.Errorf("conversation: link lead %d to %d: %w", leadID, id, err)
	}
	return nil
}

// MessageOpts holds parameters for recording a message.
type MessageOpts struct {
	ConversationID uint
	ProviderSID    string
	Direction      string
	Type           string
	Content        string
	MediaURL       string
	Status         string
}

// AppendMessage records a message and refreshes the conversation's last
// message and activity time. A non-empty ProviderSID that was already
// recorded returns the stored message with duplicate=true and changes
// nothing.
func AppendMessage(db *gorm.DB, opts MessageOpts) (*models.Message, bool, error) {
	if opts.ConversationID == 0 {
		return nil, false, fmt.Errorf("%w: conversation id is required", ErrInvalid)
	}
	if opts.Direction != DirectionIncoming && opts.Direction != DirectionOutgoing {
		return nil, false, fmt.Errorf("%w: direction %q", ErrInvalid, opts.Direction)
	}
	if opts.Type == "" {
		opts.Type = TypeText
	}
	if opts.Status == "" {
		if opts.Direction == DirectionIncoming {
			opts.Status = MessageReceived
		} else {
			opts.Status = MessageSent
		}
	}

	now := time.Now()
	msg := models.Message{
		ConversationID: opts.ConversationID,
		Direction:      opts.Direction,
		Type:           opts.Type,
		Content:        opts.Content,
		MediaURL:       opts.MediaURL,
		Status:         opts.Status,
		SentAt:         now,
	}
	if opts.ProviderSID != "" {
		sid := opts.ProviderSID
		msg.ProviderSID = &sid
	}

	duplicate := false
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_sid"}},
			DoNothing: true,
		}).Create(&msg)
		if result.Error != nil {
			return fmt.Errorf("insert message: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			duplicate = true
			return tx.Where("provider_sid = ?", opts.ProviderSID).First(&msg).Error
		}
		preview := opts.Content
		if preview == "" {
			preview = "[" + opts.Type + "]"
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", opts.ConversationID).
			Updates(map[string]interface{}{
				"last_message":  preview,
				"last_activity": now,
			}).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("conversation: append message to %d: %w", opts.ConversationID, err)
	}
	return &msg, duplicate, nil
}

// SetTranscription stores the transcript of an audio message.
func SetTranscription(db *gorm.DB, messageID uint, text string) error {
	if err := db.Model(&models.Message{}).Where("id = ?", messageID).
		Update("transcription", text).Error; err != nil {
		return fmt.Errorf("conversation: set transcription %d: %w", messageID, err)
	}
	return nil
}

// UpdateMessageStatus applies a gateway delivery callback to the message
// with the given provider SID. A "read" status also stamps read_at.
func UpdateMessageStatus(db *gorm.DB, providerSID, status string) error {
	if providerSID == "" || status == "" {
		return fmt.Errorf("%w: sid and status are required", ErrInvalid)
	}
	updates := map[string]interface{}{"status": strings.ToLower(status)}
	if strings.EqualFold(status, MessageRead) {
		updates["read_at"] = time.Now()
	}
	result := db.Model(&models.Message{}).Where("provider_sid = ?", providerSID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("conversation: update status of %s: %w", providerSID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: message %s", ErrNotFound, providerSID)
	}
	return nil
}

// MarkRead stamps read_at on unread incoming messages and returns how many
// changed.
func MarkRead(db *gorm.DB, id uint) (int64, error) {
	result := db.Model(&models.Message{}).
		Where("conversation_id = ? AND direction = ? AND read_at IS NULL", id, DirectionIncoming).
		Update("read_at", time.Now())
	if result.Error != nil {
		return 0, fmt.Errorf("conversation: mark read %d: %w", id, result.Error)
	}
	return result.RowsAffected, nil
}

// CountIncoming returns the number of incoming messages in a conversation.
func CountIncoming(db *gorm.DB, id uint) (int64, error) {
	var n int64
	if err := db.Model(&models.Message{}).
		Where("conversation_id = ? AND direction = ?", id, DirectionIncoming).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("conversation: count incoming %d: %w", id, err)
	}
	return n, nil
}

// Transcript renders the conversation as "Cliente:" / "Atendente:" lines in
// send order. Audio transcriptions take the place of their placeholders.
func Transcript(db *gorm.DB, id uint) (string, error) {
	var msgs []models.Message
	if err := db.Where("conversation_id = ?", id).
		Order("sent_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return "", fmt.Errorf("conversation: transcript %d: %w", id, err)
	}
	return FormatTranscript(msgs), nil
}

// TranscriptBefore renders the dialogue that preceded message msgID, leaving
// out that message and anything stored after it.
func TranscriptBefore(db *gorm.DB, id, msgID uint) (string, error) {
	var msgs []models.Message
	if err := db.Where("conversation_id = ? AND id < ?", id, msgID).
		Order("sent_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return "", fmt.Errorf("conversation: transcript %d: %w", id, err)
	}
	return FormatTranscript(msgs), nil
}

// FormatTranscript renders msgs as a plain-text dialogue.
func FormatTranscript(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		text := m.Transcription
		if text == "" {
			text = m.Content
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		speaker := "Cliente"
		if m.Direction == DirectionOutgoing {
			speaker = "Atendente"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, text)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
