package server

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/conversation"
	"github.com/zulandar/larcrm/internal/models"
	"gorm.io/gorm"
)

// incomingEvent announces a new customer message.
type incomingEvent struct {
	ID             uint      `json:"id"`
	ConversationID uint      `json:"conversa_id"`
	Phone          string    `json:"telefone"`
	Type           string    `json:"tipo"`
	Content        string    `json:"conteudo"`
	SentAt         time.Time `json:"sent_at"`
	Unread         int64     `json:"nao_lidas"`
}

// pollInterval is how often the SSE handler looks for new messages.
var pollInterval = 3 * time.Second

// handleSSE streams new incoming messages. It polls the messages table and
// emits one event per new message, plus a periodic heartbeat.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		// Only announce messages that arrive after the client connected.
		var lastSeenID uint
		var latest models.Message
		if err := db.Where("direction = ?", conversation.DirectionIncoming).
			Order("id DESC").First(&latest).Error; err == nil {
			lastSeenID = latest.ID
		}

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(pollInterval)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var fresh []models.Message
				db.Where("direction = ? AND id > ?", conversation.DirectionIncoming, lastSeenID).
					Order("id ASC").
					Find(&fresh)
				if len(fresh) == 0 {
					continue
				}
				lastSeenID = fresh[len(fresh)-1].ID

				var unread int64
				db.Model(&models.Message{}).
					Where("direction = ? AND read_at IS NULL", conversation.DirectionIncoming).
					Count(&unread)

				phones := conversationPhones(db, fresh)
				for _, m := range fresh {
					content := m.Content
					if m.Transcription != "" {
						content = m.Transcription
					}
					writeSSE(c.Writer, "message", incomingEvent{
						ID:             m.ID,
						ConversationID: m.ConversationID,
						Phone:          phones[m.ConversationID],
						Type:           m.Type,
						Content:        content,
						SentAt:         m.SentAt,
						Unread:         unread,
					})
				}
				c.Writer.Flush()
			}
		}
	}
}

func conversationPhones(db *gorm.DB, msgs []models.Message) map[uint]string {
	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ConversationID)
	}
	var convs []models.Conversation
	db.Select("id", "phone").Where("id IN ?", ids).Find(&convs)
	out := make(map[uint]string, len(convs))
	for _, c := range convs {
		out[c.ID] = c.Phone
	}
	return out
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
