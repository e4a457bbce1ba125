package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/conversation"
	"github.com/zulandar/larcrm/internal/intake"
	"gorm.io/gorm"
)

// webhookFields decodes a JSON or form-encoded gateway payload.
func webhookFields(c *gin.Context) (map[string]any, error) {
	if c.ContentType() == gin.MIMEJSON {
		var fields map[string]any
		if err := json.NewDecoder(c.Request.Body).Decode(&fields); err != nil {
			return nil, err
		}
		return fields, nil
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	return intake.FormFields(c.Request.PostForm), nil
}

// handleWebhook receives inbound WhatsApp messages. Processing is detached
// from the request context so a gateway hanging up mid-reply does not abort
// the conversation turn. The gateway retries any non-2xx answer, so only
// processing failures get a 500; an unreadable body is acknowledged with
// success false.
func handleWebhook(h InboundHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields, err := webhookFields(c)
		if err != nil {
			log.Printf("server: webhook: unreadable payload: %v", err)
			fail(c, http.StatusOK, "payload inválido")
			return
		}
		in := intake.NormalizeWebhook(fields)

		res, err := h.HandleInbound(context.WithoutCancel(c.Request.Context()), in)
		if err != nil {
			log.Printf("server: webhook from %s: %v", in.From, err)
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Processado", "result": res})
	}
}

// handleStatusCallback applies Twilio delivery receipts. It always answers
// 200 so the gateway does not retry.
func handleStatusCallback(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.PostForm("MessageSid")
		status := c.PostForm("MessageStatus")
		if sid != "" && status != "" {
			err := conversation.UpdateMessageStatus(db, sid, status)
			if err != nil && !errors.Is(err, conversation.ErrNotFound) {
				log.Printf("server: status callback %s: %v", sid, err)
			}
		}
		c.String(http.StatusOK, "OK")
	}
}
