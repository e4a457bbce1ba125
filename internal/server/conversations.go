package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/conversation"
	"gorm.io/gorm"
)

func handleConversationList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, all := c.GetQuery("all")
		res, err := conversation.List(db, conversation.ListFilters{
			Status: c.Query("status"),
			All:    all,
			Params: pageParams(c),
		})
		if err != nil {
			serverError(c, err)
			return
		}
		ok(c, res)
	}
}

func handleConversationLive(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		live, err := conversation.Recent(db, 10)
		if err != nil {
			serverError(c, err)
			return
		}
		ok(c, live)
	}
}

// handleConversationGet returns a conversation with its messages and marks
// the customer's unread messages as read.
func handleConversationGet(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathID(c)
		if !valid {
			return
		}
		conv, err := conversation.Get(db, id)
		if err != nil {
			conversationError(c, err)
			return
		}
		if _, err := conversation.MarkRead(db, id); err != nil {
			serverError(c, err)
			return
		}
		ok(c, conv)
	}
}

type sendRequest struct {
	Content string `json:"content"`
}

// handleConversationSend lets an agent write to the customer.
func handleConversationSend(db *gorm.DB, sender Sender) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathID(c)
		if !valid {
			return
		}
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
			fail(c, http.StatusUnprocessableEntity, "content é obrigatório")
			return
		}
		conv, err := conversation.Get(db, id)
		if err != nil {
			conversationError(c, err)
			return
		}
		if sender == nil {
			fail(c, http.StatusInternalServerError, "falha ao enviar mensagem")
			return
		}
		sid, err := sender.Send(c.Request.Context(), conv.Phone, req.Content)
		if err != nil {
			log.Printf("server: send to conversation %d: %v", conv.ID, err)
			fail(c, http.StatusInternalServerError, "falha ao enviar mensagem")
			return
		}
		msg, _, err := conversation.AppendMessage(db, conversation.MessageOpts{
			ConversationID: conv.ID,
			ProviderSID:    sid,
			Direction:      conversation.DirectionOutgoing,
			Type:           conversation.TypeText,
			Content:        req.Content,
			Status:         conversation.MessageSent,
		})
		if err != nil {
			serverError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Mensagem enviada", "data": msg})
	}
}

func conversationError(c *gin.Context, err error) {
	if errors.Is(err, conversation.ErrNotFound) {
		fail(c, http.StatusNotFound, "conversa não encontrada")
		return
	}
	serverError(c, err)
}
