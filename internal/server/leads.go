package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/lead"
	"gorm.io/gorm"
)

func handleLeadList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := lead.ListFilters{
			Status: c.Query("status"),
			Search: c.Query("search"),
			Params: pageParams(c),
		}
		if raw := c.Query("corretor_id"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				fail(c, http.StatusUnprocessableEntity, "corretor_id inválido")
				return
			}
			agent := uint(id)
			filters.AgentID = &agent
		}
		res, err := lead.List(db, filters)
		if err != nil {
			serverError(c, err)
			return
		}
		ok(c, res)
	}
}

func handleLeadStats(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := lead.GetStats(db, time.Now())
		if err != nil {
			serverError(c, err)
			return
		}
		ok(c, stats)
	}
}

func handleLeadGet(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathID(c)
		if !valid {
			return
		}
		l, err := lead.Get(db, id)
		if err != nil {
			leadError(c, err)
			return
		}
		ok(c, l)
	}
}

func handleLeadUpdate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathID(c)
		if !valid {
			return
		}
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusUnprocessableEntity, "corpo JSON inválido")
			return
		}
		updates, err := lead.FieldsFromJSON(body)
		if err != nil {
			leadError(c, err)
			return
		}
		l, err := lead.Update(db, id, updates)
		if err != nil {
			leadError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Lead atualizado", "data": l})
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

func handleLeadStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathID(c)
		if !valid {
			return
		}
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
			fail(c, http.StatusUnprocessableEntity, "status é obrigatório")
			return
		}
		l, err := lead.UpdateStatus(db, id, req.Status)
		if err != nil {
			leadError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Status atualizado", "data": l})
	}
}

func leadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lead.ErrNotFound):
		fail(c, http.StatusNotFound, "lead não encontrado")
	case errors.Is(err, lead.ErrInvalid):
		fail(c, http.StatusUnprocessableEntity, err.Error())
	default:
		serverError(c, err)
	}
}
