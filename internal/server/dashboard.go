package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/dashboard"
	"gorm.io/gorm"
)

func handleDashboardStats(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := dashboard.GetStats(db, time.Now())
		if err != nil {
			serverError(c, err)
			return
		}
		ok(c, stats)
	}
}

func handleDashboardActivities(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		acts, err := dashboard.Activities(db, 10)
		if err != nil {
			serverError(c, err)
			return
		}
		ok(c, acts)
	}
}

func handleDashboardChart(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		days, err := dashboard.ConversationsPerDay(db, time.Now(), 7)
		if err != nil {
			serverError(c, err)
			return
		}
		ok(c, days)
	}
}
