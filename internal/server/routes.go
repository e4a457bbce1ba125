package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(ctx context.Context, router *gin.Engine, opts Opts) {
	db := opts.DB

	router.GET("/", handleHealth(opts.AppName, opts.Version))

	// Gateway callbacks.
	router.POST("/webhook/whatsapp", handleWebhook(opts.Intake))
	router.POST("/webhook/whatsapp/status", handleStatusCallback(db))

	api := router.Group("/api")

	api.GET("/dashboard/stats", handleDashboardStats(db))
	api.GET("/dashboard/atividades", handleDashboardActivities(db))
	api.GET("/dashboard/chart/atendimentos", handleDashboardChart(db))

	api.GET("/leads", handleLeadList(db))
	api.GET("/leads/stats", handleLeadStats(db))
	api.GET("/leads/:id", handleLeadGet(db))
	api.PUT("/leads/:id", handleLeadUpdate(db))
	api.PATCH("/leads/:id/status", handleLeadStatus(db))

	api.GET("/conversas", handleConversationList(db))
	api.GET("/conversas/tempo-real", handleConversationLive(db))
	api.GET("/conversas/eventos", handleSSE(db))
	api.GET("/conversas/:id", handleConversationGet(db))
	api.POST("/conversas/:id/mensagens", handleConversationSend(db, opts.Sender))

	// Public catalog.
	api.GET("/properties", handlePropertyList(db))
	api.GET("/properties/sync", handlePropertySync(ctx, opts.Sync))
	api.GET("/properties/:codigo", handlePropertyGet(db))
}

func handleHealth(app, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"app": app, "version": version, "status": "online"})
	}
}
