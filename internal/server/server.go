// Package server exposes the webhook, admin and public HTTP APIs.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/catalog"
	"github.com/zulandar/larcrm/internal/intake"
	"gorm.io/gorm"
)

// InboundHandler processes normalized webhook messages.
type InboundHandler interface {
	HandleInbound(ctx context.Context, in intake.Inbound) (*intake.Result, error)
}

// Sender delivers agent messages to WhatsApp.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// SyncStarter launches catalog syncs in the background.
type SyncStarter interface {
	Start(ctx context.Context, opts catalog.RunOpts) error
}

// Opts holds configuration for the HTTP server.
type Opts struct {
	DB      *gorm.DB
	Port    int
	Debug   bool // gin request logging and error details in responses
	AppName string
	Version string
	Intake  InboundHandler
	Sender  Sender
	Sync    SyncStarter
	Out     io.Writer
}

// NewRouter builds the gin engine. Background work started by handlers,
// such as catalog syncs, is bound to ctx rather than to the request.
func NewRouter(ctx context.Context, opts Opts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Intake == nil {
		return nil, fmt.Errorf("server: intake handler is required")
	}
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Debug {
		router.Use(gin.Logger())
	}
	router.Use(func(c *gin.Context) {
		c.Set(debugKey, opts.Debug)
		c.Next()
	})

	registerRoutes(ctx, router, opts)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Port <= 0 {
		opts.Port = 8000
	}
	router, err := NewRouter(ctx, opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "%s running at http://localhost:%d\n", opts.AppName, opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
