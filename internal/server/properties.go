package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/catalog"
	"github.com/zulandar/larcrm/internal/property"
	"gorm.io/gorm"
)

func handlePropertyList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := property.PublicFilters{
			Type:         c.Query("tipo"),
			City:         c.Query("cidade"),
			Neighborhood: c.Query("bairro"),
		}
		var valid bool
		if f.MinRooms, valid = optionalInt(c, "quartos_min"); !valid {
			return
		}
		if f.MinPrice, valid = optionalFloat(c, "preco_min"); !valid {
			return
		}
		if f.MaxPrice, valid = optionalFloat(c, "preco_max"); !valid {
			return
		}
		props, err := property.ListPublic(db, f)
		if err != nil {
			serverError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "total": len(props), "data": props})
	}
}

func handlePropertyGet(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := property.GetPublic(db, c.Param("codigo"))
		if err != nil {
			if errors.Is(err, property.ErrNotFound) {
				fail(c, http.StatusNotFound, "imóvel não encontrado")
				return
			}
			serverError(c, err)
			return
		}
		ok(c, p)
	}
}

// handlePropertySync starts a catalog sync in the background. force=1
// refreshes every active property.
func handlePropertySync(ctx context.Context, s SyncStarter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s == nil {
			fail(c, http.StatusServiceUnavailable, "sincronização não configurada")
			return
		}
		force := c.Query("force") == "1" || c.Query("force") == "true"
		err := s.Start(ctx, catalog.RunOpts{Force: force})
		switch {
		case errors.Is(err, catalog.ErrLocked):
			fail(c, http.StatusConflict, "sincronização já em andamento")
		case err != nil:
			serverError(c, err)
		default:
			c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "sincronização iniciada"})
		}
	}
}
