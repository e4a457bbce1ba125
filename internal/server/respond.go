package server

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/pagination"
)

const debugKey = "lar.debug"

// fail writes the JSON error envelope.
func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// serverError logs err and answers 500. Details are exposed only in debug
// mode.
func serverError(c *gin.Context, err error) {
	log.Printf("server: %s %s: %v", c.Request.Method, c.FullPath(), err)
	msg := "erro interno"
	if c.GetBool(debugKey) {
		msg = err.Error()
	}
	fail(c, http.StatusInternalServerError, msg)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// pathID parses the :id parameter, answering 404 when it is not a positive
// integer.
func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusNotFound, "registro não encontrado")
		return 0, false
	}
	return uint(id), true
}

func pageParams(c *gin.Context) pagination.Params {
	page, _ := strconv.Atoi(c.Query("page"))
	perPage, _ := strconv.Atoi(c.Query("per_page"))
	return pagination.Params{Page: page, PerPage: perPage}
}

// optionalInt parses an optional query parameter. A malformed value answers
// 422 and returns ok=false.
func optionalInt(c *gin.Context, key string) (*int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, key+" deve ser um número inteiro")
		return nil, false
	}
	return &n, true
}

func optionalFloat(c *gin.Context, key string) (*float64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, key+" deve ser um número")
		return nil, false
	}
	return &f, true
}
