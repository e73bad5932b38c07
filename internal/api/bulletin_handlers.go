// Package api - Daily bulletin handlers
package api

import (
	"net/http"

	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/errors"
	"github.com/gin-gonic/gin"
)

// TodayBulletin returns today's bulletin in the admin timezone, or null
// GET /daily-bulletin/today
func (h *Handler) TodayBulletin(c *gin.Context) {
	bulletin, err := h.bulletins.Today(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bulletin)
}

// BulletinByDate returns the bulletin of a date, or null
// GET /daily-bulletin/by-date/:date
func (h *Handler) BulletinByDate(c *gin.Context) {
	bulletin, err := h.bulletins.ByDate(c.Request.Context(), c.Param("date"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bulletin)
}

// ListBulletins returns every bulletin, newest date first
// GET /daily-bulletin
func (h *Handler) ListBulletins(c *gin.Context) {
	list, err := h.bulletins.List(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// UpsertBulletin publishes the bulletin of a date, replacing any previous one.
// Multipart fields: file, date, title, description.
// POST /daily-bulletin
func (h *Handler) UpsertBulletin(c *gin.Context) {
	if !isMultipart(c) {
		abortWithError(c, errors.NewBadRequestError("multipart/form-data body required"))
		return
	}
	var in engine.BulletinInput
	if err := bind(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	file, err := formFile(c, "file")
	if err != nil {
		abortWithError(c, err)
		return
	}

	bulletin, err := h.bulletins.Upsert(c.Request.Context(), in, file, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bulletin)
}

// DeleteBulletin removes the bulletin of a date and its file
// DELETE /daily-bulletin/:date
func (h *Handler) DeleteBulletin(c *gin.Context) {
	if err := h.bulletins.DeleteByDate(c.Request.Context(), c.Param("date"), currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
