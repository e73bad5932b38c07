// Package api - Request type and service option handlers
package api

import (
	"net/http"

	"github.com/aethra/civicdesk/internal/engine"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ListRequestTypes returns every request type in display order
// GET /request-types
func (h *Handler) ListRequestTypes(c *gin.Context) {
	types, err := h.catalog.ListTypes(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

// GetRequestType returns a request type with its options
// GET /request-types/:id
func (h *Handler) GetRequestType(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	rt, err := h.catalog.GetType(c.Request.Context(), id, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rt)
}

// CreateRequestType adds a request type
// POST /request-types
func (h *Handler) CreateRequestType(c *gin.Context) {
	var in engine.RequestTypeInput
	if err := bindJSON(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	rt, err := h.catalog.CreateType(c.Request.Context(), in, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rt)
}

// UpdateRequestType edits a request type
// PATCH /request-types/:id
func (h *Handler) UpdateRequestType(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var patch engine.RequestTypePatch
	if err := bindJSON(c, &patch); err != nil {
		abortWithError(c, err)
		return
	}
	rt, err := h.catalog.UpdateType(c.Request.Context(), id, patch, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rt)
}

// DeleteRequestType removes an unused request type and its options
// DELETE /request-types/:id
func (h *Handler) DeleteRequestType(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteType(c.Request.Context(), id, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UploadRequestTypeIcon stores an icon from the multipart "file" field
// POST /request-types/upload-icon
func (h *Handler) UploadRequestTypeIcon(c *gin.Context) {
	file, err := formFile(c, "file")
	if err != nil {
		abortWithError(c, err)
		return
	}
	url, err := h.catalog.UploadIcon(c.Request.Context(), file, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// =============================================================================
// SERVICE OPTIONS
// =============================================================================

// OptionsByRequestType lists the options of one request type
// GET /request-type-options/by-request-type/:requestTypeId
func (h *Handler) OptionsByRequestType(c *gin.Context) {
	id, ok := idParam(c, "requestTypeId")
	if !ok {
		return
	}
	options, err := h.catalog.ListOptions(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

// ListOptions lists all options, optionally filtered by requestTypeId
// GET /request-type-options?requestTypeId=1
func (h *Handler) ListOptions(c *gin.Context) {
	requestTypeID, err := optionalUintQuery(c, "requestTypeId")
	if err != nil {
		abortWithError(c, err)
		return
	}
	options, err := h.catalog.AdminListOptions(c.Request.Context(), requestTypeID, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

// GetOption returns one service option
// GET /request-type-options/:id
func (h *Handler) GetOption(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	opt, err := h.catalog.GetOption(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, opt)
}

// CreateOption adds a service option
// POST /request-type-options
func (h *Handler) CreateOption(c *gin.Context) {
	var in engine.OptionInput
	if err := bindJSON(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	opt, err := h.catalog.CreateOption(c.Request.Context(), in, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, opt)
}

// UpdateOption edits a service option
// PATCH /request-type-options/:id
func (h *Handler) UpdateOption(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var patch engine.OptionPatch
	if err := bindJSON(c, &patch); err != nil {
		abortWithError(c, err)
		return
	}
	opt, err := h.catalog.UpdateOption(c.Request.Context(), id, patch, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, opt)
}

// DeleteOption removes a service option; requests keep their number
// DELETE /request-type-options/:id
func (h *Handler) DeleteOption(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteOption(c.Request.Context(), id, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UploadOptionImage stores an option image from the multipart "file" field
// POST /request-type-options/upload-image
func (h *Handler) UploadOptionImage(c *gin.Context) {
	file, err := formFile(c, "file")
	if err != nil {
		abortWithError(c, err)
		return
	}
	url, err := h.catalog.UploadOptionImage(c.Request.Context(), file, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}
