// Package api - User account and sub-sector handlers
package api

import (
	"context"
	"net/http"

	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler serves account management and sub-sector endpoints
type AdminHandler struct {
	users      *engine.UserEngine
	subSectors *engine.SubSectorEngine
	logger     *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(users *engine.UserEngine, subSectors *engine.SubSectorEngine, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{users: users, subSectors: subSectors, logger: logger}
}

// =============================================================================
// OWN ACCOUNT
// =============================================================================

// PublicSubSectors lists sub-sectors for the registration form
// GET /users/sub-sectors
func (h *AdminHandler) PublicSubSectors(c *gin.Context) {
	sectors, err := h.users.SubSectors(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sectors)
}

// UpdateMe edits the caller's own profile
// PATCH /users/me
func (h *AdminHandler) UpdateMe(c *gin.Context) {
	var in engine.ProfileUpdate
	if err := bindJSON(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	user, err := h.users.UpdateMe(c.Request.Context(), currentUser(c), in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeactivateMe deactivates the caller's own account
// PATCH /users/me/deactivate
func (h *AdminHandler) DeactivateMe(c *gin.Context) {
	user, err := h.users.DeactivateMe(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetUser returns a user to themselves or an administrator
// GET /users/:id
func (h *AdminHandler) GetUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	user, err := h.users.FindOne(c.Request.Context(), id, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// =============================================================================
// USER MANAGEMENT
// =============================================================================

// ListUsers returns every user, newest first
// GET /users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.users.FindAll(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// PendingUsers returns registrations awaiting approval
// GET /users/pending
func (h *AdminHandler) PendingUsers(c *gin.Context) {
	users, err := h.users.FindPending(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// UsersWithRequestCount returns approved users with their request totals
// GET /users/with-request-count
func (h *AdminHandler) UsersWithRequestCount(c *gin.Context) {
	rows, err := h.users.FindWithRequestCount(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// UpdateUser applies an administrator's edit
// PATCH /users/:id
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in engine.UserUpdate
	if err := bindJSON(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	user, err := h.users.Update(c.Request.Context(), id, in, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ApproveUser approves a registration
// PATCH /users/:id/approve
func (h *AdminHandler) ApproveUser(c *gin.Context) {
	h.decide(c, h.users.Approve)
}

// RejectUser rejects a registration
// PATCH /users/:id/reject
func (h *AdminHandler) RejectUser(c *gin.Context) {
	h.decide(c, h.users.Reject)
}

func (h *AdminHandler) decide(c *gin.Context, apply func(ctx context.Context, id uint, actor *models.User) (*models.User, error)) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	user, err := apply(c.Request.Context(), id, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeleteUser removes a user with their requests and files
// DELETE /users/:id
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.users.Remove(c.Request.Context(), id, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// =============================================================================
// SUB-SECTORS
// =============================================================================

// ListSubSectors returns all sub-sectors
// GET /sub-sectors
func (h *AdminHandler) ListSubSectors(c *gin.Context) {
	sectors, err := h.subSectors.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sectors)
}

// GetSubSector returns one sub-sector
// GET /sub-sectors/:id
func (h *AdminHandler) GetSubSector(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	sector, err := h.subSectors.Get(c.Request.Context(), id, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sector)
}

// CreateSubSector adds a sub-sector
// POST /sub-sectors
func (h *AdminHandler) CreateSubSector(c *gin.Context) {
	var in engine.SubSectorInput
	if err := bindJSON(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	sector, err := h.subSectors.Create(c.Request.Context(), in, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sector)
}

// UpdateSubSector edits a sub-sector
// PATCH /sub-sectors/:id
func (h *AdminHandler) UpdateSubSector(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in engine.SubSectorInput
	if err := bindJSON(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	sector, err := h.subSectors.Update(c.Request.Context(), id, in, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sector)
}

// DeleteSubSector removes an unused sub-sector
// DELETE /sub-sectors/:id
func (h *AdminHandler) DeleteSubSector(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.subSectors.Delete(c.Request.Context(), id, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
