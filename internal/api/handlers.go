// Package api contains the HTTP API handlers for civicdesk
package api

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aethra/civicdesk/internal/auth"
	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health endpoints
var Version = "1.0.0"

const (
	actorKey = "actor"

	// maxFormFileBytes bounds a single multipart file; engines apply tighter limits per upload kind
	maxFormFileBytes = 16 << 20
)

// Engines bundles the domain engines the handlers delegate to
type Engines struct {
	Requests   *engine.RequestEngine
	Catalog    *engine.CatalogEngine
	Users      *engine.UserEngine
	SubSectors *engine.SubSectorEngine
	Bulletins  *engine.BulletinEngine
	Reports    *engine.ReportEngine
}

// Handler serves requests, catalog and bulletin endpoints and owns the auth middleware
type Handler struct {
	requests   *engine.RequestEngine
	catalog    *engine.CatalogEngine
	users      *engine.UserEngine
	bulletins  *engine.BulletinEngine
	reports    *engine.ReportEngine
	jwtService *auth.JWTService
	policy     auth.Policy
	logger     *logrus.Logger
}

// NewHandler creates a new API handler
func NewHandler(engines Engines, jwtService *auth.JWTService, logger *logrus.Logger) *Handler {
	return &Handler{
		requests:   engines.Requests,
		catalog:    engines.Catalog,
		users:      engines.Users,
		bulletins:  engines.Bulletins,
		reports:    engines.Reports,
		jwtService: jwtService,
		logger:     logger,
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// AuthMiddleware resolves the bearer token to a stored user and aborts with 401 otherwise
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortWithError(c, errors.NewUnauthorizedError(""))
			return
		}

		claims, err := h.jwtService.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			abortWithError(c, errors.NewUnauthorizedError("invalid or expired token"))
			return
		}

		user, err := h.users.FindByID(c.Request.Context(), claims.UserID)
		if err != nil {
			var nf *errors.NotFoundError
			if stderrors.As(err, &nf) {
				abortWithError(c, errors.NewUnauthorizedError("user no longer exists"))
				return
			}
			abortWithError(c, err)
			return
		}

		c.Set(actorKey, user)
		c.Next()
	}
}

// RequireAdminMiddleware allows administrators only
func (h *Handler) RequireAdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.policy.RequireAdmin(currentUser(c)); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RequireApprovedMiddleware allows active, approved users; administrators always pass
func (h *Handler) RequireApprovedMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.policy.RequireApproved(currentUser(c)); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    status,
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.WithField("errors", c.Errors.String()).Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health returns the health status
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "civicdesk",
		"version": Version,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// abortWithError records err on the context and writes its HTTP mapping
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, response := errors.ToHTTPError(err)
	c.AbortWithStatusJSON(status, response)
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(actorKey); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}

// idParam reads a positive numeric path parameter
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		abortWithError(c, errors.NewBadRequestError(fmt.Sprintf("Invalid %s", name)))
		return 0, false
	}
	return uint(id), true
}

// optionalUintQuery reads a numeric query parameter; absent or empty yields nil
func optionalUintQuery(c *gin.Context, name string) (*uint, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, errors.NewValidationError(name, fmt.Sprintf("%s must be a number", name))
	}
	id := uint(v)
	return &id, nil
}

func parseIntParam(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

// formFile reads an optional multipart file. A missing field yields nil.
func formFile(c *gin.Context, field string) (*storage.File, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if stderrors.Is(err, http.ErrMissingFile) || stderrors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, errors.NewBadRequestError("Invalid multipart upload")
	}
	if header.Size > maxFormFileBytes {
		return nil, errors.NewBadRequestError("File too large")
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxFormFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &storage.File{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}
