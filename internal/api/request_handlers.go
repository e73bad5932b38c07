// Package api - Service request handlers
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/gin-gonic/gin"
)

// SubmitRequest is the body of POST /requests, as multipart form fields or JSON.
// JSON clients send the issue image as a data URL.
type SubmitRequest struct {
	RequestTypeID       uint   `form:"requestTypeId" json:"requestTypeId"`
	RequestTypeOptionID uint   `form:"requestTypeOptionId" json:"requestTypeOptionId"`
	HouseNo             string `form:"houseNo" json:"houseNo"`
	StreetNo            string `form:"streetNo" json:"streetNo"`
	SubSectorID         uint   `form:"subSectorId" json:"subSectorId"`
	Description         string `form:"description" json:"description"`
	IssueImage          string `form:"-" json:"issueImage"`
}

// UpdateStatusRequest changes a request's status
type UpdateStatusRequest struct {
	Status models.RequestStatus `json:"status" binding:"required,oneof=pending cancelled in_progress completed done"`
}

// =============================================================================
// CITIZEN ENDPOINTS
// =============================================================================

// CreateRequest admits a new service request
// POST /requests
func (h *Handler) CreateRequest(c *gin.Context) {
	var req SubmitRequest
	if err := bind(c, &req); err != nil {
		abortWithError(c, err)
		return
	}

	image, err := h.submissionImage(c, req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	created, err := h.requests.Submit(c.Request.Context(), engine.Submission{
		RequestTypeID:       req.RequestTypeID,
		RequestTypeOptionID: req.RequestTypeOptionID,
		HouseNo:             req.HouseNo,
		StreetNo:            req.StreetNo,
		SubSectorID:         req.SubSectorID,
		Description:         req.Description,
		Image:               image,
	}, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) submissionImage(c *gin.Context, req SubmitRequest) (*storage.File, error) {
	if isMultipart(c) {
		return formFile(c, "issueImage")
	}
	if strings.TrimSpace(req.IssueImage) == "" {
		return nil, nil
	}
	file, err := storage.DecodeDataURL(req.IssueImage)
	if err != nil {
		return nil, errors.NewValidationError("issueImage", "Invalid image data URL")
	}
	return file, nil
}

// MyRequests lists the caller's own requests
// GET /requests/my
func (h *Handler) MyRequests(c *gin.Context) {
	list, err := h.requests.FindMy(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetRequest returns one request to its owner or an administrator
// GET /requests/:id
func (h *Handler) GetRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, err := h.requests.Get(c.Request.Context(), id, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// DeleteRequest removes a request; owners may delete their own
// DELETE /requests/:id
func (h *Handler) DeleteRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.requests.Remove(c.Request.Context(), id, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// ListRequests returns a filtered window of requests and the total in X-Total-Count
// GET /requests
func (h *Handler) ListRequests(c *gin.Context) {
	query, err := listQuery(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	result, err := h.requests.List(c.Request.Context(), currentUser(c), query)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("X-Total-Count", strconv.FormatInt(result.Total, 10))
	c.JSON(http.StatusOK, result.Data)
}

func listQuery(c *gin.Context) (engine.ListQuery, error) {
	q := engine.ListQuery{
		Status:   c.Query("status"),
		DateFrom: c.Query("dateFrom"),
		DateTo:   c.Query("dateTo"),
		Search:   c.Query("q"),
		Sort:     c.Query("_sort"),
		Order:    c.Query("_order"),
		Start:    parseIntParam(c.Query("_start"), 0),
	}
	var err error
	if q.RequestTypeID, err = optionalUintQuery(c, "requestTypeId"); err != nil {
		return q, err
	}
	if q.RequestTypeOptionID, err = optionalUintQuery(c, "requestTypeOptionId"); err != nil {
		return q, err
	}
	if raw := c.Query("_end"); raw != "" {
		end, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.NewValidationError("_end", "_end must be a number")
		}
		q.End = &end
	}
	return q, nil
}

// UpdateRequest applies an admin edit
// PATCH /requests/:id
func (h *Handler) UpdateRequest(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in engine.RequestUpdate
	if err := bindJSON(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	updated, err := h.requests.Update(c.Request.Context(), id, in, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// UpdateRequestStatus changes a request's status
// PATCH /requests/:id/status
func (h *Handler) UpdateRequestStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in UpdateStatusRequest
	if err := bindJSON(c, &in); err != nil {
		abortWithError(c, err)
		return
	}
	updated, err := h.requests.UpdateStatus(c.Request.Context(), id, in.Status, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// =============================================================================
// REPORTS
// =============================================================================

// StatsSummary returns request totals by type
// GET /requests/stats/summary
func (h *Handler) StatsSummary(c *gin.Context) {
	stats, err := h.reports.Stats(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DailyStats returns per-day request counts
// GET /requests/stats/daily?days=14
func (h *Handler) DailyStats(c *gin.Context) {
	days := parseIntParam(c.Query("days"), 0)
	stats, err := h.reports.DailyStats(c.Request.Context(), currentUser(c), days)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Dashboard returns the admin reporting dashboard
// GET /requests/reports/dashboard?period=month&from=&to=
func (h *Handler) Dashboard(c *gin.Context) {
	dashboard, err := h.reports.Dashboard(c.Request.Context(), currentUser(c),
		c.Query("period"), c.Query("from"), c.Query("to"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}
