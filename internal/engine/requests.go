// Package engine - Request Engine
// Admits citizen service requests and allocates their per-option request numbers
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aethra/civicdesk/internal/auth"
	apperrors "github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/security"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const requestImageDir = "request-images"

// RequestEngine handles request submission and the request lifecycle
type RequestEngine struct {
	db     *gorm.DB
	store  storage.Store
	loc    *time.Location
	clock  Clock
	logger *logrus.Logger
	policy auth.Policy
}

// NewRequestEngine creates a request engine evaluating windows in loc
func NewRequestEngine(db *gorm.DB, store storage.Store, loc *time.Location, logger *logrus.Logger) *RequestEngine {
	return &RequestEngine{
		db:     db,
		store:  store,
		loc:    loc,
		clock:  SystemClock,
		logger: logger,
	}
}

// WithClock replaces the engine clock
func (e *RequestEngine) WithClock(clock Clock) *RequestEngine {
	e.clock = clock
	return e
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submission is a citizen's request as received from the transport
type Submission struct {
	RequestTypeID       uint
	RequestTypeOptionID uint
	HouseNo             string
	StreetNo            string
	SubSectorID         uint
	Description         string
	Image               *storage.File
}

// Validate checks the shape of the submission before any lookup
func (s *Submission) Validate() error {
	if s.RequestTypeID == 0 {
		return apperrors.NewValidationError("requestTypeId", "requestTypeId is required")
	}
	if s.RequestTypeOptionID == 0 {
		return apperrors.NewValidationError("requestTypeOptionId", "requestTypeOptionId is required")
	}
	if s.SubSectorID == 0 {
		return apperrors.NewValidationError("subSectorId", "subSectorId is required")
	}
	if strings.TrimSpace(s.HouseNo) == "" {
		return apperrors.NewValidationError("houseNo", "houseNo should not be empty")
	}
	if strings.TrimSpace(s.StreetNo) == "" {
		return apperrors.NewValidationError("streetNo", "streetNo should not be empty")
	}
	if d := strings.TrimSpace(s.Description); d != "" && len([]rune(d)) < 10 {
		return apperrors.NewValidationError("description", "description must be longer than or equal to 10 characters")
	}
	return nil
}

// Submit validates a submission in order and, when every check passes, inserts the request
// with the next number of its service option. Rejections never touch the counter.
func (e *RequestEngine) Submit(ctx context.Context, sub Submission, actor *models.User) (*models.Request, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorizedError("")
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	sub.HouseNo = strings.TrimSpace(sub.HouseNo)
	sub.StreetNo = strings.TrimSpace(sub.StreetNo)
	sub.Description = strings.TrimSpace(sub.Description)

	now := e.clock().UTC()
	log := e.logger.WithFields(logrus.Fields{
		"user_id":         actor.ID,
		"request_type_id": sub.RequestTypeID,
		"time_utc":        now.Format(time.RFC3339),
		"time_local":      now.In(e.loc).Format("2006-01-02 15:04:05"),
		"timezone":        e.loc.String(),
	})
	db := e.db.WithContext(ctx)

	var rt models.RequestType
	if err := db.First(&rt, sub.RequestTypeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, e.reject(log, apperrors.NewAdmissionError(apperrors.KindInvalidRequestType, "Invalid request type"))
		}
		return nil, apperrors.NewStorageFailure(err)
	}
	log = log.WithField("request_type", rt.Name)
	w := parseWindow(&rt)
	log.WithField("window", w.Describe()).Info("Request submission attempt")
	if bad := w.malformed(); len(bad) > 0 {
		log.WithFields(logrus.Fields{
			"fields":           bad,
			"start_time":       w.startRaw,
			"end_time":         w.endRaw,
			"restriction_days": w.days.String(),
		}).Warn("Request type has unreadable window settings")
	}

	if decision := EvaluateWindow(&rt, now, e.loc); !decision.Allowed() {
		return nil, e.reject(log, apperrors.NewAdmissionError(apperrors.KindOutsideSubmissionWindow, decision.Reason))
	}

	var sectors int64
	if err := db.Model(&models.SubSector{}).Where("id = ?", sub.SubSectorID).Count(&sectors).Error; err != nil {
		return nil, apperrors.NewStorageFailure(err)
	}
	if sectors == 0 {
		return nil, e.reject(log, apperrors.NewAdmissionError(apperrors.KindInvalidSubSector, "Invalid sub sector"))
	}

	var opt models.ServiceOption
	err := db.Where("id = ? AND request_type_id = ?", sub.RequestTypeOptionID, sub.RequestTypeID).First(&opt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, e.reject(log, apperrors.NewAdmissionError(apperrors.KindInvalidServiceOption, "Invalid service option selected"))
		}
		return nil, apperrors.NewStorageFailure(err)
	}

	if opt.ImageRequirement() == models.ImageRequired && sub.Image == nil {
		return nil, e.reject(log, apperrors.NewAdmissionError(apperrors.KindImageRequired, "Please upload an issue image for this service"))
	}

	if err := e.checkDuplicate(db, &rt, &opt, &sub, now); err != nil {
		return nil, e.reject(log, err)
	}

	var imageRef *string
	if sub.Image != nil {
		ref, err := e.storeImage(ctx, sub.Image)
		if err != nil {
			return nil, e.reject(log, err)
		}
		imageRef = &ref
	}

	var created *models.Request
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = e.allocate(tx, &sub, actor, imageRef, now)
		return err
	})
	if err != nil {
		if imageRef != nil {
			if delErr := e.store.Delete(context.WithoutCancel(ctx), *imageRef); delErr != nil {
				log.WithError(delErr).Warn("Failed to remove issue image of rejected request")
			}
		}
		var admission *apperrors.AdmissionError
		if errors.As(err, &admission) {
			return nil, e.reject(log, err)
		}
		log.WithError(err).Error("Request numbering transaction failed")
		return nil, apperrors.NewStorageFailure(err)
	}

	log.WithFields(logrus.Fields{
		"request_id":     created.ID,
		"request_number": *created.RequestNumber,
	}).Info("Request submitted")
	return created, nil
}

// allocate runs inside the transaction: it locks the type and option rows, re-checks the
// duplicate period under the lock, then consumes the next free number.
func (e *RequestEngine) allocate(tx *gorm.DB, sub *Submission, actor *models.User, imageRef *string, now time.Time) (*models.Request, error) {
	locking := clause.Locking{Strength: "UPDATE"}

	var rt models.RequestType
	if err := tx.Clauses(locking).First(&rt, sub.RequestTypeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewAdmissionError(apperrors.KindInvalidRequestType, "Invalid request type")
		}
		return nil, err
	}

	var opt models.ServiceOption
	err := tx.Clauses(locking).
		Where("id = ? AND request_type_id = ?", sub.RequestTypeOptionID, sub.RequestTypeID).
		First(&opt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewAdmissionError(apperrors.KindInvalidServiceOption, "Invalid service option selected")
		}
		return nil, err
	}

	if err := e.checkDuplicate(tx, &rt, &opt, sub, now); err != nil {
		return nil, err
	}

	prefix := NumberPrefix(&opt)
	padding := ClampPadding(opt.RequestNumberPadding)
	seq := max(opt.RequestNumberNext, 1)

	number := FormatRequestNumber(prefix, seq, padding)
	for {
		var taken int64
		if err := tx.Model(&models.Request{}).Where("request_number = ?", number).Count(&taken).Error; err != nil {
			return nil, err
		}
		if taken == 0 {
			break
		}
		// skip numbers already used by edited legacy rows
		seq++
		number = FormatRequestNumber(prefix, seq, padding)
	}

	if err := tx.Model(&models.ServiceOption{}).Where("id = ?", opt.ID).
		Update("request_number_next", seq+1).Error; err != nil {
		return nil, err
	}

	optionID := opt.ID
	req := &models.Request{
		RequestTypeID:       rt.ID,
		RequestTypeOptionID: &optionID,
		RequestNumber:       &number,
		Description:         sub.Description,
		IssueImageURL:       imageRef,
		HouseNo:             sub.HouseNo,
		StreetNo:            sub.StreetNo,
		SubSectorID:         sub.SubSectorID,
		Status:              models.StatusPending,
		UserID:              actor.ID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := tx.Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

// checkDuplicate rejects a second request for the same type, option and address in the
// current UTC calendar period of the type
func (e *RequestEngine) checkDuplicate(db *gorm.DB, rt *models.RequestType, opt *models.ServiceOption, sub *Submission, now time.Time) error {
	period := ParseDuplicatePeriod(rt.DuplicateRestrictionPeriod)
	start, end, ok := period.Range(now)
	if !ok {
		return nil
	}

	var count int64
	err := db.Model(&models.Request{}).
		Where("request_type_id = ? AND request_type_option_id = ?", rt.ID, opt.ID).
		Where("house_no = ? AND street_no = ? AND sub_sector_id = ?", sub.HouseNo, sub.StreetNo, sub.SubSectorID).
		Where("created_at >= ? AND created_at < ?", start, end).
		Count(&count).Error
	if err != nil {
		return apperrors.NewStorageFailure(err)
	}
	if count == 0 {
		return nil
	}

	scope := strings.TrimSpace(opt.Label)
	if scope == "" {
		scope = rt.Name
	}
	label := period.Label()
	return apperrors.NewAdmissionError(apperrors.KindDuplicateInPeriod, fmt.Sprintf(
		"Only one %s request per %s is allowed for the same house, street and sector. There is already a request for this address in this %s.",
		scope, label, label,
	))
}

// storeImage validates the issue image and writes it to the store
func (e *RequestEngine) storeImage(ctx context.Context, file *storage.File) (string, error) {
	if err := storage.ValidateUpload(file, storage.IssueImagePolicy); err != nil {
		if errors.Is(err, storage.ErrFileTooLarge) {
			return "", apperrors.NewAdmissionError(apperrors.KindImageTooLarge, "Issue image too large (max 5MB)")
		}
		return "", apperrors.NewAdmissionError(apperrors.KindUnsupportedImageType, "Issue image must be PNG, JPEG, WebP, or GIF")
	}
	key := storage.NewKey(requestImageDir, file.Filename, file.ContentType)
	ref, err := e.store.Put(ctx, key, file.ContentType, file.Data)
	if err != nil {
		return "", apperrors.NewStorageFailure(err)
	}
	return ref, nil
}

func (e *RequestEngine) reject(log *logrus.Entry, err error) error {
	log.WithField("reason", err.Error()).Warn("Request submission rejected")
	return err
}

// =============================================================================
// QUERIES
// =============================================================================

// ListQuery filters the admin request list
type ListQuery struct {
	RequestTypeID       *uint
	RequestTypeOptionID *uint
	Status              string
	DateFrom            string
	DateTo              string
	Search              string
	Sort                string
	Order               string
	Start               int
	End                 *int
}

var requestSort = security.SortWhitelist{
	"id":            "requests.id",
	"createdAt":     "requests.created_at",
	"updatedAt":     "requests.updated_at",
	"status":        "requests.status",
	"requestNumber": "requests.request_number",
	"houseNo":       "requests.house_no",
}

var requestSearchColumns = []string{"requests.request_number", "requests.house_no", "requests.street_no"}

func withRequestRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("User").Preload("RequestType").Preload("RequestTypeOption").Preload("SubSector")
}

// FindMy lists the actor's own requests, newest first
func (e *RequestEngine) FindMy(ctx context.Context, actor *models.User) ([]models.Request, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorizedError("")
	}
	var requests []models.Request
	err := withRequestRelations(e.db.WithContext(ctx)).
		Where("user_id = ?", actor.ID).
		Order("created_at DESC").Order("id DESC").
		Find(&requests).Error
	return requests, wrap(err, "list own requests")
}

// List returns the filtered admin view. Status completed also matches done; dates are
// inclusive UTC calendar dates.
func (e *RequestEngine) List(ctx context.Context, actor *models.User, q ListQuery) (*ListResult[models.Request], error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}

	query := e.db.WithContext(ctx).Model(&models.Request{})
	if q.RequestTypeID != nil {
		query = query.Where("requests.request_type_id = ?", *q.RequestTypeID)
	}
	if q.RequestTypeOptionID != nil {
		query = query.Where("requests.request_type_option_id = ?", *q.RequestTypeOptionID)
	}
	if q.Status != "" {
		status := models.RequestStatus(q.Status)
		if !status.Valid() {
			return nil, apperrors.NewValidationError("status", "status must be one of pending, cancelled, in_progress, completed, done")
		}
		if status.IsCompleted() {
			query = query.Where("requests.status IN ?", []models.RequestStatus{models.StatusCompleted, models.StatusDone})
		} else {
			query = query.Where("requests.status = ?", status)
		}
	}
	if q.DateFrom != "" {
		from, err := parseDate("dateFrom", q.DateFrom)
		if err != nil {
			return nil, err
		}
		query = query.Where("requests.created_at >= ?", from)
	}
	if q.DateTo != "" {
		to, err := parseDate("dateTo", q.DateTo)
		if err != nil {
			return nil, err
		}
		query = query.Where("requests.created_at < ?", to.AddDate(0, 0, 1))
	}
	if cond, args := security.BuildMultiSearchCondition(requestSearchColumns, q.Search); cond != "" {
		query = query.Where(cond, args...)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, wrap(err, "count requests")
	}

	query = query.Order(requestSort.OrderClause(q.Sort, q.Order, "requests.created_at DESC")).Order("requests.id DESC")
	if q.End != nil && *q.End > q.Start {
		query = query.Offset(max(q.Start, 0)).Limit(*q.End - max(q.Start, 0))
	}

	var data []models.Request
	if err := withRequestRelations(query).Find(&data).Error; err != nil {
		return nil, wrap(err, "list requests")
	}
	return &ListResult[models.Request]{Data: data, Total: total}, nil
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(field, field+" must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

// Get returns one request to its owner or an admin
func (e *RequestEngine) Get(ctx context.Context, id uint, actor *models.User) (*models.Request, error) {
	var req models.Request
	if err := withRequestRelations(e.db.WithContext(ctx)).First(&req, id).Error; err != nil {
		return nil, wrap(notFound(err, "Request not found"), "get request")
	}
	if err := e.policy.CheckOwnership(actor, req.UserID, auth.ActionView, "Request"); err != nil {
		return nil, err
	}
	return &req, nil
}

// =============================================================================
// ADMIN MUTATIONS
// =============================================================================

// UpdateStatus sets the status of a request
func (e *RequestEngine) UpdateStatus(ctx context.Context, id uint, status models.RequestStatus, actor *models.User) (*models.Request, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperrors.NewValidationError("status", "status must be one of pending, cancelled, in_progress, completed, done")
	}

	db := e.db.WithContext(ctx)
	var req models.Request
	if err := db.First(&req, id).Error; err != nil {
		return nil, wrap(notFound(err, "Request not found"), "get request")
	}
	req.Status = status
	if err := db.Model(&req).Update("status", status).Error; err != nil {
		return nil, wrap(err, "update request status")
	}
	e.logger.WithFields(logrus.Fields{"request_id": id, "status": status, "admin_id": actor.ID}).Info("Request status updated")
	return &req, nil
}

// RequestUpdate is an admin edit; nil fields are left unchanged
type RequestUpdate struct {
	RequestTypeID       *uint                 `json:"requestTypeId"`
	RequestTypeOptionID OptionalID            `json:"requestTypeOptionId"`
	SubSectorID         *uint                 `json:"subSectorId"`
	HouseNo             *string               `json:"houseNo"`
	StreetNo            *string               `json:"streetNo"`
	Description         *string               `json:"description"`
	Status              *models.RequestStatus `json:"status"`
}

// Update applies an admin edit, re-validating type, option and sub-sector references.
// The request number is never changed.
func (e *RequestEngine) Update(ctx context.Context, id uint, in RequestUpdate, actor *models.User) (*models.Request, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}

	db := e.db.WithContext(ctx)
	var req models.Request
	if err := db.First(&req, id).Error; err != nil {
		return nil, wrap(notFound(err, "Request not found"), "get request")
	}

	if in.RequestTypeID != nil {
		var n int64
		if err := db.Model(&models.RequestType{}).Where("id = ?", *in.RequestTypeID).Count(&n).Error; err != nil {
			return nil, wrap(err, "check request type")
		}
		if n == 0 {
			return nil, apperrors.NewConflictMessage("Invalid request type")
		}
		req.RequestTypeID = *in.RequestTypeID
	}

	if in.RequestTypeOptionID.Set {
		if in.RequestTypeOptionID.Value == nil {
			req.RequestTypeOptionID = nil
		} else {
			var n int64
			err := db.Model(&models.ServiceOption{}).
				Where("id = ? AND request_type_id = ?", *in.RequestTypeOptionID.Value, req.RequestTypeID).
				Count(&n).Error
			if err != nil {
				return nil, wrap(err, "check service option")
			}
			if n == 0 {
				return nil, apperrors.NewConflictMessage("Invalid service option")
			}
			optionID := *in.RequestTypeOptionID.Value
			req.RequestTypeOptionID = &optionID
		}
	}

	if in.SubSectorID != nil {
		var n int64
		if err := db.Model(&models.SubSector{}).Where("id = ?", *in.SubSectorID).Count(&n).Error; err != nil {
			return nil, wrap(err, "check sub sector")
		}
		if n == 0 {
			return nil, apperrors.NewConflictMessage("Invalid sub sector")
		}
		req.SubSectorID = *in.SubSectorID
	}

	if in.HouseNo != nil {
		req.HouseNo = strings.TrimSpace(*in.HouseNo)
	}
	if in.StreetNo != nil {
		req.StreetNo = strings.TrimSpace(*in.StreetNo)
	}
	if in.Description != nil {
		req.Description = strings.TrimSpace(*in.Description)
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, apperrors.NewValidationError("status", "status must be one of pending, cancelled, in_progress, completed, done")
		}
		req.Status = *in.Status
	}

	if err := db.Omit(clause.Associations).Save(&req).Error; err != nil {
		return nil, wrap(err, "update request")
	}
	return &req, nil
}

// Remove deletes a request for its owner or an admin, and its issue image best-effort
func (e *RequestEngine) Remove(ctx context.Context, id uint, actor *models.User) error {
	db := e.db.WithContext(ctx)
	var req models.Request
	if err := db.First(&req, id).Error; err != nil {
		return wrap(notFound(err, "Request not found"), "get request")
	}
	if err := e.policy.CheckOwnership(actor, req.UserID, auth.ActionDelete, "Request"); err != nil {
		return err
	}
	if err := db.Delete(&models.Request{}, id).Error; err != nil {
		return wrap(err, "delete request")
	}
	if req.IssueImageURL != nil {
		if err := e.store.Delete(ctx, *req.IssueImageURL); err != nil {
			e.logger.WithError(err).WithField("request_id", id).Warn("Failed to remove issue image")
		}
	}
	return nil
}
