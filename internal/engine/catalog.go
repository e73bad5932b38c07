// Package engine - Catalog Engine
// Manages request types and the service options offered under them
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aethra/civicdesk/internal/auth"
	apperrors "github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	iconDir        = "request-type-icons"
	optionImageDir = "request-type-options"
)

// CatalogEngine handles request types and service options
type CatalogEngine struct {
	db     *gorm.DB
	store  storage.Store
	logger *logrus.Logger
	policy auth.Policy
}

// NewCatalogEngine creates a new catalog engine
func NewCatalogEngine(db *gorm.DB, store storage.Store, logger *logrus.Logger) *CatalogEngine {
	return &CatalogEngine{db: db, store: store, logger: logger}
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RequestTypeInput creates a request type
type RequestTypeInput struct {
	Name                       string  `json:"name" binding:"required,min=1,max=100"`
	Slug                       string  `json:"slug" binding:"required,min=1,max=50"`
	DisplayOrder               *int    `json:"displayOrder"`
	IconURL                    *string `json:"iconUrl" binding:"omitempty,max=500"`
	RestrictionStartTime       *string `json:"restrictionStartTime" binding:"omitempty,hhmm"`
	RestrictionEndTime         *string `json:"restrictionEndTime" binding:"omitempty,hhmm"`
	RestrictionDays            *string `json:"restrictionDays" binding:"omitempty,weekdays"`
	DuplicateRestrictionPeriod *string `json:"duplicateRestrictionPeriod" binding:"omitempty,oneof=none day week month"`
	UnderConstruction          *bool   `json:"underConstruction"`
	UnderConstructionMessage   *string `json:"underConstructionMessage"`
}

// RequestTypePatch updates a request type; nil fields are left unchanged and an empty
// string clears an optional field
type RequestTypePatch struct {
	Name                       *string `json:"name" binding:"omitempty,min=1,max=100"`
	Slug                       *string `json:"slug" binding:"omitempty,min=1,max=50"`
	DisplayOrder               *int    `json:"displayOrder"`
	IconURL                    *string `json:"iconUrl" binding:"omitempty,max=500"`
	RestrictionStartTime       *string `json:"restrictionStartTime" binding:"omitempty,hhmm"`
	RestrictionEndTime         *string `json:"restrictionEndTime" binding:"omitempty,hhmm"`
	RestrictionDays            *string `json:"restrictionDays" binding:"omitempty,weekdays"`
	DuplicateRestrictionPeriod *string `json:"duplicateRestrictionPeriod" binding:"omitempty,oneof=none day week month"`
	UnderConstruction          *bool   `json:"underConstruction"`
	UnderConstructionMessage   *string `json:"underConstructionMessage"`
}

// ListTypes returns all request types for the citizen app
func (e *CatalogEngine) ListTypes(ctx context.Context) ([]models.RequestType, error) {
	var types []models.RequestType
	err := e.db.WithContext(ctx).Order("display_order ASC").Order("id ASC").Find(&types).Error
	return types, wrap(err, "list request types")
}

// GetType returns one request type with its options
func (e *CatalogEngine) GetType(ctx context.Context, id uint, actor *models.User) (*models.RequestType, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	var rt models.RequestType
	err := e.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("display_order ASC, id ASC") }).
		First(&rt, id).Error
	if err != nil {
		return nil, wrap(notFound(err, "Request type not found"), "get request type")
	}
	return &rt, nil
}

// CreateType inserts a request type with a unique slug
func (e *CatalogEngine) CreateType(ctx context.Context, in RequestTypeInput, actor *models.User) (*models.RequestType, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}

	rt := models.RequestType{
		Name:                       strings.TrimSpace(in.Name),
		Slug:                       strings.TrimSpace(in.Slug),
		DuplicateRestrictionPeriod: string(PeriodNone),
	}
	patch := RequestTypePatch{
		DisplayOrder:               in.DisplayOrder,
		IconURL:                    in.IconURL,
		RestrictionStartTime:       in.RestrictionStartTime,
		RestrictionEndTime:         in.RestrictionEndTime,
		RestrictionDays:            in.RestrictionDays,
		DuplicateRestrictionPeriod: in.DuplicateRestrictionPeriod,
		UnderConstruction:          in.UnderConstruction,
		UnderConstructionMessage:   in.UnderConstructionMessage,
	}
	if rt.Name == "" || rt.Slug == "" {
		return nil, apperrors.NewValidationError("name", "name and slug are required")
	}
	if err := applyTypePatch(&rt, patch); err != nil {
		return nil, err
	}

	db := e.db.WithContext(ctx)
	if err := e.ensureSlugFree(db, rt.Slug, 0); err != nil {
		return nil, err
	}
	if err := db.Create(&rt).Error; err != nil {
		return nil, wrap(conflictOnDuplicate(err, "Slug already exists"), "create request type")
	}
	e.logger.WithFields(logrus.Fields{"request_type_id": rt.ID, "slug": rt.Slug}).Info("Request type created")
	return &rt, nil
}

// UpdateType applies a patch to a request type
func (e *CatalogEngine) UpdateType(ctx context.Context, id uint, patch RequestTypePatch, actor *models.User) (*models.RequestType, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}

	db := e.db.WithContext(ctx)
	var rt models.RequestType
	if err := db.First(&rt, id).Error; err != nil {
		return nil, wrap(notFound(err, "Request type not found"), "get request type")
	}

	if patch.Name != nil {
		rt.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Slug != nil {
		slug := strings.TrimSpace(*patch.Slug)
		if err := e.ensureSlugFree(db, slug, rt.ID); err != nil {
			return nil, err
		}
		rt.Slug = slug
	}
	if err := applyTypePatch(&rt, patch); err != nil {
		return nil, err
	}

	if err := db.Save(&rt).Error; err != nil {
		return nil, wrap(conflictOnDuplicate(err, "Slug already exists"), "update request type")
	}
	return &rt, nil
}

// applyTypePatch copies the optional fields shared by create and update
func applyTypePatch(rt *models.RequestType, patch RequestTypePatch) error {
	if patch.DisplayOrder != nil {
		rt.DisplayOrder = *patch.DisplayOrder
	}
	if patch.IconURL != nil {
		rt.IconURL = blankToNil(*patch.IconURL)
	}
	if patch.RestrictionStartTime != nil {
		v, err := windowTime("restrictionStartTime", *patch.RestrictionStartTime)
		if err != nil {
			return err
		}
		rt.RestrictionStartTime = v
	}
	if patch.RestrictionEndTime != nil {
		v, err := windowTime("restrictionEndTime", *patch.RestrictionEndTime)
		if err != nil {
			return err
		}
		rt.RestrictionEndTime = v
	}
	if patch.RestrictionDays != nil {
		days, err := models.ParseWeekdaySet(*patch.RestrictionDays)
		if err != nil {
			return apperrors.NewValidationError("restrictionDays", "restrictionDays must be comma separated weekdays 0-6")
		}
		rt.RestrictionDays = days
	}
	if patch.DuplicateRestrictionPeriod != nil {
		raw := strings.ToLower(strings.TrimSpace(*patch.DuplicateRestrictionPeriod))
		period := ParseDuplicatePeriod(raw)
		if raw != "" && string(period) != raw {
			return apperrors.NewValidationError("duplicateRestrictionPeriod", "duplicateRestrictionPeriod must be one of none, day, week, month")
		}
		rt.DuplicateRestrictionPeriod = string(period)
	}
	if patch.UnderConstruction != nil {
		rt.UnderConstruction = *patch.UnderConstruction
	}
	if patch.UnderConstructionMessage != nil {
		rt.UnderConstructionMessage = blankToNil(*patch.UnderConstructionMessage)
	}
	return nil
}

func windowTime(field, raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	minutes, ok := ParseHHMM(raw)
	if !ok {
		return nil, apperrors.NewValidationError(field, field+" must be a time in HH:mm format")
	}
	canonical := fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
	return &canonical, nil
}

func blankToNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (e *CatalogEngine) ensureSlugFree(db *gorm.DB, slug string, selfID uint) error {
	var existing models.RequestType
	err := db.Where("slug = ?", slug).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return wrap(err, "check slug")
	}
	if existing.ID != selfID {
		return apperrors.NewConflictMessage("Slug already exists")
	}
	return nil
}

// DeleteType removes a request type and its options. Types still referenced by
// requests are kept.
func (e *CatalogEngine) DeleteType(ctx context.Context, id uint, actor *models.User) error {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return err
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt models.RequestType
		if err := tx.First(&rt, id).Error; err != nil {
			return wrap(notFound(err, "Request type not found"), "get request type")
		}

		var inUse int64
		if err := tx.Model(&models.Request{}).Where("request_type_id = ?", id).Count(&inUse).Error; err != nil {
			return wrap(err, "count requests of type")
		}
		if inUse > 0 {
			return apperrors.NewConflictMessage("Request type is used by existing requests")
		}

		if err := tx.Where("request_type_id = ?", id).Delete(&models.ServiceOption{}).Error; err != nil {
			return wrap(err, "delete service options")
		}
		if err := tx.Delete(&rt).Error; err != nil {
			return wrap(err, "delete request type")
		}
		e.logger.WithField("request_type_id", id).Info("Request type deleted")
		return nil
	})
}

// UploadIcon stores a request type icon and returns its URL
func (e *CatalogEngine) UploadIcon(ctx context.Context, file *storage.File, actor *models.User) (string, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return "", err
	}
	return e.upload(ctx, file, storage.IconPolicy, iconDir,
		"Icon file too large (max 1024KB)", "Allowed: SVG, PNG, JPEG, WebP, GIF")
}

// =============================================================================
// SERVICE OPTIONS
// =============================================================================

// OptionInput creates a service option
type OptionInput struct {
	RequestTypeID        uint                 `json:"requestTypeId" binding:"required"`
	Label                string               `json:"label" binding:"required,max=200"`
	Slug                 *string              `json:"slug" binding:"omitempty,max=120"`
	OptionType           models.OptionKind    `json:"optionType" binding:"required,oneof=form list rules notification link phone"`
	Config               *models.OptionConfig `json:"config"`
	DisplayOrder         *int                 `json:"displayOrder"`
	ImageURL             *string              `json:"imageUrl" binding:"omitempty,max=500"`
	RequestNumberPrefix  *string              `json:"requestNumberPrefix" binding:"omitempty,max=20"`
	RequestNumberPadding *int                 `json:"requestNumberPadding"`
}

// OptionPatch updates a service option. The number counter cannot be edited.
type OptionPatch struct {
	Label                *string              `json:"label" binding:"omitempty,max=200"`
	Slug                 *string              `json:"slug" binding:"omitempty,max=120"`
	OptionType           *models.OptionKind   `json:"optionType" binding:"omitempty,oneof=form list rules notification link phone"`
	Config               *models.OptionConfig `json:"config"`
	DisplayOrder         *int                 `json:"displayOrder"`
	ImageURL             *string              `json:"imageUrl" binding:"omitempty,max=500"`
	RequestNumberPrefix  *string              `json:"requestNumberPrefix" binding:"omitempty,max=20"`
	RequestNumberPadding *int                 `json:"requestNumberPadding"`
}

// ListOptions returns the options of one request type for the citizen app
func (e *CatalogEngine) ListOptions(ctx context.Context, requestTypeID uint) ([]models.ServiceOption, error) {
	var options []models.ServiceOption
	err := e.db.WithContext(ctx).
		Where("request_type_id = ?", requestTypeID).
		Order("display_order ASC").Order("id ASC").
		Find(&options).Error
	return options, wrap(err, "list service options")
}

// AdminListOptions lists all options, optionally of one request type
func (e *CatalogEngine) AdminListOptions(ctx context.Context, requestTypeID *uint, actor *models.User) ([]models.ServiceOption, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if requestTypeID != nil {
		return e.ListOptions(ctx, *requestTypeID)
	}
	var options []models.ServiceOption
	err := e.db.WithContext(ctx).
		Order("request_type_id ASC").Order("display_order ASC").Order("id ASC").
		Find(&options).Error
	return options, wrap(err, "list service options")
}

// GetOption returns one option
func (e *CatalogEngine) GetOption(ctx context.Context, id uint) (*models.ServiceOption, error) {
	var opt models.ServiceOption
	if err := e.db.WithContext(ctx).First(&opt, id).Error; err != nil {
		return nil, wrap(notFound(err, "Option not found"), "get service option")
	}
	return &opt, nil
}

// CreateOption inserts an option under an existing request type.
// Numbering starts at 1 with padding 4 unless a padding is given.
func (e *CatalogEngine) CreateOption(ctx context.Context, in OptionInput, actor *models.User) (*models.ServiceOption, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if !in.OptionType.Valid() {
		return nil, apperrors.NewValidationError("optionType", "optionType must be one of form, list, rules, notification, link, phone")
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return nil, apperrors.NewValidationError("label", "label should not be empty")
	}

	db := e.db.WithContext(ctx)
	var types int64
	if err := db.Model(&models.RequestType{}).Where("id = ?", in.RequestTypeID).Count(&types).Error; err != nil {
		return nil, wrap(err, "check request type")
	}
	if types == 0 {
		return nil, apperrors.NewNotFoundError("Request type")
	}

	opt := models.ServiceOption{
		RequestTypeID:        in.RequestTypeID,
		Label:                label,
		OptionType:           in.OptionType,
		RequestNumberPadding: defaultPadding,
		RequestNumberNext:    1,
	}
	err := applyOptionPatch(&opt, OptionPatch{
		Slug:                 in.Slug,
		Config:               in.Config,
		DisplayOrder:         in.DisplayOrder,
		ImageURL:             in.ImageURL,
		RequestNumberPrefix:  in.RequestNumberPrefix,
		RequestNumberPadding: in.RequestNumberPadding,
	})
	if err != nil {
		return nil, err
	}
	if in.Config == nil {
		opt.Config = datatypes.NewJSONType(models.OptionConfig{})
	}

	if err := db.Create(&opt).Error; err != nil {
		return nil, wrap(err, "create service option")
	}
	e.logger.WithFields(logrus.Fields{
		"option_id":       opt.ID,
		"request_type_id": opt.RequestTypeID,
		"prefix":          NumberPrefix(&opt),
	}).Info("Service option created")
	return &opt, nil
}

// UpdateOption applies a patch to an option
func (e *CatalogEngine) UpdateOption(ctx context.Context, id uint, patch OptionPatch, actor *models.User) (*models.ServiceOption, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}

	db := e.db.WithContext(ctx)
	var opt models.ServiceOption
	if err := db.First(&opt, id).Error; err != nil {
		return nil, wrap(notFound(err, "Option not found"), "get service option")
	}
	if err := applyOptionPatch(&opt, patch); err != nil {
		return nil, err
	}

	// the counter is owned by request allocation
	err := db.Model(&opt).Omit("request_number_next").Select("*").Updates(&opt).Error
	if err != nil {
		return nil, wrap(err, "update service option")
	}
	return &opt, nil
}

func applyOptionPatch(opt *models.ServiceOption, patch OptionPatch) error {
	if patch.Label != nil {
		label := strings.TrimSpace(*patch.Label)
		if label == "" {
			return apperrors.NewValidationError("label", "label should not be empty")
		}
		opt.Label = label
	}
	if patch.OptionType != nil {
		if !patch.OptionType.Valid() {
			return apperrors.NewValidationError("optionType", "optionType must be one of form, list, rules, notification, link, phone")
		}
		opt.OptionType = *patch.OptionType
	}
	if patch.Slug != nil {
		opt.Slug = blankToNil(strings.ToLower(*patch.Slug))
	}
	if patch.Config != nil {
		opt.Config = datatypes.NewJSONType(*patch.Config)
	}
	if patch.DisplayOrder != nil {
		opt.DisplayOrder = *patch.DisplayOrder
	}
	if patch.ImageURL != nil {
		opt.ImageURL = blankToNil(*patch.ImageURL)
	}
	if patch.RequestNumberPrefix != nil {
		opt.RequestNumberPrefix = NormalizePrefix(patch.RequestNumberPrefix)
	}
	if patch.RequestNumberPadding != nil {
		opt.RequestNumberPadding = ClampPadding(*patch.RequestNumberPadding)
	}
	return nil
}

// DeleteOption removes an option; requests keep their number and lose the option link
func (e *CatalogEngine) DeleteOption(ctx context.Context, id uint, actor *models.User) error {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return err
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var opt models.ServiceOption
		if err := tx.First(&opt, id).Error; err != nil {
			return wrap(notFound(err, "Option not found"), "get service option")
		}
		if err := tx.Model(&models.Request{}).Where("request_type_option_id = ?", id).
			Update("request_type_option_id", nil).Error; err != nil {
			return wrap(err, "detach requests")
		}
		if err := tx.Delete(&opt).Error; err != nil {
			return wrap(err, "delete service option")
		}
		return nil
	})
}

// UploadOptionImage stores a service option image and returns its URL
func (e *CatalogEngine) UploadOptionImage(ctx context.Context, file *storage.File, actor *models.User) (string, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return "", err
	}
	return e.upload(ctx, file, storage.OptionImagePolicy, optionImageDir,
		"Image too large (max 2MB)", "Allowed: PNG, JPEG, WebP, GIF")
}

func (e *CatalogEngine) upload(ctx context.Context, file *storage.File, policy storage.Policy, dir, tooLarge, unsupported string) (string, error) {
	if file == nil || len(file.Data) == 0 {
		return "", apperrors.NewBadRequestError("file is required")
	}
	if err := storage.ValidateUpload(file, policy); err != nil {
		if errors.Is(err, storage.ErrFileTooLarge) {
			return "", apperrors.NewBadRequestError(tooLarge)
		}
		return "", apperrors.NewBadRequestError(unsupported)
	}
	url, err := e.store.Put(ctx, storage.NewKey(dir, file.Filename, file.ContentType), file.ContentType, file.Data)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	return url, nil
}
