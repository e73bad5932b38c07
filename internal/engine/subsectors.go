package engine

import (
	"context"
	"strings"

	"github.com/aethra/civicdesk/internal/auth"
	apperrors "github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SubSectorEngine manages the town's sub-sectors
type SubSectorEngine struct {
	db     *gorm.DB
	logger *logrus.Logger
	policy auth.Policy
}

// NewSubSectorEngine creates a new sub-sector engine
func NewSubSectorEngine(db *gorm.DB, logger *logrus.Logger) *SubSectorEngine {
	return &SubSectorEngine{db: db, logger: logger}
}

// SubSectorInput creates or replaces a sub-sector's fields
type SubSectorInput struct {
	Name         *string `json:"name" binding:"omitempty,min=1,max=100"`
	Code         *string `json:"code" binding:"omitempty,min=1,max=20"`
	DisplayOrder *int    `json:"displayOrder"`
}

// List returns all sub-sectors in display order
func (e *SubSectorEngine) List(ctx context.Context) ([]models.SubSector, error) {
	var sectors []models.SubSector
	err := e.db.WithContext(ctx).Order("display_order ASC").Order("id ASC").Find(&sectors).Error
	return sectors, wrap(err, "list sub sectors")
}

// Get returns one sub-sector
func (e *SubSectorEngine) Get(ctx context.Context, id uint, actor *models.User) (*models.SubSector, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	var sector models.SubSector
	if err := e.db.WithContext(ctx).First(&sector, id).Error; err != nil {
		return nil, wrap(notFound(err, "Sub-sector not found"), "get sub sector")
	}
	return &sector, nil
}

// Create adds a sub-sector; name and code are required
func (e *SubSectorEngine) Create(ctx context.Context, in SubSectorInput, actor *models.User) (*models.SubSector, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, apperrors.NewValidationError("name", "name is required")
	}
	if in.Code == nil || strings.TrimSpace(*in.Code) == "" {
		return nil, apperrors.NewValidationError("code", "code is required")
	}

	sector := models.SubSector{}
	applySubSector(&sector, in)
	if err := e.db.WithContext(ctx).Create(&sector).Error; err != nil {
		return nil, wrap(conflictOnDuplicate(err, "Code already exists"), "create sub sector")
	}
	e.logger.WithFields(logrus.Fields{"sub_sector_id": sector.ID, "code": sector.Code}).Info("Sub sector created")
	return &sector, nil
}

// Update edits a sub-sector
func (e *SubSectorEngine) Update(ctx context.Context, id uint, in SubSectorInput, actor *models.User) (*models.SubSector, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)

	var sector models.SubSector
	if err := db.First(&sector, id).Error; err != nil {
		return nil, wrap(notFound(err, "Sub-sector not found"), "get sub sector")
	}
	applySubSector(&sector, in)
	if sector.Name == "" || sector.Code == "" {
		return nil, apperrors.NewValidationError("code", "name and code cannot be blank")
	}
	if err := db.Save(&sector).Error; err != nil {
		return nil, wrap(conflictOnDuplicate(err, "Code already exists"), "update sub sector")
	}
	return &sector, nil
}

func applySubSector(sector *models.SubSector, in SubSectorInput) {
	if in.Name != nil {
		sector.Name = strings.TrimSpace(*in.Name)
	}
	if in.Code != nil {
		sector.Code = strings.ToUpper(strings.TrimSpace(*in.Code))
	}
	if in.DisplayOrder != nil {
		sector.DisplayOrder = *in.DisplayOrder
	}
}

// Delete removes a sub-sector that no user or request refers to
func (e *SubSectorEngine) Delete(ctx context.Context, id uint, actor *models.User) error {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return err
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sector models.SubSector
		if err := tx.First(&sector, id).Error; err != nil {
			return wrap(notFound(err, "Sub-sector not found"), "get sub sector")
		}

		var users, requests int64
		if err := tx.Model(&models.User{}).Where("sub_sector_id = ?", id).Count(&users).Error; err != nil {
			return wrap(err, "count users in sub sector")
		}
		if err := tx.Model(&models.Request{}).Where("sub_sector_id = ?", id).Count(&requests).Error; err != nil {
			return wrap(err, "count requests in sub sector")
		}
		if users > 0 || requests > 0 {
			return apperrors.NewConflictMessage("Cannot delete: sub-sector is in use by users or requests")
		}

		if err := tx.Delete(&sector).Error; err != nil {
			return wrap(err, "delete sub sector")
		}
		e.logger.WithField("sub_sector_id", id).Info("Sub sector deleted")
		return nil
	})
}
