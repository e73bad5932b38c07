package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aethra/civicdesk/internal/auth"
	apperrors "github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const bulletinDir = "daily-files"

var bulletinTypes = map[string]models.BulletinFileType{
	"application/pdf":          models.BulletinPDF,
	"text/csv":                 models.BulletinCSV,
	"text/plain":               models.BulletinCSV,
	"application/vnd.ms-excel": models.BulletinExcel,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": models.BulletinExcel,
}

// BulletinEngine publishes one downloadable bulletin per calendar date
type BulletinEngine struct {
	db     *gorm.DB
	store  storage.Store
	loc    *time.Location
	clock  Clock
	logger *logrus.Logger
	policy auth.Policy
}

// NewBulletinEngine creates a new bulletin engine. loc decides which date is "today".
func NewBulletinEngine(db *gorm.DB, store storage.Store, loc *time.Location, logger *logrus.Logger) *BulletinEngine {
	return &BulletinEngine{db: db, store: store, loc: loc, clock: SystemClock, logger: logger}
}

// WithClock overrides the time source
func (e *BulletinEngine) WithClock(clock Clock) *BulletinEngine {
	e.clock = clock
	return e
}

// BulletinInput describes the bulletin being published
type BulletinInput struct {
	Date        string  `form:"date" json:"date" binding:"required"`
	Title       string  `form:"title" json:"title" binding:"required,min=1,max=255"`
	Description *string `form:"description" json:"description" binding:"omitempty,max=2000"`
}

// BulletinDate validates a YYYY-MM-DD date; an ISO timestamp is cut to its date part
func BulletinDate(raw string) (string, error) {
	invalid := apperrors.NewValidationError("date", "date must be a valid ISO 8601 date string")
	raw = strings.TrimSpace(raw)
	if len(raw) > 10 {
		if raw[10] != 'T' {
			return "", invalid
		}
		raw = raw[:10]
	}
	if _, err := time.Parse("2006-01-02", raw); err != nil {
		return "", invalid
	}
	return raw, nil
}

// Today returns the bulletin for the current date in the admin timezone, or nil
func (e *BulletinEngine) Today(ctx context.Context) (*models.DailyBulletin, error) {
	return e.ByDate(ctx, e.clock().In(e.loc).Format("2006-01-02"))
}

// ByDate returns the bulletin for date, or nil when none was published
func (e *BulletinEngine) ByDate(ctx context.Context, date string) (*models.DailyBulletin, error) {
	date, err := BulletinDate(date)
	if err != nil {
		return nil, err
	}
	var bulletin models.DailyBulletin
	err = e.db.WithContext(ctx).Where("date = ?", date).First(&bulletin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err, "find bulletin")
	}
	return &bulletin, nil
}

// List returns all bulletins, newest date first
func (e *BulletinEngine) List(ctx context.Context, actor *models.User) (*ListResult[models.DailyBulletin], error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	var bulletins []models.DailyBulletin
	if err := e.db.WithContext(ctx).Order("date DESC").Find(&bulletins).Error; err != nil {
		return nil, wrap(err, "list bulletins")
	}
	return &ListResult[models.DailyBulletin]{Data: bulletins, Total: int64(len(bulletins))}, nil
}

// Upsert publishes the bulletin for a date, replacing any earlier file
func (e *BulletinEngine) Upsert(ctx context.Context, in BulletinInput, file *storage.File, actor *models.User) (*models.DailyBulletin, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	date, err := BulletinDate(in.Date)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title", "title should not be empty")
	}
	if file == nil || len(file.Data) == 0 {
		return nil, apperrors.NewBadRequestError("File is required")
	}

	if err := storage.ValidateUpload(file, storage.BulletinPolicy); err != nil {
		if errors.Is(err, storage.ErrFileTooLarge) {
			return nil, apperrors.NewBadRequestError("File too large (max 10MB)")
		}
		return nil, apperrors.NewBadRequestError("File must be PDF, CSV, or Excel. Received: " + file.ContentType)
	}
	fileType := bulletinTypes[file.ContentType]

	ref, err := e.store.Put(ctx, storage.NewKey(bulletinDir, file.Filename, file.ContentType), file.ContentType, file.Data)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	var (
		bulletin models.DailyBulletin
		previous string
	)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("date = ?", date).First(&bulletin).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			bulletin = models.DailyBulletin{Date: date}
		case err != nil:
			return err
		default:
			previous = bulletin.FilePath
		}
		bulletin.Title = title
		bulletin.Description = in.Description
		bulletin.FilePath = ref
		bulletin.FileType = fileType
		return tx.Save(&bulletin).Error
	})
	if err != nil {
		if derr := e.store.Delete(context.WithoutCancel(ctx), ref); derr != nil {
			e.logger.WithError(derr).WithField("ref", ref).Warn("Failed to remove orphaned bulletin file")
		}
		return nil, wrap(err, "save bulletin")
	}

	if previous != "" && previous != ref {
		if err := e.store.Delete(ctx, previous); err != nil {
			e.logger.WithError(err).WithField("ref", previous).Warn("Failed to remove replaced bulletin file")
		}
	}
	e.logger.WithFields(logrus.Fields{
		"date":      date,
		"file_type": fileType,
		"replaced":  previous != "",
	}).Info("Daily bulletin published")
	return &bulletin, nil
}

// DeleteByDate removes the bulletin for date and its file. A missing bulletin is not an error.
func (e *BulletinEngine) DeleteByDate(ctx context.Context, date string, actor *models.User) error {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return err
	}
	bulletin, err := e.ByDate(ctx, date)
	if err != nil || bulletin == nil {
		return err
	}
	if err := e.db.WithContext(ctx).Delete(bulletin).Error; err != nil {
		return wrap(err, "delete bulletin")
	}
	if err := e.store.Delete(ctx, bulletin.FilePath); err != nil {
		e.logger.WithError(err).WithField("ref", bulletin.FilePath).Warn("Failed to remove bulletin file")
	}
	return nil
}
