// Package engine - User Engine
// Handles registration, credentials and the admin user directory
package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aethra/civicdesk/internal/auth"
	apperrors "github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	idCardDir         = "idcards"
	profileDir        = "profiles"
	minPasswordLength = 6
)

var (
	countryCodePattern = regexp.MustCompile(`^\+?[0-9]{1,4}$`)
	phoneNumberPattern = regexp.MustCompile(`^[0-9]{7,15}$`)
)

// UserEngine handles users and their credentials
type UserEngine struct {
	db          *gorm.DB
	store       storage.Store
	logger      *logrus.Logger
	policy      auth.Policy
	autoApprove bool
	clock       Clock
}

// NewUserEngine creates a new user engine. When autoApprove is false new
// registrations wait for an administrator.
func NewUserEngine(db *gorm.DB, store storage.Store, autoApprove bool, logger *logrus.Logger) *UserEngine {
	return &UserEngine{
		db:          db,
		store:       store,
		logger:      logger,
		autoApprove: autoApprove,
		clock:       SystemClock,
	}
}

// =============================================================================
// REGISTRATION AND CREDENTIALS
// =============================================================================

// Registration is a citizen sign-up
type Registration struct {
	FullName         string `json:"fullName" binding:"required,min=2,max=100"`
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required,min=6"`
	PhoneCountryCode string `json:"phoneCountryCode" binding:"required,max=10"`
	PhoneNumber      string `json:"phoneNumber" binding:"required"`
	HouseNo          string `json:"houseNo" binding:"required,min=1,max=50"`
	StreetNo         string `json:"streetNo" binding:"required,min=1,max=50"`
	SubSectorID      uint   `json:"subSectorId" binding:"required"`
	IDCardFront      string `json:"idCardFront"`
	IDCardBack       string `json:"idCardBack"`
}

// Validate checks the fields binding tags cannot express
func (r *Registration) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(r.FullName)) < 2 {
		return apperrors.NewValidationError("fullName", "Full name must be at least 2 characters")
	}
	if len(r.Password) < minPasswordLength {
		return apperrors.NewValidationError("password", "Password must be at least 6 characters")
	}
	if !countryCodePattern.MatchString(r.PhoneCountryCode) {
		return apperrors.NewValidationError("phoneCountryCode", "Phone country code must be valid (e.g. +92, 1)")
	}
	if !phoneNumberPattern.MatchString(r.PhoneNumber) {
		return apperrors.NewValidationError("phoneNumber", "Phone number must be 7-15 digits")
	}
	if strings.TrimSpace(r.HouseNo) == "" || strings.TrimSpace(r.StreetNo) == "" {
		return apperrors.NewValidationError("houseNo", "houseNo and streetNo are required")
	}
	return nil
}

// Register creates a citizen account. ID card images arrive as data URLs and are
// stored before the row is written; they are removed again if the insert fails.
func (e *UserEngine) Register(ctx context.Context, in Registration) (*models.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	email := normalizeEmail(in.Email)
	db := e.db.WithContext(ctx)

	var existing int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, wrap(err, "check email")
	}
	if existing > 0 {
		return nil, apperrors.NewConflictMessage("Email already registered")
	}
	if err := e.requireSubSector(db, in.SubSectorID); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, wrap(err, "hash password")
	}

	var stored []string
	cleanup := func() {
		for _, ref := range stored {
			if derr := e.store.Delete(context.WithoutCancel(ctx), ref); derr != nil {
				e.logger.WithError(derr).WithField("ref", ref).Warn("Failed to remove orphaned ID card image")
			}
		}
	}

	user := models.User{
		Email:            email,
		PasswordHash:     hash,
		FullName:         strings.TrimSpace(in.FullName),
		PhoneCountryCode: in.PhoneCountryCode,
		PhoneNumber:      in.PhoneNumber,
		HouseNo:          strings.TrimSpace(in.HouseNo),
		StreetNo:         strings.TrimSpace(in.StreetNo),
		SubSectorID:      in.SubSectorID,
		Role:             models.RoleUser,
		ApprovalStatus:   models.ApprovalPending,
		AccountStatus:    models.AccountActive,
	}
	if e.autoApprove {
		user.ApprovalStatus = models.ApprovalApproved
	}

	for _, card := range []struct {
		raw string
		dst **string
	}{{in.IDCardFront, &user.IDCardFront}, {in.IDCardBack, &user.IDCardBack}} {
		if strings.TrimSpace(card.raw) == "" {
			continue
		}
		ref, err := e.storeDataURL(ctx, card.raw, idCardDir)
		if err != nil {
			cleanup()
			return nil, err
		}
		stored = append(stored, ref)
		*card.dst = &ref
	}

	if err := db.Create(&user).Error; err != nil {
		cleanup()
		return nil, wrap(conflictOnDuplicate(err, "Email already registered"), "create user")
	}

	e.logger.WithFields(logrus.Fields{
		"user_id":         user.ID,
		"approval_status": user.ApprovalStatus,
	}).Info("User registered")
	return &user, nil
}

// Authenticate checks credentials and stamps the login time
func (e *UserEngine) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	db := e.db.WithContext(ctx)

	var user models.User
	err := db.Preload("SubSector").Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewUnauthorizedError("Invalid credentials")
	}
	if err != nil {
		return nil, wrap(err, "find user")
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, apperrors.NewUnauthorizedError("Invalid credentials")
	}
	if user.AccountStatus == models.AccountDeactivated {
		return nil, apperrors.NewForbiddenError("Account is deactivated")
	}

	now := e.clock().UTC()
	if err := db.Model(&user).UpdateColumn("last_login_at", now).Error; err != nil {
		e.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to record login time")
	} else {
		user.LastLoginAt = &now
	}
	return &user, nil
}

// FindByID loads a user for token authentication
func (e *UserEngine) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := e.db.WithContext(ctx).Preload("SubSector").First(&user, id).Error; err != nil {
		return nil, wrap(notFound(err, "User not found"), "find user")
	}
	return &user, nil
}

// ChangePassword replaces the actor's password after checking the current one
func (e *UserEngine) ChangePassword(ctx context.Context, actor *models.User, current, next string) error {
	if actor == nil {
		return apperrors.NewUnauthorizedError("")
	}
	if len(next) < minPasswordLength {
		return apperrors.NewValidationError("newPassword", "New password must be at least 6 characters")
	}

	db := e.db.WithContext(ctx)
	var user models.User
	if err := db.First(&user, actor.ID).Error; err != nil {
		return wrap(notFound(err, "User not found"), "find user")
	}
	if !auth.CheckPassword(current, user.PasswordHash) {
		return apperrors.NewBadRequestError("Current password is incorrect")
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return wrap(err, "hash password")
	}
	if err := db.Model(&user).Update("password_hash", hash).Error; err != nil {
		return wrap(err, "update password")
	}
	e.logger.WithField("user_id", user.ID).Info("Password changed")
	return nil
}

// =============================================================================
// SELF SERVICE
// =============================================================================

// ProfileUpdate holds the fields a user may change on their own account
type ProfileUpdate struct {
	FullName         *string `json:"fullName" binding:"omitempty,min=2,max=100"`
	PhoneCountryCode *string `json:"phoneCountryCode" binding:"omitempty,max=10"`
	PhoneNumber      *string `json:"phoneNumber"`
	HouseNo          *string `json:"houseNo" binding:"omitempty,min=1,max=50"`
	StreetNo         *string `json:"streetNo" binding:"omitempty,min=1,max=50"`
	SubSectorID      *uint   `json:"subSectorId"`
	ProfileImage     *string `json:"profileImage"`
}

// UpdateMe applies a profile update to the actor's own account
func (e *UserEngine) UpdateMe(ctx context.Context, actor *models.User, in ProfileUpdate) (*models.User, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorizedError("")
	}
	db := e.db.WithContext(ctx)

	var user models.User
	if err := db.First(&user, actor.ID).Error; err != nil {
		return nil, wrap(notFound(err, "User not found"), "find user")
	}
	if err := e.applyProfile(db, &user, in.FullName, in.PhoneCountryCode, in.PhoneNumber, in.HouseNo, in.StreetNo, in.SubSectorID); err != nil {
		return nil, err
	}

	var previous *string
	// Clients echo the stored URL back when the image is unchanged
	if in.ProfileImage != nil && storage.IsDataURL(*in.ProfileImage) {
		ref, err := e.storeDataURL(ctx, *in.ProfileImage, profileDir)
		if err != nil {
			return nil, err
		}
		previous = user.ProfileImage
		user.ProfileImage = &ref
	}

	if err := db.Omit("SubSector").Save(&user).Error; err != nil {
		return nil, wrap(err, "update profile")
	}
	if previous != nil {
		if err := e.store.Delete(ctx, *previous); err != nil {
			e.logger.WithError(err).WithField("ref", *previous).Warn("Failed to remove replaced profile image")
		}
	}
	return &user, nil
}

// DeactivateMe marks the actor's own account as deactivated
func (e *UserEngine) DeactivateMe(ctx context.Context, actor *models.User) (*models.User, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorizedError("")
	}
	db := e.db.WithContext(ctx)

	var user models.User
	if err := db.First(&user, actor.ID).Error; err != nil {
		return nil, wrap(notFound(err, "User not found"), "find user")
	}
	user.AccountStatus = models.AccountDeactivated
	if err := db.Model(&user).Update("account_status", user.AccountStatus).Error; err != nil {
		return nil, wrap(err, "deactivate user")
	}
	e.logger.WithField("user_id", user.ID).Info("User deactivated own account")
	return &user, nil
}

// SubSectors returns the public sub-sector list used by registration
func (e *UserEngine) SubSectors(ctx context.Context) ([]models.SubSector, error) {
	var sectors []models.SubSector
	err := e.db.WithContext(ctx).Order("display_order ASC").Order("id ASC").Find(&sectors).Error
	return sectors, wrap(err, "list sub sectors")
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

// UserUpdate is an administrator's edit of any account
type UserUpdate struct {
	FullName         *string                `json:"fullName" binding:"omitempty,min=2,max=100"`
	Email            *string                `json:"email" binding:"omitempty,email"`
	Password         *string                `json:"password" binding:"omitempty,min=6"`
	PhoneCountryCode *string                `json:"phoneCountryCode" binding:"omitempty,max=10"`
	PhoneNumber      *string                `json:"phoneNumber"`
	HouseNo          *string                `json:"houseNo" binding:"omitempty,min=1,max=50"`
	StreetNo         *string                `json:"streetNo" binding:"omitempty,min=1,max=50"`
	SubSectorID      *uint                  `json:"subSectorId"`
	ApprovalStatus   *models.ApprovalStatus `json:"approvalStatus" binding:"omitempty,oneof=pending approved rejected"`
	AccountStatus    *models.AccountStatus  `json:"accountStatus" binding:"omitempty,oneof=active deactivated"`
	Role             *models.Role           `json:"role" binding:"omitempty,oneof=user admin"`
}

// UserRequestCount is a row of the approved-users report
type UserRequestCount struct {
	ID           uint   `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"fullName"`
	RequestCount int64  `json:"requestCount"`
}

// FindAll lists every user, newest first
func (e *UserEngine) FindAll(ctx context.Context, actor *models.User) ([]models.User, error) {
	return e.list(ctx, actor, nil)
}

// FindPending lists registrations awaiting approval
func (e *UserEngine) FindPending(ctx context.Context, actor *models.User) ([]models.User, error) {
	status := models.ApprovalPending
	return e.list(ctx, actor, &status)
}

func (e *UserEngine) list(ctx context.Context, actor *models.User, status *models.ApprovalStatus) ([]models.User, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	query := e.db.WithContext(ctx).Preload("SubSector")
	if status != nil {
		query = query.Where("approval_status = ?", *status)
	}
	var users []models.User
	err := query.Order("created_at DESC").Order("id DESC").Find(&users).Error
	return users, wrap(err, "list users")
}

// FindWithRequestCount lists approved users with how many requests each has filed
func (e *UserEngine) FindWithRequestCount(ctx context.Context, actor *models.User) ([]UserRequestCount, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	var rows []UserRequestCount
	err := e.db.WithContext(ctx).
		Table("users").
		Select("users.id, users.email, users.full_name, COUNT(requests.id) AS request_count").
		Joins("LEFT JOIN requests ON requests.user_id = users.id").
		Where("users.approval_status = ?", models.ApprovalApproved).
		Group("users.id, users.email, users.full_name, users.created_at").
		Order("users.created_at DESC").Order("users.id DESC").
		Scan(&rows).Error
	return rows, wrap(err, "count requests per user")
}

// FindOne returns a user to an administrator or to the user themself
func (e *UserEngine) FindOne(ctx context.Context, id uint, actor *models.User) (*models.User, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorizedError("")
	}
	user, err := e.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != id {
		return nil, apperrors.NewForbiddenError("Cannot view other user")
	}
	return user, nil
}

// Update applies an administrator's edit
func (e *UserEngine) Update(ctx context.Context, id uint, in UserUpdate, actor *models.User) (*models.User, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)

	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		return nil, wrap(notFound(err, "User not found"), "find user")
	}

	if in.ApprovalStatus != nil {
		user.ApprovalStatus = *in.ApprovalStatus
	}
	if in.AccountStatus != nil {
		user.AccountStatus = *in.AccountStatus
	}
	if in.Role != nil {
		user.Role = *in.Role
	}
	if in.Email != nil {
		user.Email = normalizeEmail(*in.Email)
	}
	if in.Password != nil {
		if len(*in.Password) < minPasswordLength {
			return nil, apperrors.NewValidationError("password", "Password must be at least 6 characters")
		}
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return nil, wrap(err, "hash password")
		}
		user.PasswordHash = hash
	}
	if err := e.applyProfile(db, &user, in.FullName, in.PhoneCountryCode, in.PhoneNumber, in.HouseNo, in.StreetNo, in.SubSectorID); err != nil {
		return nil, err
	}

	if err := db.Omit("SubSector").Save(&user).Error; err != nil {
		return nil, wrap(conflictOnDuplicate(err, "Email already registered"), "update user")
	}
	e.logger.WithFields(logrus.Fields{
		"user_id":         user.ID,
		"admin_id":        actor.ID,
		"approval_status": user.ApprovalStatus,
		"account_status":  user.AccountStatus,
	}).Info("User updated")
	return &user, nil
}

// Approve marks a registration approved
func (e *UserEngine) Approve(ctx context.Context, id uint, actor *models.User) (*models.User, error) {
	status := models.ApprovalApproved
	return e.Update(ctx, id, UserUpdate{ApprovalStatus: &status}, actor)
}

// Reject marks a registration rejected
func (e *UserEngine) Reject(ctx context.Context, id uint, actor *models.User) (*models.User, error) {
	status := models.ApprovalRejected
	return e.Update(ctx, id, UserUpdate{ApprovalStatus: &status}, actor)
}

// Remove deletes a user together with their requests
func (e *UserEngine) Remove(ctx context.Context, id uint, actor *models.User) error {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return err
	}

	var images []string
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			return wrap(notFound(err, "User not found"), "find user")
		}
		if err := tx.Model(&models.Request{}).
			Where("user_id = ? AND issue_image_url IS NOT NULL", id).
			Pluck("issue_image_url", &images).Error; err != nil {
			return wrap(err, "collect request images")
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Request{}).Error; err != nil {
			return wrap(err, "delete user requests")
		}
		if err := tx.Delete(&user).Error; err != nil {
			return wrap(err, "delete user")
		}
		for _, ref := range []*string{user.IDCardFront, user.IDCardBack, user.ProfileImage} {
			if ref != nil {
				images = append(images, *ref)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ref := range images {
		if derr := e.store.Delete(ctx, ref); derr != nil {
			e.logger.WithError(derr).WithField("ref", ref).Warn("Failed to remove file of deleted user")
		}
	}
	e.logger.WithFields(logrus.Fields{"user_id": id, "admin_id": actor.ID}).Info("User removed")
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *UserEngine) applyProfile(db *gorm.DB, user *models.User, fullName, countryCode, phone, houseNo, streetNo *string, subSectorID *uint) error {
	if fullName != nil {
		name := strings.TrimSpace(*fullName)
		if utf8.RuneCountInString(name) < 2 {
			return apperrors.NewValidationError("fullName", "Full name must be at least 2 characters")
		}
		user.FullName = name
	}
	if countryCode != nil {
		if !countryCodePattern.MatchString(*countryCode) {
			return apperrors.NewValidationError("phoneCountryCode", "Phone country code must be valid (e.g. +92, 1)")
		}
		user.PhoneCountryCode = *countryCode
	}
	if phone != nil {
		if !phoneNumberPattern.MatchString(*phone) {
			return apperrors.NewValidationError("phoneNumber", "Phone number must be 7-15 digits")
		}
		user.PhoneNumber = *phone
	}
	if houseNo != nil {
		user.HouseNo = strings.TrimSpace(*houseNo)
	}
	if streetNo != nil {
		user.StreetNo = strings.TrimSpace(*streetNo)
	}
	if subSectorID != nil {
		if err := e.requireSubSector(db, *subSectorID); err != nil {
			return err
		}
		user.SubSectorID = *subSectorID
		user.SubSector = nil
	}
	return nil
}

func (e *UserEngine) requireSubSector(db *gorm.DB, id uint) error {
	var count int64
	if err := db.Model(&models.SubSector{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return wrap(err, "check sub sector")
	}
	if count == 0 {
		return apperrors.NewConflictMessage("Invalid sub sector")
	}
	return nil
}

// storeDataURL persists an inline image and returns its reference
func (e *UserEngine) storeDataURL(ctx context.Context, raw, dir string) (string, error) {
	file, err := storage.DecodeDataURL(raw)
	if err != nil || !strings.HasPrefix(file.ContentType, "image/") {
		return "", apperrors.NewConflictMessage("Invalid image data URL")
	}
	if err := storage.ValidateUpload(file, storage.ProfileImagePolicy); err != nil {
		var uploadErr *storage.UploadError
		if errors.As(err, &uploadErr) {
			return "", apperrors.NewBadRequestError(uploadErr.Message)
		}
		return "", apperrors.NewBadRequestError(err.Error())
	}
	ref, err := e.store.Put(ctx, storage.NewKey(dir, file.Filename, file.ContentType), file.ContentType, file.Data)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	return ref, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// WithClock overrides the time source used for login stamps
func (e *UserEngine) WithClock(clock Clock) *UserEngine {
	e.clock = clock
	return e
}
