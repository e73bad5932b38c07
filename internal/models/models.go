// Package models contains the civicdesk persistence model
package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// Role is a user's role
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ApprovalStatus tracks registration review
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// AccountStatus marks self-deactivated accounts
type AccountStatus string

const (
	AccountActive      AccountStatus = "active"
	AccountDeactivated AccountStatus = "deactivated"
)

// RequestStatus is the lifecycle state of a request
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusCancelled  RequestStatus = "cancelled"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	// StatusDone is a legacy synonym of StatusCompleted
	StatusDone RequestStatus = "done"
)

// IsCompleted treats the legacy done status as completed
func (s RequestStatus) IsCompleted() bool {
	return s == StatusCompleted || s == StatusDone
}

// IsOpen reports whether the request still awaits work
func (s RequestStatus) IsOpen() bool {
	return s == StatusPending || s == StatusInProgress
}

// Valid reports whether s is a known status
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCancelled, StatusInProgress, StatusCompleted, StatusDone:
		return true
	}
	return false
}

// Normalized maps legacy values onto their current equivalent
func (s RequestStatus) Normalized() RequestStatus {
	if s == StatusDone {
		return StatusCompleted
	}
	return s
}

// OptionKind is the behaviour of a service option in the citizen app
type OptionKind string

const (
	OptionForm         OptionKind = "form"
	OptionList         OptionKind = "list"
	OptionRules        OptionKind = "rules"
	OptionNotification OptionKind = "notification"
	OptionLink         OptionKind = "link"
	OptionPhone        OptionKind = "phone"
)

// Valid reports whether k is a known option kind
func (k OptionKind) Valid() bool {
	switch k {
	case OptionForm, OptionList, OptionRules, OptionNotification, OptionLink, OptionPhone:
		return true
	}
	return false
}

// ImageRequirement is the issue-image policy of a form option
type ImageRequirement string

const (
	ImageNone     ImageRequirement = "none"
	ImageOptional ImageRequirement = "optional"
	ImageRequired ImageRequirement = "required"
)

// BulletinFileType is the file format of a daily bulletin
type BulletinFileType string

const (
	BulletinPDF   BulletinFileType = "pdf"
	BulletinCSV   BulletinFileType = "csv"
	BulletinExcel BulletinFileType = "excel"
)

// =============================================================================
// DIRECTORY MODELS
// =============================================================================

// SubSector is an administrative area of the town
type SubSector struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"not null;size:100"`
	Code         string    `json:"code" gorm:"uniqueIndex;not null;size:20"`
	DisplayOrder int       `json:"displayOrder" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// User is a registered citizen or an administrator
type User struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	Email            string         `json:"email" gorm:"uniqueIndex;not null;size:255"`
	PasswordHash     string         `json:"-" gorm:"not null;size:255"`
	FullName         string         `json:"fullName" gorm:"not null;size:255"`
	PhoneCountryCode string         `json:"phoneCountryCode" gorm:"size:10"`
	PhoneNumber      string         `json:"phoneNumber" gorm:"size:20"`
	HouseNo          string         `json:"houseNo" gorm:"size:50"`
	StreetNo         string         `json:"streetNo" gorm:"size:50"`
	SubSectorID      uint           `json:"subSectorId" gorm:"index;not null"`
	IDCardFront      *string        `json:"idCardFront" gorm:"size:255"`
	IDCardBack       *string        `json:"idCardBack" gorm:"size:255"`
	ProfileImage     *string        `json:"profileImage" gorm:"size:255"`
	Role             Role           `json:"role" gorm:"not null;size:20;default:'user'"`
	ApprovalStatus   ApprovalStatus `json:"approvalStatus" gorm:"not null;size:20;default:'pending';index"`
	AccountStatus    AccountStatus  `json:"accountStatus" gorm:"not null;size:20;default:'active'"`
	LastLoginAt      *time.Time     `json:"lastLoginAt"`
	CreatedAt        time.Time      `json:"createdAt" gorm:"index"`
	UpdatedAt        time.Time      `json:"updatedAt"`

	// Relations
	SubSector *SubSector `json:"subSector,omitempty" gorm:"foreignKey:SubSectorID"`
}

// IsAdmin reports whether the user has the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// MobileNo joins the country code and number for display
func (u *User) MobileNo() string {
	return strings.TrimSpace(u.PhoneCountryCode + " " + u.PhoneNumber)
}

// =============================================================================
// SERVICE CATALOG
// =============================================================================

// RequestType is a category of municipal service
type RequestType struct {
	ID                         uint       `json:"id" gorm:"primaryKey"`
	Name                       string     `json:"name" gorm:"not null;size:100"`
	Slug                       string     `json:"slug" gorm:"uniqueIndex;not null;size:50"`
	DisplayOrder               int        `json:"displayOrder" gorm:"not null;default:0"`
	IconURL                    *string    `json:"iconUrl" gorm:"size:500"`
	RestrictionStartTime       *string    `json:"restrictionStartTime" gorm:"size:5"`
	RestrictionEndTime         *string    `json:"restrictionEndTime" gorm:"size:5"`
	RestrictionDays            WeekdaySet `json:"restrictionDays" gorm:"size:20"`
	DuplicateRestrictionPeriod string     `json:"duplicateRestrictionPeriod" gorm:"size:10;default:'none'"`
	UnderConstruction          bool       `json:"underConstruction" gorm:"not null;default:false"`
	UnderConstructionMessage   *string    `json:"underConstructionMessage" gorm:"type:text"`
	CreatedAt                  time.Time  `json:"createdAt"`
	UpdatedAt                  time.Time  `json:"updatedAt"`

	// Relations
	Options []ServiceOption `json:"options,omitempty" gorm:"foreignKey:RequestTypeID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// ServiceOption is a submission target offered under a request type.
// It owns the per-option request number counter.
type ServiceOption struct {
	ID                   uint                             `json:"id" gorm:"primaryKey"`
	RequestTypeID        uint                             `json:"requestTypeId" gorm:"index;not null"`
	Label                string                           `json:"label" gorm:"not null;size:200"`
	Slug                 *string                          `json:"slug" gorm:"size:120;index"`
	OptionType           OptionKind                       `json:"optionType" gorm:"not null;size:20"`
	RequestNumberPrefix  *string                          `json:"requestNumberPrefix" gorm:"size:20"`
	RequestNumberPadding int                              `json:"requestNumberPadding" gorm:"not null;default:4"`
	RequestNumberNext    int                              `json:"requestNumberNext" gorm:"not null;default:1"`
	Config               datatypes.JSONType[OptionConfig] `json:"config"`
	DisplayOrder         int                              `json:"displayOrder" gorm:"not null;default:0"`
	ImageURL             *string                          `json:"imageUrl" gorm:"size:500"`
	CreatedAt            time.Time                        `json:"createdAt"`
	UpdatedAt            time.Time                        `json:"updatedAt"`

	// Relations
	RequestType *RequestType `json:"requestType,omitempty" gorm:"foreignKey:RequestTypeID"`
}

// TableName keeps the historical table name
func (ServiceOption) TableName() string {
	return "request_type_options"
}

// ImageRequirement resolves the issue-image policy. Non-form options never take
// an image; form options default to optional for missing or unknown values.
func (o *ServiceOption) ImageRequirement() ImageRequirement {
	if o.OptionType != OptionForm {
		return ImageNone
	}
	switch req := o.Config.Data().IssueImage; req {
	case ImageNone, ImageOptional, ImageRequired:
		return req
	default:
		return ImageOptional
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

// Request is a citizen's service request
type Request struct {
	ID                  uint          `json:"id" gorm:"primaryKey"`
	RequestTypeID       uint          `json:"requestTypeId" gorm:"index;not null"`
	RequestTypeOptionID *uint         `json:"requestTypeOptionId" gorm:"index"`
	RequestNumber       *string       `json:"requestNumber" gorm:"uniqueIndex;size:40"`
	Description         string        `json:"description" gorm:"type:text"`
	IssueImageURL       *string       `json:"issueImageUrl" gorm:"size:500"`
	HouseNo             string        `json:"houseNo" gorm:"not null;size:50"`
	StreetNo            string        `json:"streetNo" gorm:"not null;size:50"`
	SubSectorID         uint          `json:"subSectorId" gorm:"index;not null"`
	Status              RequestStatus `json:"status" gorm:"not null;size:20;default:'pending';index"`
	UserID              uint          `json:"userId" gorm:"index;not null"`
	CreatedAt           time.Time     `json:"createdAt" gorm:"index"`
	UpdatedAt           time.Time     `json:"updatedAt"`

	// Relations
	RequestType       *RequestType   `json:"requestType,omitempty" gorm:"foreignKey:RequestTypeID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	RequestTypeOption *ServiceOption `json:"requestTypeOption,omitempty" gorm:"foreignKey:RequestTypeOptionID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	SubSector         *SubSector     `json:"subSector,omitempty" gorm:"foreignKey:SubSectorID"`
	User              *User          `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// =============================================================================
// BULLETINS
// =============================================================================

// DailyBulletin is the file published for one calendar date
type DailyBulletin struct {
	ID          uint             `json:"id" gorm:"primaryKey"`
	Date        string           `json:"date" gorm:"uniqueIndex;not null;size:10"`
	Title       string           `json:"title" gorm:"not null;size:255"`
	Description *string          `json:"description" gorm:"type:text"`
	FilePath    string           `json:"filePath" gorm:"not null;size:512"`
	FileType    BulletinFileType `json:"fileType" gorm:"not null;size:10"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// All returns every model managed by migrations, in dependency order
func All() []interface{} {
	return []interface{}{
		&SubSector{},
		&User{},
		&RequestType{},
		&ServiceOption{},
		&Request{},
		&DailyBulletin{},
	}
}
