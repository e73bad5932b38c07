package database

import (
	"fmt"
	"strings"

	"github.com/aethra/civicdesk/internal/auth"
	"github.com/aethra/civicdesk/internal/config"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var defaultRequestTypes = []models.RequestType{
	{Name: "Water", Slug: "water", DisplayOrder: 1},
	{Name: "Garbage", Slug: "garbage", DisplayOrder: 2},
	{Name: "Street light", Slug: "street_light", DisplayOrder: 3},
	{Name: "Road repair", Slug: "road_repair", DisplayOrder: 4},
	{Name: "Drainage", Slug: "drainage", DisplayOrder: 5},
	{Name: "Other", Slug: "other", DisplayOrder: 6},
}

// Seed inserts bootstrap sub-sectors, request types and the first admin.
// Each step only runs against an empty table.
func Seed(db *gorm.DB, cfg config.SeedConfig, logger *logrus.Logger) error {
	if err := seedSubSectors(db, logger); err != nil {
		return err
	}
	if err := seedRequestTypes(db, logger); err != nil {
		return err
	}

	var admins int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&admins).Error; err != nil {
		return fmt.Errorf("failed to count admins: %w", err)
	}
	if admins > 0 {
		return nil
	}
	_, err := CreateAdmin(db, cfg.AdminEmail, cfg.AdminPassword, "Admin", logger)
	return err
}

func seedSubSectors(db *gorm.DB, logger *logrus.Logger) error {
	var count int64
	if err := db.Model(&models.SubSector{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count sub sectors: %w", err)
	}
	if count > 0 {
		return nil
	}

	sectors := make([]models.SubSector, 0, 10)
	for i := 0; i < 10; i++ {
		code := string(rune('A' + i))
		sectors = append(sectors, models.SubSector{
			Name:         "Sector " + code,
			Code:         code,
			DisplayOrder: i + 1,
		})
	}
	if err := db.Create(&sectors).Error; err != nil {
		return fmt.Errorf("failed to seed sub sectors: %w", err)
	}
	logger.WithField("count", len(sectors)).Info("Seeded sub sectors")
	return nil
}

func seedRequestTypes(db *gorm.DB, logger *logrus.Logger) error {
	var count int64
	if err := db.Model(&models.RequestType{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count request types: %w", err)
	}
	if count > 0 {
		return nil
	}

	types := make([]models.RequestType, len(defaultRequestTypes))
	copy(types, defaultRequestTypes)
	for i := range types {
		types[i].DuplicateRestrictionPeriod = "none"
	}
	if err := db.Create(&types).Error; err != nil {
		return fmt.Errorf("failed to seed request types: %w", err)
	}
	logger.WithField("count", len(types)).Info("Seeded request types")
	return nil
}

// CreateAdmin inserts an approved, active admin attached to the first sub-sector
func CreateAdmin(db *gorm.DB, email, password, name string, logger *logrus.Logger) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("admin email and password are required")
	}

	var sector models.SubSector
	if err := db.Order("display_order ASC, id ASC").First(&sector).Error; err != nil {
		return nil, fmt.Errorf("a sub sector is required before creating an admin: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Admin"
	}

	admin := &models.User{
		Email:            email,
		PasswordHash:     hash,
		FullName:         name,
		PhoneCountryCode: "+1",
		PhoneNumber:      "0000000000",
		HouseNo:          "-",
		StreetNo:         "-",
		SubSectorID:      sector.ID,
		Role:             models.RoleAdmin,
		ApprovalStatus:   models.ApprovalApproved,
		AccountStatus:    models.AccountActive,
	}
	if err := db.Create(admin).Error; err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	logger.WithField("email", email).Info("Created admin user")
	return admin, nil
}
