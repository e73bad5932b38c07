// Package testutil holds shared fixtures for package tests
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aethra/civicdesk/internal/auth"
	"github.com/aethra/civicdesk/internal/database"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TestPassword is the password of every fixture user
const TestPassword = "secret123"

var (
	userSeq     atomic.Int64
	passwordMem atomic.Pointer[string]
)

// NewLogger returns a logger that discards output
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// NewTestDB opens a private in-memory database with the full schema
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.RunMigrations(db, NewLogger()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// CreateSubSector inserts a sub-sector with the given code
func CreateSubSector(t *testing.T, db *gorm.DB, code string) *models.SubSector {
	t.Helper()

	sector := &models.SubSector{Name: "Sector " + code, Code: code}
	if err := db.Create(sector).Error; err != nil {
		t.Fatalf("Failed to create test sub sector: %v", err)
	}
	return sector
}

// CreateUser inserts an approved, active user in sector
func CreateUser(t *testing.T, db *gorm.DB, sector *models.SubSector, role models.Role) *models.User {
	t.Helper()

	n := userSeq.Add(1)
	user := &models.User{
		Email:            fmt.Sprintf("user%d@example.com", n),
		PasswordHash:     passwordHash(t),
		FullName:         fmt.Sprintf("Test User %d", n),
		PhoneCountryCode: "+92",
		PhoneNumber:      "3001234567",
		HouseNo:          "12",
		StreetNo:         "4",
		SubSectorID:      sector.ID,
		Role:             role,
		ApprovalStatus:   models.ApprovalApproved,
		AccountStatus:    models.AccountActive,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// CreateRequestType inserts a request type without any window or duplicate restriction
func CreateRequestType(t *testing.T, db *gorm.DB, name, slug string) *models.RequestType {
	t.Helper()

	rt := &models.RequestType{Name: name, Slug: slug, DuplicateRestrictionPeriod: "none"}
	if err := db.Create(rt).Error; err != nil {
		t.Fatalf("Failed to create test request type: %v", err)
	}
	return rt
}

// CreateOption inserts a form option under rt
func CreateOption(t *testing.T, db *gorm.DB, rt *models.RequestType, label string, cfg models.OptionConfig) *models.ServiceOption {
	t.Helper()

	opt := &models.ServiceOption{
		RequestTypeID:        rt.ID,
		Label:                label,
		OptionType:           models.OptionForm,
		RequestNumberPadding: 4,
		RequestNumberNext:    1,
		Config:               datatypes.NewJSONType(cfg),
	}
	if err := db.Create(opt).Error; err != nil {
		t.Fatalf("Failed to create test option: %v", err)
	}
	return opt
}

// MakeRequest creates an HTTP test request with a JSON body
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

// BearerHeader returns an Authorization header map for token
func BearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// DecodeJSON unmarshals a recorded response body into v
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// passwordHash hashes TestPassword once; bcrypt is slow
func passwordHash(t *testing.T) string {
	if h := passwordMem.Load(); h != nil {
		return *h
	}
	hash, err := auth.HashPassword(TestPassword)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	passwordMem.Store(&hash)
	return hash
}
