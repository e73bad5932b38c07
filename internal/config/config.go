// Package config provides configuration management for civicdesk
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SystemConfig represents a configuration entry stored in database
type SystemConfig struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Key       string    `gorm:"column:config_key;uniqueIndex;not null;size:100"`
	Value     string    `gorm:"type:text"`
	ValueType string    `gorm:"size:20"` // string, int, bool
	Category  string    `gorm:"size:50;index"`
	IsSecret  bool      `gorm:"default:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for SystemConfig
func (SystemConfig) TableName() string {
	return "system_config"
}

// BeforeCreate assigns the row id
func (c *SystemConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Source supplies configuration values from outside the process environment
type Source interface {
	Name() string
	Load(ctx context.Context) (map[string]string, error)
}

// ConfigService manages configuration.
// Lookup order: environment, system_config table, external sources, default.
type ConfigService struct {
	db      *gorm.DB
	cache   map[string]string
	sourced map[string]string
	mu      sync.RWMutex
	logger  *logrus.Logger
}

// NewConfigService creates a config service and loads every source.
// A failing source is logged and skipped.
func NewConfigService(ctx context.Context, logger *logrus.Logger, sources ...Source) *ConfigService {
	svc := &ConfigService{
		cache:   make(map[string]string),
		sourced: make(map[string]string),
		logger:  logger,
	}
	for _, src := range sources {
		values, err := src.Load(ctx)
		if err != nil {
			logger.WithError(err).WithField("source", src.Name()).Warn("Config source unavailable")
			continue
		}
		for k, v := range values {
			svc.sourced[k] = v
		}
		logger.WithFields(logrus.Fields{"source": src.Name(), "keys": len(values)}).Debug("Config source loaded")
	}
	return svc
}

// AttachDB enables the system_config table as a configuration layer
func (s *ConfigService) AttachDB(db *gorm.DB) {
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.loadCache()
}

// loadCache loads all config values into memory
func (s *ConfigService) loadCache() {
	var configs []SystemConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cfg := range configs {
		s.cache[cfg.Key] = cfg.Value
	}
}

// Get returns a config value by key
func (s *ConfigService) Get(key string) string {
	// Environment always wins
	if envVal := os.Getenv(key); envVal != "" {
		return envVal
	}

	s.mu.RLock()
	if val, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return val
	}
	db := s.db
	s.mu.RUnlock()

	if db != nil {
		var cfg SystemConfig
		if err := db.Where("config_key = ?", key).First(&cfg).Error; err == nil {
			s.mu.Lock()
			s.cache[key] = cfg.Value
			s.mu.Unlock()
			return cfg.Value
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourced[key]
}

// GetWithDefault returns a config value or default if not found
func (s *ConfigService) GetWithDefault(key, defaultValue string) string {
	if val := s.Get(key); val != "" {
		return val
	}
	return defaultValue
}

// GetInt returns a config value as int
func (s *ConfigService) GetInt(key string, defaultValue int) int {
	val := s.Get(key)
	if val == "" {
		return defaultValue
	}
	if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
		return i
	}
	return defaultValue
}

// GetBool returns a config value as bool
func (s *ConfigService) GetBool(key string, defaultValue bool) bool {
	val := strings.ToLower(strings.TrimSpace(s.Get(key)))
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}

// Set sets a config value in the system_config table
func (s *ConfigService) Set(key, value, category string, isSecret bool) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}
	cfg := SystemConfig{
		Key:       key,
		Value:     value,
		ValueType: "string",
		Category:  category,
		IsSecret:  isSecret,
		UpdatedAt: time.Now(),
	}

	// Upsert
	err := s.db.Where("config_key = ?", key).Assign(cfg).FirstOrCreate(&cfg).Error
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()

	return nil
}

// Delete removes a config value
func (s *ConfigService) Delete(key string) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}
	err := s.db.Where("config_key = ?", key).Delete(&SystemConfig{}).Error
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	return nil
}

// GetAllConfig returns all non-secret configuration stored in the database
func (s *ConfigService) GetAllConfig() map[string]string {
	result := make(map[string]string)
	if s.db == nil {
		return result
	}

	var configs []SystemConfig
	if err := s.db.Where("is_secret = ?", false).Order("config_key").Find(&configs).Error; err != nil {
		return result
	}

	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}

	return result
}

// Config holds the runtime configuration
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Requests RequestsConfig
	Seed     SeedConfig
	Logging  LoggingConfig
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port         string
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret          string
	AccessExpiryHours  int
	RefreshExpiryHours int
	AutoApprove        bool
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Driver          string
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// StorageConfig selects and configures the upload store
type StorageConfig struct {
	Driver       string
	Root         string
	PublicPrefix string
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// RequestsConfig holds request admission settings
type RequestsConfig struct {
	AdminTimezone string
}

// SeedConfig holds bootstrap data settings
type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig resolves every setting into a Config struct
func (s *ConfigService) LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         s.GetWithDefault("PORT", "8090"),
			Mode:         s.GetWithDefault("SERVER_MODE", "release"),
			ReadTimeout:  s.GetInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: s.GetInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Auth: AuthConfig{
			JWTSecret:          s.GetWithDefault("JWT_SECRET", ""),
			AccessExpiryHours:  s.GetInt("JWT_ACCESS_EXPIRY_HOURS", 24),
			RefreshExpiryHours: s.GetInt("JWT_REFRESH_EXPIRY_HOURS", 168),
			AutoApprove:        s.GetBool("AUTH_AUTO_APPROVE", true),
		},
		CORS: CORSConfig{
			AllowedOrigins:   splitString(s.GetWithDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
			AllowCredentials: s.GetBool("CORS_ALLOW_CREDENTIALS", true),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(s.GetWithDefault("DB_DRIVER", "mysql")),
			URL:             s.Get("DATABASE_URL"),
			Host:            s.GetWithDefault("DB_HOST", "localhost"),
			Port:            s.GetWithDefault("DB_PORT", "3306"),
			User:            s.GetWithDefault("DB_USERNAME", "root"),
			Password:        s.Get("DB_PASSWORD"),
			Name:            s.GetWithDefault("DB_DATABASE", "civicdesk"),
			SSLMode:         s.GetWithDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    s.GetInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    s.GetInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(s.GetInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute,
			LogLevel:        s.GetWithDefault("DB_LOG_LEVEL", "warn"),
		},
		Storage: StorageConfig{
			Driver:       strings.ToLower(s.GetWithDefault("STORAGE_DRIVER", "local")),
			Root:         s.GetWithDefault("STORAGE_ROOT", "uploads"),
			PublicPrefix: s.GetWithDefault("STORAGE_PUBLIC_PREFIX", "/uploads"),
			Bucket:       s.Get("S3_BUCKET"),
			Region:       s.GetWithDefault("AWS_REGION", "us-east-2"),
			Endpoint:     s.Get("S3_ENDPOINT"),
			UsePathStyle: s.GetBool("S3_USE_PATH_STYLE", false),
		},
		Requests: RequestsConfig{
			AdminTimezone: s.Get("ADMIN_INPUT_TIMEZONE"),
		},
		Seed: SeedConfig{
			AdminEmail:    s.GetWithDefault("ADMIN_EMAIL", "admin@example.com"),
			AdminPassword: s.GetWithDefault("ADMIN_PASSWORD", "Admin123!"),
		},
		Logging: LoggingConfig{
			Level:  s.GetWithDefault("LOG_LEVEL", "info"),
			Format: s.GetWithDefault("LOG_FORMAT", "json"),
		},
	}
}

// splitString splits a comma-separated string into a slice
func splitString(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
