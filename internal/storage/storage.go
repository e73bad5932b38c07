// Package storage persists uploaded files and returns stable references to them
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/aethra/civicdesk/internal/config"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store accepts blobs and hands back a reference usable in API responses
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, ref string) error
}

// New builds the store selected by cfg.Driver
func New(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		logger.WithField("root", cfg.Root).Info("Using local upload storage")
		return NewLocalStore(cfg.Root, cfg.PublicPrefix)
	case "s3":
		logger.WithFields(logrus.Fields{"bucket": cfg.Bucket, "region": cfg.Region}).Info("Using S3 upload storage")
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// File is an upload held in memory
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes
func (f *File) Size() int64 {
	return int64(len(f.Data))
}

var (
	// ErrFileTooLarge marks uploads over the policy limit
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnsupportedType marks uploads whose content type is not allowed
	ErrUnsupportedType = errors.New("unsupported file type")
)

// UploadError carries a client-facing message and wraps one of the sentinel errors
type UploadError struct {
	Err     error
	Message string
}

func (e *UploadError) Error() string { return e.Message }
func (e *UploadError) Unwrap() error { return e.Err }

// Policy bounds what an upload endpoint accepts
type Policy struct {
	Label        string
	MaxBytes     int64
	AllowedTypes []string
}

var (
	// IssueImagePolicy applies to request attachments
	IssueImagePolicy = Policy{
		Label:        "Issue image",
		MaxBytes:     5 << 20,
		AllowedTypes: []string{"image/png", "image/jpeg", "image/webp", "image/gif"},
	}
	// IconPolicy applies to request type icons
	IconPolicy = Policy{
		Label:        "Icon",
		MaxBytes:     1 << 20,
		AllowedTypes: []string{"image/svg+xml", "image/png", "image/jpeg", "image/webp", "image/gif"},
	}
	// OptionImagePolicy applies to service option images
	OptionImagePolicy = Policy{
		Label:        "Option image",
		MaxBytes:     2 << 20,
		AllowedTypes: []string{"image/png", "image/jpeg", "image/webp", "image/gif"},
	}
	// ProfileImagePolicy applies to ID cards and profile pictures
	ProfileImagePolicy = Policy{
		Label:        "Image",
		MaxBytes:     5 << 20,
		AllowedTypes: []string{"image/png", "image/jpeg", "image/webp", "image/gif"},
	}
	// BulletinPolicy applies to daily bulletin files
	BulletinPolicy = Policy{
		Label:    "Bulletin file",
		MaxBytes: 10 << 20,
		AllowedTypes: []string{
			"application/pdf",
			"text/csv",
			"text/plain",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
	}
)

// ValidateUpload enforces size first, then content type.
// A missing content type is resolved from the file extension, then by sniffing.
func ValidateUpload(file *File, policy Policy) error {
	if file.Size() > policy.MaxBytes {
		return &UploadError{
			Err:     ErrFileTooLarge,
			Message: fmt.Sprintf("%s must be at most %s", policy.Label, humanize.IBytes(uint64(policy.MaxBytes))),
		}
	}

	file.ContentType = ResolveContentType(file)
	for _, allowed := range policy.AllowedTypes {
		if file.ContentType == allowed {
			return nil
		}
	}
	return &UploadError{
		Err:     ErrUnsupportedType,
		Message: fmt.Sprintf("%s type %s is not allowed", policy.Label, file.ContentType),
	}
}

// ResolveContentType normalizes the declared media type of file
func ResolveContentType(file *File) string {
	ct := strings.ToLower(strings.TrimSpace(file.ContentType))
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mediaType
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if byExt := extensionTypes[strings.ToLower(filepath.Ext(file.Filename))]; byExt != "" {
		return byExt
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(file.Data))
	return sniffed
}

var extensionTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".csv":  "text/csv",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// extensionFor returns a file extension for a content type
func extensionFor(contentType string) string {
	for ext, ct := range extensionTypes {
		if ct == contentType && ext != ".jpeg" {
			return ext
		}
	}
	return ""
}

// NewKey builds a collision-free object key under dir
func NewKey(dir, filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, known := extensionTypes[ext]; !known {
		ext = extensionFor(contentType)
	}
	return path.Join(dir, uuid.NewString()+ext)
}

// DecodeDataURL parses "data:<mime>;base64,<payload>"
func DecodeDataURL(raw string) (*File, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "data:") {
		return nil, errors.New("not a data URL")
	}
	header, payload, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok {
		return nil, errors.New("malformed data URL")
	}
	contentType, encoding, _ := strings.Cut(header, ";")
	if encoding != "base64" {
		return nil, errors.New("data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}
	contentType = strings.ToLower(contentType)
	return &File{
		Filename:    "upload" + extensionFor(contentType),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// IsDataURL reports whether s looks like an inline data URL
func IsDataURL(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "data:")
}
