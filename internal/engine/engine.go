// Package engine holds the civicdesk business logic.
// Each engine wraps a *gorm.DB and returns typed errors from internal/errors.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/aethra/civicdesk/internal/errors"
	"gorm.io/gorm"
)

// notFound converts gorm.ErrRecordNotFound into a NotFoundError with message msg
func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		nf := apperrors.NewNotFoundError("")
		nf.Message = msg
		return nf
	}
	return err
}

// conflictOnDuplicate converts gorm.ErrDuplicatedKey into a ConflictError with message msg
func conflictOnDuplicate(err error, msg string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.NewConflictMessage(msg)
	}
	return err
}

func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// OptionalID distinguishes an absent JSON field from an explicit null
type OptionalID struct {
	Set   bool
	Value *uint
}

// UnmarshalJSON records that the field was present
func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var id uint
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	o.Value = &id
	return nil
}

// ListResult is a page of records with the total before paging
type ListResult[T any] struct {
	Data  []T   `json:"data"`
	Total int64 `json:"total"`
}
