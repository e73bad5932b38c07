// Package auth - Permission checking
package auth

import (
	"fmt"
	"strings"

	apperrors "github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
)

// Action represents a permission action
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Policy decides role and ownership questions.
// It holds no state; every decision depends only on the actor and the resource owner.
type Policy struct{}

// RequireAdmin allows administrators only
func (Policy) RequireAdmin(actor *models.User) error {
	if actor == nil {
		return apperrors.NewUnauthorizedError("")
	}
	if !actor.IsAdmin() {
		return apperrors.NewForbiddenError("Admin only")
	}
	return nil
}

// RequireApproved allows approved active users; administrators always pass
func (Policy) RequireApproved(actor *models.User) error {
	if actor == nil {
		return apperrors.NewUnauthorizedError("")
	}
	if actor.IsAdmin() {
		return nil
	}
	if actor.AccountStatus == models.AccountDeactivated {
		return apperrors.NewForbiddenError("Account is deactivated")
	}
	if actor.ApprovalStatus != models.ApprovalApproved {
		return apperrors.NewForbiddenError("Your registration is not yet approved")
	}
	return nil
}

// CheckOwnership allows the resource owner or an administrator
func (Policy) CheckOwnership(actor *models.User, ownerID uint, action Action, resource string) error {
	if actor == nil {
		return apperrors.NewUnauthorizedError("")
	}
	if actor.IsAdmin() || actor.ID == ownerID {
		return nil
	}
	err := apperrors.NewPermissionDeniedError(string(action), resource)
	err.Message = fmt.Sprintf("Cannot %s this %s", action, strings.ToLower(resource))
	return err
}
