package services

import (
	"context"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/repositories"
)

// UserService is the admin surface over accounts; destructive operations
// go through the cascade coordinator.
type UserService struct {
	Store   repositories.Store
	Cascade CascadeService
}

func (s UserService) ListUsers(ctx context.Context, rc domain.RequestContext, role string) ([]models.User, error) {
	if err := rc.Require(domain.CapManageUsers); err != nil {
		return nil, err
	}
	var filter domain.Role
	if role != "" {
		r, err := domain.ParseRole(role)
		if err != nil {
			return nil, err
		}
		filter = r
	}
	return s.Store.ListUsers(ctx, filter)
}

func (s UserService) ListDrivers(ctx context.Context, rc domain.RequestContext) ([]models.User, error) {
	return s.ListUsers(ctx, rc, domain.RoleDriver.String())
}

func (s UserService) ChangeRole(ctx context.Context, rc domain.RequestContext, userID, role string) (models.User, UserCascade, error) {
	if err := rc.Require(domain.CapManageUsers); err != nil {
		return models.User{}, UserCascade{}, err
	}
	return s.Cascade.ChangeRole(ctx, userID, role)
}

func (s UserService) DeleteUser(ctx context.Context, rc domain.RequestContext, userID string) (UserCascade, error) {
	if err := rc.Require(domain.CapManageUsers); err != nil {
		return UserCascade{}, err
	}
	if userID == rc.UserID {
		return UserCascade{}, domain.ConflictError{Resource: "user", Msg: "you cannot delete your own account"}
	}
	return s.Cascade.OnUserDeleted(ctx, userID)
}

// DeleteDriver refuses ids that do not belong to a driver.
func (s UserService) DeleteDriver(ctx context.Context, rc domain.RequestContext, userID string) (UserCascade, error) {
	if err := rc.Require(domain.CapManageUsers); err != nil {
		return UserCascade{}, err
	}
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return UserCascade{}, err
	}
	if u.Role != domain.RoleDriver {
		return UserCascade{}, domain.ValidationError{Field: "id", Msg: "user is not a driver", Err: domain.ErrNotADriver}
	}
	return s.Cascade.OnUserDeleted(ctx, userID)
}
