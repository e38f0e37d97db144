package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ikkim/account-backend/internal/app/model"
	"github.com/ikkim/account-backend/internal/app/repository"
	"github.com/ikkim/account-backend/pkg/logger"
	"gorm.io/gorm"
)

// UpdateUserInput lists the profile fields a client may change. Nil
// fields are left untouched; email, password and verification status
// are never updatable here.
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Country   *string
	Image     *string
}

func (in UpdateUserInput) isEmpty() bool {
	return in.FirstName == nil && in.LastName == nil && in.Country == nil && in.Image == nil
}

type UserService interface {
	List(ctx context.Context) ([]model.User, error)
	GetByID(ctx context.Context, id uint) (*model.User, error)
	// Resolve loads the user behind a session, consulting the identity cache.
	Resolve(ctx context.Context, id uint) (*model.User, error)
	Update(ctx context.Context, id uint, input UpdateUserInput) (*model.User, error)
	Delete(ctx context.Context, id uint) error
}

type userService struct {
	userRepo repository.UserRepository
	cache    IdentityCache
}

func NewUserService(userRepo repository.UserRepository, cache IdentityCache) UserService {
	if cache == nil {
		cache = NewNoopIdentityCache()
	}
	return &userService{
		userRepo: userRepo,
		cache:    cache,
	}
}

func (s *userService) List(ctx context.Context) ([]model.User, error) {
	users, err := s.userRepo.FindAll()
	if err != nil {
		logger.Error("Failed to list users", err)
		return nil, err
	}
	return users, nil
}

func (s *userService) GetByID(ctx context.Context, id uint) (*model.User, error) {
	logger.Debug("Fetching user by ID", map[string]interface{}{
		"user_id": id,
	})

	user, err := s.userRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("User not found", map[string]interface{}{
				"user_id": id,
			})
			return nil, ErrUserNotFound
		}
		logger.Error("Failed to fetch user", err, map[string]interface{}{
			"user_id": id,
		})
		return nil, err
	}
	return user, nil
}

func (s *userService) Resolve(ctx context.Context, id uint) (*model.User, error) {
	if user, ok := s.cache.Get(ctx, id); ok {
		return user, nil
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, user)
	return user, nil
}

func (s *userService) Update(ctx context.Context, id uint, input UpdateUserInput) (*model.User, error) {
	logger.Info("Updating user profile", map[string]interface{}{
		"user_id": id,
	})

	fields := make(map[string]interface{})
	if input.FirstName != nil {
		v := strings.TrimSpace(*input.FirstName)
		if v == "" {
			return nil, newValidationError("firstName", "firstName cannot be empty")
		}
		fields["first_name"] = v
	}
	if input.LastName != nil {
		v := strings.TrimSpace(*input.LastName)
		if v == "" {
			return nil, newValidationError("lastName", "lastName cannot be empty")
		}
		fields["last_name"] = v
	}
	if input.Country != nil {
		fields["country"] = strings.TrimSpace(*input.Country)
	}
	if input.Image != nil {
		fields["image"] = strings.TrimSpace(*input.Image)
	}

	if input.isEmpty() {
		return s.GetByID(ctx, id)
	}

	affected, err := s.userRepo.UpdateFields(id, fields)
	if err != nil {
		logger.Error("Failed to update user", err, map[string]interface{}{
			"user_id": id,
		})
		return nil, err
	}
	if affected == 0 {
		return nil, ErrUserNotFound
	}

	s.cache.Invalidate(ctx, id)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	logger.Info("User profile updated", map[string]interface{}{
		"user_id": id,
	})
	return user, nil
}

func (s *userService) Delete(ctx context.Context, id uint) error {
	logger.Info("Deleting user", map[string]interface{}{
		"user_id": id,
	})

	affected, err := s.userRepo.Delete(id)
	if err != nil {
		logger.Error("Failed to delete user", err, map[string]interface{}{
			"user_id": id,
		})
		return err
	}
	if affected == 0 {
		logger.Warn("Delete failed: user not found", map[string]interface{}{
			"user_id": id,
		})
		return ErrUserNotFound
	}

	s.cache.Invalidate(ctx, id)

	logger.Info("User deleted", map[string]interface{}{
		"user_id": id,
	})
	return nil
}
