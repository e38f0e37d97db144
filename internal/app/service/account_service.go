package service

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ikkim/account-backend/internal/app/model"
	"github.com/ikkim/account-backend/internal/app/repository"
	"github.com/ikkim/account-backend/pkg/logger"
	"github.com/ikkim/account-backend/pkg/mailer"
	"github.com/ikkim/account-backend/pkg/util"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// RegisterInput carries the fields accepted on sign-up.
type RegisterInput struct {
	Email     string `validate:"required,email"`
	Password  string `validate:"required"`
	FirstName string `validate:"required"`
	LastName  string `validate:"required"`
	Country   string
	Image     string
}

// LoginResult is returned on successful login.
type LoginResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

type AccountService interface {
	Register(ctx context.Context, input RegisterInput, baseURL string) (*model.User, error)
	VerifyEmail(ctx context.Context, code string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	RequestPasswordReset(ctx context.Context, email, baseURL string) (*model.User, error)
	ResetPassword(ctx context.Context, code, newPassword string) (*model.User, error)
}

// AccountOptions tunes an AccountService. Zero values are valid.
type AccountOptions struct {
	BcryptCost int
	// CodeTTL bounds the age of one-time codes. Zero disables expiry.
	CodeTTL time.Duration
	Cache   IdentityCache
}

type accountService struct {
	db         *gorm.DB
	userRepo   repository.UserRepository
	codeRepo   repository.EmailCodeRepository
	mailer     mailer.Mailer
	issuer     *util.SessionIssuer
	validate   *validator.Validate
	cache      IdentityCache
	bcryptCost int
	codeTTL    time.Duration
	dummyHash  string
	now        func() time.Time
}

func NewAccountService(
	db *gorm.DB,
	userRepo repository.UserRepository,
	codeRepo repository.EmailCodeRepository,
	m mailer.Mailer,
	issuer *util.SessionIssuer,
	opts AccountOptions,
) (AccountService, error) {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = util.DefaultBcryptCost
	}
	if opts.Cache == nil {
		opts.Cache = NewNoopIdentityCache()
	}

	// compared against when the email is unknown so login timing stays flat
	dummyHash, err := util.HashPasswordWithCost("account-login-placeholder", opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	return &accountService{
		db:         db,
		userRepo:   userRepo,
		codeRepo:   codeRepo,
		mailer:     m,
		issuer:     issuer,
		validate:   validator.New(),
		cache:      opts.Cache,
		bcryptCost: opts.BcryptCost,
		codeTTL:    opts.CodeTTL,
		dummyHash:  dummyHash,
		now:        time.Now,
	}, nil
}

func (s *accountService) Register(ctx context.Context, input RegisterInput, baseURL string) (*model.User, error) {
	input.Email = normalizeEmail(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)

	logger.Info("Attempting user registration", map[string]interface{}{
		"email": input.Email,
	})

	if err := s.validateRegisterInput(input); err != nil {
		logger.Warn("Registration rejected: invalid input", map[string]interface{}{
			"email": input.Email,
			"error": err.Error(),
		})
		return nil, err
	}

	if _, err := s.userRepo.FindByEmail(input.Email); err == nil {
		logger.Warn("Registration failed: email already exists", map[string]interface{}{
			"email": input.Email,
		})
		return nil, ErrEmailAlreadyExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("Failed to check existing user", err, map[string]interface{}{
			"email": input.Email,
		})
		return nil, err
	}

	hashedPassword, err := s.hashPassword(input.Password)
	if err != nil {
		if !errors.Is(err, ErrValidation) {
			logger.Error("Failed to hash password", err, map[string]interface{}{
				"email": input.Email,
			})
		}
		return nil, err
	}

	user := &model.User{
		Email:     input.Email,
		Password:  hashedPassword,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Country:   strings.TrimSpace(input.Country),
		Image:     strings.TrimSpace(input.Image),
	}

	var code string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.userRepo.WithTx(tx).Create(user); err != nil {
			// lost the race with a concurrent sign-up
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrEmailAlreadyExists
			}
			return err
		}

		var err error
		code, err = s.issueCode(tx, user.ID, model.PurposeVerifyEmail)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrEmailAlreadyExists) {
			logger.Error("Failed to register user", err, map[string]interface{}{
				"email": input.Email,
			})
		}
		return nil, err
	}

	s.sendCodeEmail(ctx, user, verificationSubject, verificationTemplate, codeLink(baseURL, "verify_email", code))

	logger.Info("User registered successfully", map[string]interface{}{
		"user_id": user.ID,
		"email":   user.Email,
	})
	return user, nil
}

func (s *accountService) VerifyEmail(ctx context.Context, code string) (*model.User, error) {
	logger.Info("Processing email verification")

	var user *model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		codes := s.codeRepo.WithTx(tx)
		users := s.userRepo.WithTx(tx)

		found, err := s.consumeCode(codes, code, model.PurposeVerifyEmail)
		if err != nil {
			return err
		}

		affected, err := users.UpdateFields(found.UserID, map[string]interface{}{"is_verified": true})
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrUserNotFound
		}

		user, err = users.FindByID(found.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			logger.Warn("Email verification failed: invalid code", nil)
		} else if !errors.Is(err, ErrUserNotFound) {
			logger.Error("Failed to verify email", err)
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, user.ID)

	logger.Info("Email verified successfully", map[string]interface{}{
		"user_id": user.ID,
		"email":   user.Email,
	})
	return user, nil
}

func (s *accountService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	logger.Info("Login attempt", map[string]interface{}{
		"email": email,
	})

	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.VerifyPassword(s.dummyHash, password)
			logger.Warn("Login failed: user not found", map[string]interface{}{
				"email": email,
			})
			return nil, ErrInvalidCredentials
		}
		logger.Error("Failed to find user", err, map[string]interface{}{
			"email": email,
		})
		return nil, err
	}

	if !util.VerifyPassword(user.Password, password) {
		logger.Warn("Login failed: invalid password", map[string]interface{}{
			"email":   email,
			"user_id": user.ID,
		})
		return nil, ErrInvalidCredentials
	}

	if !user.IsVerified {
		logger.Warn("Login failed: email not verified", map[string]interface{}{
			"email":   email,
			"user_id": user.ID,
		})
		return nil, ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(util.SessionUser{
		ID:         user.ID,
		Email:      user.Email,
		IsVerified: user.IsVerified,
	})
	if err != nil {
		logger.Error("Failed to issue session token", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return nil, err
	}

	logger.Info("User logged in successfully", map[string]interface{}{
		"user_id": user.ID,
		"email":   email,
	})
	return &LoginResult{User: user, Token: token}, nil
}

func (s *accountService) RequestPasswordReset(ctx context.Context, email, baseURL string) (*model.User, error) {
	email = normalizeEmail(email)
	logger.Info("Processing password reset request", map[string]interface{}{
		"email": email,
	})

	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("Password reset requested for unknown email", map[string]interface{}{
				"email": email,
			})
			return nil, ErrInvalidCredentials
		}
		logger.Error("Failed to find user for password reset", err, map[string]interface{}{
			"email": email,
		})
		return nil, err
	}

	var code string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		code, err = s.issueCode(tx, user.ID, model.PurposeResetPassword)
		return err
	})
	if err != nil {
		logger.Error("Failed to create password reset code", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return nil, err
	}

	s.sendCodeEmail(ctx, user, passwordResetSubject, passwordResetTemplate, codeLink(baseURL, "reset_password", code))

	logger.Info("Password reset code issued", map[string]interface{}{
		"user_id": user.ID,
	})
	return user, nil
}

func (s *accountService) ResetPassword(ctx context.Context, code, newPassword string) (*model.User, error) {
	logger.Info("Processing password reset with code")

	if newPassword == "" {
		return nil, newValidationError("password", "password is required")
	}
	if len(newPassword) > maxPasswordBytes {
		return nil, errPasswordTooLong
	}

	var user *model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		codes := s.codeRepo.WithTx(tx)
		users := s.userRepo.WithTx(tx)

		found, err := s.findLiveCode(codes, code, model.PurposeResetPassword)
		if err != nil {
			return err
		}

		hashedPassword, err := s.hashPassword(newPassword)
		if err != nil {
			return err
		}

		affected, err := users.UpdateFields(found.UserID, map[string]interface{}{"password": hashedPassword})
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrUserNotFound
		}

		deleted, err := codes.DeleteByID(found.ID)
		if err != nil {
			return err
		}
		if deleted != 1 {
			return ErrInvalidCode
		}

		user, err = users.FindByID(found.UserID)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCode):
			logger.Warn("Password reset failed: invalid code", nil)
		case errors.Is(err, ErrUserNotFound):
			logger.Warn("Password reset failed: user no longer exists", nil)
		default:
			logger.Error("Failed to reset password", err)
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, user.ID)

	logger.Info("Password reset successful", map[string]interface{}{
		"user_id": user.ID,
		"email":   user.Email,
	})
	return user, nil
}

// issueCode replaces any outstanding code of the same purpose with a new one.
// The user row stays locked until tx ends so concurrent issuers for the same
// user run one after another.
func (s *accountService) issueCode(tx *gorm.DB, userID uint, purpose model.CodePurpose) (string, error) {
	if err := lockUserForUpdate(tx, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	value, err := util.GenerateOneTimeCode()
	if err != nil {
		return "", err
	}
	codes := s.codeRepo.WithTx(tx)
	if _, err := codes.DeleteByUserAndPurpose(userID, purpose); err != nil {
		return "", err
	}
	if err := codes.Create(&model.EmailCode{
		Code:    value,
		UserID:  userID,
		Purpose: purpose,
	}); err != nil {
		return "", err
	}
	return value, nil
}

// lockUserForUpdate takes a row lock on the user. SQLite has no row locks
// and serializes writers on its own.
func lockUserForUpdate(tx *gorm.DB, userID uint) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&model.User{}, userID)
}

func (s *accountService) findLiveCode(codes repository.EmailCodeRepository, value string, purpose model.CodePurpose) (*model.EmailCode, error) {
	if value == "" {
		return nil, ErrInvalidCode
	}
	found, err := codes.FindByCode(value, purpose)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	if found.IsExpired(s.now(), s.codeTTL) {
		return nil, ErrInvalidCode
	}
	return found, nil
}

// consumeCode finds and deletes a live code. Only one caller can win the
// delete, so a code is never spent twice.
func (s *accountService) consumeCode(codes repository.EmailCodeRepository, value string, purpose model.CodePurpose) (*model.EmailCode, error) {
	found, err := s.findLiveCode(codes, value, purpose)
	if err != nil {
		return nil, err
	}
	deleted, err := codes.DeleteByID(found.ID)
	if err != nil {
		return nil, err
	}
	if deleted != 1 {
		return nil, ErrInvalidCode
	}
	return found, nil
}

// sendCodeEmail runs after commit. Delivery failures are logged only; the
// user can request a new code.
func (s *accountService) sendCodeEmail(ctx context.Context, user *model.User, subject string, tmpl *template.Template, link string) {
	body, err := renderEmail(tmpl, user.FirstName, link)
	if err != nil {
		logger.Error("Failed to render email", err, map[string]interface{}{
			"user_id": user.ID,
			"subject": subject,
		})
		return
	}

	if err := s.mailer.Send(ctx, mailer.Message{To: user.Email, Subject: subject, HTML: body}); err != nil {
		logger.Error("Failed to send email", err, map[string]interface{}{
			"user_id": user.ID,
			"subject": subject,
		})
	}
}

// hashPassword rejects input bcrypt would refuse before hashing it.
func (s *accountService) hashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", errPasswordTooLong
	}
	hashed, err := util.HashPasswordWithCost(password, s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", errPasswordTooLong
	}
	return hashed, err
}

func (s *accountService) validateRegisterInput(input RegisterInput) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := jsonFieldName(fe.Field())
		if fe.Tag() == "email" {
			return newValidationError(field, "email is not a valid address")
		}
		return newValidationError(field, field+" is required")
	}
	return newValidationError("", err.Error())
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
