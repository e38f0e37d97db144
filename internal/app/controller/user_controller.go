package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/account-backend/internal/app/service"
	apperrors "github.com/ikkim/account-backend/internal/errors"
	"github.com/ikkim/account-backend/internal/middleware"
)

type UserController struct {
	accountService service.AccountService
	userService    service.UserService
}

func NewUserController(accountService service.AccountService, userService service.UserService) *UserController {
	return &UserController{
		accountService: accountService,
		userService:    userService,
	}
}

type RegisterRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,max=72"`
	FirstName    string `json:"firstName" binding:"required,max=100"`
	LastName     string `json:"lastName" binding:"required,max=100"`
	Country      string `json:"country" binding:"max=100"`
	Image        string `json:"image" binding:"max=2048"`
	FrontBaseURL string `json:"frontBaseUrl" binding:"required,url"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type PasswordResetRequest struct {
	Email        string `json:"email" binding:"required,email"`
	FrontBaseURL string `json:"frontBaseUrl" binding:"required,url"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" binding:"required,max=72"`
}

type UpdateUserRequest struct {
	FirstName *string `json:"firstName" binding:"omitempty,max=100"`
	LastName  *string `json:"lastName" binding:"omitempty,max=100"`
	Country   *string `json:"country" binding:"omitempty,max=100"`
	Image     *string `json:"image" binding:"omitempty,max=2048"`
}

// Register creates an unverified account and mails a verification link
// POST /users
func (ctrl *UserController) Register(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid registration request", map[string]interface{}{
			"error": err.Error(),
		})
		respondBindingError(c, err)
		return
	}

	user, err := ctrl.accountService.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Country:   req.Country,
		Image:     req.Image,
	}, req.FrontBaseURL)
	if err != nil {
		respondServiceError(c, err, "register user")
		return
	}

	c.JSON(http.StatusCreated, user)
}

// Login exchanges credentials for a session token
// POST /users/login
func (ctrl *UserController) Login(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid login request", map[string]interface{}{
			"error": err.Error(),
		})
		respondBindingError(c, err)
		return
	}

	result, err := ctrl.accountService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondServiceError(c, err, "login")
		return
	}

	c.JSON(http.StatusOK, result)
}

// VerifyEmail consumes a verification code
// GET /users/verify/:code
func (ctrl *UserController) VerifyEmail(c *gin.Context) {
	user, err := ctrl.accountService.VerifyEmail(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondServiceError(c, err, "verify email")
		return
	}

	c.JSON(http.StatusOK, user)
}

// RequestPasswordReset mails a reset link to a registered address
// POST /users/reset_password
func (ctrl *UserController) RequestPasswordReset(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid password reset request", map[string]interface{}{
			"error": err.Error(),
		})
		respondBindingError(c, err)
		return
	}

	user, err := ctrl.accountService.RequestPasswordReset(c.Request.Context(), req.Email, req.FrontBaseURL)
	if err != nil {
		respondServiceError(c, err, "request password reset")
		return
	}

	c.JSON(http.StatusOK, user)
}

// ResetPassword sets a new password using a reset code
// POST /users/reset_password/:code
func (ctrl *UserController) ResetPassword(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid reset password request", map[string]interface{}{
			"error": err.Error(),
		})
		respondBindingError(c, err)
		return
	}

	user, err := ctrl.accountService.ResetPassword(c.Request.Context(), c.Param("code"), req.Password)
	if err != nil {
		respondServiceError(c, err, "reset password")
		return
	}

	c.JSON(http.StatusOK, user)
}

// List returns every user
// GET /users
func (ctrl *UserController) List(c *gin.Context) {
	users, err := ctrl.userService.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list users")
		return
	}

	c.JSON(http.StatusOK, users)
}

// Me returns the authenticated user
// GET /users/me
func (ctrl *UserController) Me(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		apperrors.Unauthorized(c, "")
		return
	}

	c.JSON(http.StatusOK, user)
}

// Get returns one user
// GET /users/:id
func (ctrl *UserController) Get(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	user, err := ctrl.userService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err, "get user")
		return
	}

	c.JSON(http.StatusOK, user)
}

// Update changes profile fields of a user
// PUT /users/:id
func (ctrl *UserController) Update(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	id, ok := parseUserID(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid update user request", map[string]interface{}{
			"user_id": id,
			"error":   err.Error(),
		})
		respondBindingError(c, err)
		return
	}

	user, err := ctrl.userService.Update(c.Request.Context(), id, service.UpdateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Country:   req.Country,
		Image:     req.Image,
	})
	if err != nil {
		respondServiceError(c, err, "update user")
		return
	}

	c.JSON(http.StatusOK, user)
}

// Delete removes a user and its outstanding codes
// DELETE /users/:id
func (ctrl *UserController) Delete(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	if err := ctrl.userService.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err, "delete user")
		return
	}

	c.Status(http.StatusNoContent)
}

func parseUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		apperrors.BadRequest(c, apperrors.ValidationInvalidID, "User id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}
