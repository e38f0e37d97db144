package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/account-backend/config"
	"github.com/ikkim/account-backend/internal/app/controller"
	"github.com/ikkim/account-backend/internal/middleware"
)

type Router struct {
	userController   *controller.UserController
	uploadController *controller.UploadController
	authMiddleware   *middleware.AuthMiddleware
	config           *config.Config
}

func NewRouter(
	userController *controller.UserController,
	uploadController *controller.UploadController,
	authMiddleware *middleware.AuthMiddleware,
	cfg *config.Config,
) *Router {
	return &Router{
		userController:   userController,
		uploadController: uploadController,
		authMiddleware:   authMiddleware,
		config:           cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	gin.SetMode(r.config.Server.GinMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware())
	router.Use(corsMiddleware(r.config.CORS.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"message": "Account API is running",
		})
	})

	auth := r.authMiddleware.Authenticate()

	users := router.Group("/users")
	{
		users.POST("", r.userController.Register)
		users.POST("/login", r.userController.Login)
		users.GET("/verify/:code", r.userController.VerifyEmail)
		users.POST("/reset_password", r.userController.RequestPasswordReset)
		users.POST("/reset_password/:code", r.userController.ResetPassword)

		users.GET("", auth, r.userController.List)
		users.GET("/me", auth, r.userController.Me)
		users.GET("/:id", auth, r.userController.Get)
		users.PUT("/:id", auth, r.userController.Update)
		users.DELETE("/:id", auth, r.userController.Delete)
	}

	if r.uploadController != nil {
		uploads := router.Group("/uploads", auth)
		{
			uploads.POST("/profile-image", r.uploadController.PresignProfileImage)
		}
	}

	return router
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin || allowedOrigin == "*" {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
