package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/ikkim/account-backend/internal/errors"
	"github.com/ikkim/account-backend/internal/middleware"
	"github.com/ikkim/account-backend/internal/storage"
)

// ProfileImagePresigner issues upload URLs for profile pictures.
type ProfileImagePresigner interface {
	PresignProfileImage(ctx context.Context, filename, contentType string) (*storage.PresignedURLResponse, error)
}

type UploadController struct {
	storage ProfileImagePresigner
}

func NewUploadController(storage ProfileImagePresigner) *UploadController {
	return &UploadController{
		storage: storage,
	}
}

type PresignProfileImageRequest struct {
	Filename    string `json:"filename" binding:"required,max=255"`
	ContentType string `json:"contentType" binding:"required"`
}

// PresignProfileImage returns a presigned PUT URL; the fileUrl is what
// clients send back as "image" on register or update.
// POST /uploads/profile-image
func (ctrl *UploadController) PresignProfileImage(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var req PresignProfileImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid presigned URL request", map[string]interface{}{
			"error": err.Error(),
		})
		respondBindingError(c, err)
		return
	}

	userID, _ := middleware.GetUserID(c)

	response, err := ctrl.storage.PresignProfileImage(c.Request.Context(), req.Filename, req.ContentType)
	if err != nil {
		if errors.Is(err, storage.ErrContentTypeNotAllowed) {
			log.Warn("Invalid content type", map[string]interface{}{
				"content_type": req.ContentType,
			})
			apperrors.BadRequest(c, apperrors.FileInvalidType, "Only image files are allowed (JPEG, PNG, GIF, WEBP)")
			return
		}
		log.Error("Failed to generate presigned URL", err, map[string]interface{}{
			"user_id":      userID,
			"content_type": req.ContentType,
		})
		apperrors.RespondWithError(c, http.StatusInternalServerError, apperrors.FileUploadFailed, "Failed to prepare the upload")
		return
	}

	log.Info("Presigned URL generated successfully", map[string]interface{}{
		"user_id": userID,
		"key":     response.Key,
	})

	c.JSON(http.StatusOK, response)
}
