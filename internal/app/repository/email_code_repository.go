package repository

import (
	"time"

	"github.com/ikkim/account-backend/internal/app/model"
	"github.com/ikkim/account-backend/pkg/logger"
	"gorm.io/gorm"
)

type EmailCodeRepository interface {
	Create(code *model.EmailCode) error
	FindByCode(code string, purpose model.CodePurpose) (*model.EmailCode, error)
	FindByUser(userID uint) ([]model.EmailCode, error)
	DeleteByID(id uint) (int64, error)
	DeleteByUserAndPurpose(userID uint, purpose model.CodePurpose) (int64, error)
	DeleteCreatedBefore(cutoff time.Time) (int64, error)
	WithTx(tx *gorm.DB) EmailCodeRepository
}

type emailCodeRepository struct {
	db *gorm.DB
}

func NewEmailCodeRepository(db *gorm.DB) EmailCodeRepository {
	return &emailCodeRepository{db: db}
}

func (r *emailCodeRepository) WithTx(tx *gorm.DB) EmailCodeRepository {
	return &emailCodeRepository{db: tx}
}

func (r *emailCodeRepository) Create(code *model.EmailCode) error {
	logger.Debug("Creating email code in database", map[string]interface{}{
		"user_id": code.UserID,
		"purpose": code.Purpose,
	})

	if err := r.db.Create(code).Error; err != nil {
		logger.Error("Failed to create email code in database", err, map[string]interface{}{
			"user_id": code.UserID,
			"purpose": code.Purpose,
		})
		return err
	}

	logger.Debug("Email code created in database", map[string]interface{}{
		"id":      code.ID,
		"user_id": code.UserID,
	})
	return nil
}

func (r *emailCodeRepository) FindByCode(code string, purpose model.CodePurpose) (*model.EmailCode, error) {
	logger.Debug("Finding email code in database", map[string]interface{}{
		"purpose": purpose,
	})

	var found model.EmailCode
	if err := r.db.Where("code = ? AND purpose = ?", code, purpose).First(&found).Error; err != nil {
		logger.Debug("Email code not found in database", map[string]interface{}{
			"purpose": purpose,
			"error":   err.Error(),
		})
		return nil, err
	}

	logger.Debug("Email code found in database", map[string]interface{}{
		"id":      found.ID,
		"user_id": found.UserID,
	})
	return &found, nil
}

func (r *emailCodeRepository) FindByUser(userID uint) ([]model.EmailCode, error) {
	var codes []model.EmailCode
	if err := r.db.Where("user_id = ?", userID).Order("id ASC").Find(&codes).Error; err != nil {
		logger.Error("Failed to list email codes in database", err, map[string]interface{}{
			"user_id": userID,
		})
		return nil, err
	}
	return codes, nil
}

func (r *emailCodeRepository) DeleteByID(id uint) (int64, error) {
	result := r.db.Delete(&model.EmailCode{}, id)
	if result.Error != nil {
		logger.Error("Failed to delete email code from database", result.Error, map[string]interface{}{
			"id": id,
		})
		return 0, result.Error
	}

	logger.Debug("Email code deleted from database", map[string]interface{}{
		"id":    id,
		"count": result.RowsAffected,
	})
	return result.RowsAffected, nil
}

func (r *emailCodeRepository) DeleteByUserAndPurpose(userID uint, purpose model.CodePurpose) (int64, error) {
	result := r.db.Where("user_id = ? AND purpose = ?", userID, purpose).Delete(&model.EmailCode{})
	if result.Error != nil {
		logger.Error("Failed to delete outstanding email codes", result.Error, map[string]interface{}{
			"user_id": userID,
			"purpose": purpose,
		})
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		logger.Debug("Outstanding email codes invalidated", map[string]interface{}{
			"user_id": userID,
			"purpose": purpose,
			"count":   result.RowsAffected,
		})
	}
	return result.RowsAffected, nil
}

func (r *emailCodeRepository) DeleteCreatedBefore(cutoff time.Time) (int64, error) {
	logger.Debug("Deleting expired email codes from database", map[string]interface{}{
		"cutoff": cutoff,
	})

	result := r.db.Where("created_at < ?", cutoff).Delete(&model.EmailCode{})
	if result.Error != nil {
		logger.Error("Failed to delete expired email codes from database", result.Error)
		return 0, result.Error
	}

	logger.Debug("Expired email codes deleted from database", map[string]interface{}{
		"count": result.RowsAffected,
	})
	return result.RowsAffected, nil
}
