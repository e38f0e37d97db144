package model

import (
	"time"
)

// CodePurpose tells which flow a one-time code belongs to.
type CodePurpose string

const (
	PurposeVerifyEmail   CodePurpose = "verify_email"
	PurposeResetPassword CodePurpose = "reset_password"
)

// EmailCode is a single-use code mailed to a user. A user holds at most
// one outstanding code per purpose.
type EmailCode struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	Code      string      `gorm:"size:128;not null;uniqueIndex" json:"-"`
	UserID    uint        `gorm:"not null;index:idx_email_codes_user_purpose" json:"userId"`
	Purpose   CodePurpose `gorm:"type:varchar(20);not null;index:idx_email_codes_user_purpose" json:"purpose"`
	CreatedAt time.Time   `gorm:"index" json:"createdAt"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (EmailCode) TableName() string {
	return "email_codes"
}

// IsExpired reports whether the code is older than ttl. A zero ttl never expires.
func (c *EmailCode) IsExpired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.After(c.CreatedAt.Add(ttl))
}
