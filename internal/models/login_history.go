package models

import (
	"time"
)

// UserAgentMaxLength is the longest user agent stored in a login history row.
const UserAgentMaxLength = 255

// LoginHistory records one successful login. Rows are immutable.
type LoginHistory struct {
	ID        uint   `gorm:"primaryKey"                    json:"id"`
	AuthType  string `gorm:"type:varchar(25);not null"     json:"auth_type"`
	AccountID string `gorm:"type:varchar(36);index;not null" json:"account_id"`
	IPAddress string `gorm:"type:varchar(45)"              json:"ip_address"` // Support IPv6
	UserAgent string `gorm:"type:varchar(255)"             json:"user_agent"`

	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

// TableName specifies the table name for GORM
func (LoginHistory) TableName() string {
	return "login_history"
}
