package models

import (
	"time"
)

type Account struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"           json:"id"`
	Username   string `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Name       string `gorm:"type:varchar(255)"                     json:"name"`
	Email      string `gorm:"type:varchar(255)"                     json:"email"`
	IsAdmin    bool   `gorm:"not null;default:false"                json:"is_admin"`
	IsLDAPUser bool   `gorm:"column:is_ldap_user;not null;default:false" json:"is_ldap_user"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDirectoryManaged returns true if the account was provisioned from the
// directory and may therefore log in through it.
func (a *Account) IsDirectoryManaged() bool {
	return a.IsLDAPUser
}
