package models

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Identity is an authenticatable account, independent of any property.
// It is owned by the identity provider.
type Identity struct {
	BaseModel

	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	Role         string `gorm:"type:varchar(32);not null" json:"role"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PasswordHash string `gorm:"not null" json:"-"`
}

// BeforeSave normalises the email and requires a role.
func (i *Identity) BeforeSave(tx *gorm.DB) error {
	i.Email = NormalizeEmail(i.Email)
	if i.Email == "" {
		return errors.New("identity: email is required")
	}
	i.Role = strings.TrimSpace(i.Role)
	if i.Role == "" {
		return errors.New("identity: role is required")
	}
	i.FirstName = strings.TrimSpace(i.FirstName)
	i.LastName = strings.TrimSpace(i.LastName)
	return nil
}
