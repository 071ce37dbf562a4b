package models

import (
	"time"

	"github.com/amirphl/phishschool/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the owner profile shared with the authentication provider.
// The engine reads the email address for delivery and bumps NumFished on first clicks.
type User struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_users_uuid" json:"uuid"`
	Email     string     `gorm:"size:255;not null;uniqueIndex:uk_users_email" json:"email"`
	FirstName string     `gorm:"size:255" json:"first_name"`
	LastName  string     `gorm:"size:255" json:"last_name"`
	NumFished int        `gorm:"not null;default:0" json:"num_fished"`
	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UUID == uuid.Nil {
		u.UUID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = utils.UTCNow()
	}
	return nil
}

// DisplayName returns the best human-readable name for greetings
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}
