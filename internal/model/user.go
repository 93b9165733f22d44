package model

import (
	"time"

	"gorm.io/gorm"
)

// Service tiers. The admission controller keys its limit table on these.
const (
	TierFree         = "free"
	TierBasic        = "basic"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

// User is an account that owns devices and geofences. Accounts are created
// by the external auth subsystem; this service only reads them. Deactivated
// users keep their rows (soft delete).
type User struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Email     string         `json:"email" gorm:"uniqueIndex;size:255"`
	Tier      string         `json:"tier" gorm:"size:20;not null;default:free"`
	APIKey    string         `json:"-" gorm:"column:api_key;uniqueIndex;size:64"`
	Active    bool           `json:"active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
