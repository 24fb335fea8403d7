package models

import (
	"time"

	"gorm.io/gorm"
)

// UserProgress is the per-user EXP, level and active badge record.
// Level is kept equal to the level implied by TotalEXP on every write path.
type UserProgress struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null;type:varchar(64)" json:"external_user_id"` // links to profile service

	TotalEXP int64 `json:"exp" gorm:"column:total_exp;not null;default:0"`
	Level    int   `json:"level" gorm:"not null;default:1"`

	// EXP granted during DailyEXPDay (reference timezone, YYYY-MM-DD).
	DailyEXPGained int64  `json:"daily_exp_gained" gorm:"column:daily_exp_gained;not null;default:0"`
	DailyEXPDay    string `json:"daily_exp_day" gorm:"column:daily_exp_day;type:varchar(10)"`

	ActiveBadge *string `json:"active_badge" gorm:"type:varchar(64)"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// DailyEXPGrant counts EXP grants for one (user, action, day) bucket.
type DailyEXPGrant struct {
	ExternalUserID string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Action         string    `gorm:"primaryKey;type:varchar(64)" json:"action"`
	Day            string    `gorm:"primaryKey;type:varchar(10);index" json:"day"`
	Grants         int       `gorm:"not null;default:0" json:"grants"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
