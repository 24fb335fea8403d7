package models

import (
	"time"

	"gorm.io/datatypes"
)

// BadgeDefinition: catalog entry (seeded from DefaultBadges, admins may add more)
type BadgeDefinition struct {
	Key         string    `gorm:"primaryKey;type:varchar(64)" json:"key"` // e.g., "pioneer"
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	IconURL     string    `gorm:"type:text" json:"icon_url,omitempty"`             // R2/CDN URL
	Rarity      string    `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	MinLevel    int       `gorm:"not null;default:0" json:"min_level,omitempty"`   // 0 = never auto-awarded
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// UserBadge: one held badge. (ExternalUserID, BadgeKey) is unique.
type UserBadge struct {
	ID             string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalUserID string         `gorm:"uniqueIndex:idx_user_badge;not null;type:varchar(64)" json:"user_id"`
	BadgeKey       string         `gorm:"uniqueIndex:idx_user_badge;not null;type:varchar(64)" json:"badge_key"`
	AwardedAt      time.Time      `gorm:"not null" json:"awarded_at"`
	AwardedBy      string         `json:"awarded_by,omitempty"` // admin id, or "system" for level badges
	Metadata       datatypes.JSON `json:"metadata,omitempty"`   // snapshot of the catalog entry at award time

	Badge BadgeDefinition `gorm:"foreignKey:BadgeKey;references:Key" json:"badge"`
}

var BadgeRarities = []string{"common", "rare", "epic", "legendary"}

// DefaultBadges seeds the catalog on startup (existing rows are left alone).
var DefaultBadges = []BadgeDefinition{
	{
		Key:         "pioneer",
		Name:        "Pioneer",
		Description: "Joined during the invitation-only period",
		Rarity:      "rare",
	},
	{
		Key:         "creator",
		Name:        "Creator",
		Description: "Reached level 2",
		Rarity:      "common",
		MinLevel:    2,
	},
	{
		Key:         "storyteller",
		Name:        "Storyteller",
		Description: "Reached level 3",
		Rarity:      "common",
		MinLevel:    3,
	},
	{
		Key:         "popular",
		Name:        "Crowd Favourite",
		Description: "Characters loved by the community",
		Rarity:      "epic",
	},
	{
		Key:         "merchant",
		Name:        "Merchant",
		Description: "Sold a character",
		Rarity:      "rare",
	},
	{
		Key:         "legend",
		Name:        "Legend",
		Description: "Reached the highest level",
		Rarity:      "legendary",
		MinLevel:    6,
	},
}
