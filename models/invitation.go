package models

import (
	"time"
)

// InvitationStatus is derived from an InvitationCode's fields at read time.
// It is never stored.
type InvitationStatus string

const (
	InvitationActive    InvitationStatus = "active"
	InvitationExpired   InvitationStatus = "expired"
	InvitationExhausted InvitationStatus = "exhausted"
	InvitationRevoked   InvitationStatus = "revoked"
)

// AllInvitationStatuses in display order.
var AllInvitationStatuses = []InvitationStatus{
	InvitationActive,
	InvitationExpired,
	InvitationExhausted,
	InvitationRevoked,
}

func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationActive, InvitationExpired, InvitationExhausted, InvitationRevoked:
		return true
	}
	return false
}

// InvitationCode gates account registration. Rows are never deleted.
type InvitationCode struct {
	Code      string     `gorm:"primaryKey;type:varchar(64)" json:"code"`
	MaxUses   int        `gorm:"not null;default:1" json:"max_uses"`
	UseCount  int        `gorm:"not null;default:0" json:"use_count"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	Notes     string     `gorm:"type:text" json:"notes"`
	Revoked   bool       `gorm:"not null;default:false;index" json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedBy string     `gorm:"index" json:"created_by,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Uses []InvitationUse `gorm:"foreignKey:Code;references:Code" json:"used_by,omitempty"`
}

// StatusAt evaluates the code's status at the given instant.
// Revoked dominates, then expiry, then exhaustion.
func (c *InvitationCode) StatusAt(now time.Time) InvitationStatus {
	switch {
	case c.Revoked:
		return InvitationRevoked
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		return InvitationExpired
	case c.UseCount >= c.MaxUses:
		return InvitationExhausted
	default:
		return InvitationActive
	}
}

// RemainingUses never goes negative.
func (c *InvitationCode) RemainingUses() int {
	if c.UseCount >= c.MaxUses {
		return 0
	}
	return c.MaxUses - c.UseCount
}

// InvitationUse records one successful consumption (the code's used_by set).
type InvitationUse struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"-"`
	Code           string    `gorm:"uniqueIndex:idx_invitation_use;not null;type:varchar(64)" json:"-"`
	ExternalUserID string    `gorm:"uniqueIndex:idx_invitation_use;index;not null;type:varchar(64)" json:"user_id"`
	UsedAt         time.Time `gorm:"not null" json:"used_at"`
}
