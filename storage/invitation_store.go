package storage

import (
	"context"
	"fmt"
	"time"

	"progression-gate/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvitationStore persists invitation codes and their use history.
type InvitationStore struct {
	DB *gorm.DB
}

func NewInvitationStore(db *gorm.DB) *InvitationStore {
	return &InvitationStore{DB: db}
}

// Create inserts all codes or none. ErrDuplicate if any code already exists.
func (s *InvitationStore) Create(ctx context.Context, codes []*models.InvitationCode) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, len(codes))
	for i, c := range codes {
		keys[i] = c.Code
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.InvitationCode{}).Where("code IN ?", keys).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicate
		}
		return translate(tx.Create(&codes).Error)
	})
}

// Get loads one code. withUses preloads the used_by history.
func (s *InvitationStore) Get(ctx context.Context, code string, withUses bool) (*models.InvitationCode, error) {
	q := s.DB.WithContext(ctx)
	if withUses {
		q = q.Preload("Uses", func(db *gorm.DB) *gorm.DB { return db.Order("used_at ASC") })
	}
	var inv models.InvitationCode
	if err := q.Where("code = ?", code).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

// TryConsume records one use of code by userID if the code is consumable at
// now. The returned row reflects the state after the attempt; consumed is
// false when the code could not be used. A userID that already used code
// reports consumed without counting again.
//
// The increment is a conditional UPDATE (use_count < max_uses, not revoked)
// so concurrent callers can never push use_count past max_uses.
func (s *InvitationStore) TryConsume(ctx context.Context, code, userID string, now time.Time) (inv *models.InvitationCode, consumed bool, err error) {
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.InvitationCode
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).First(&row).Error; err != nil {
			return translate(err)
		}

		// a retried consume for the same account succeeds without a second use
		var prior int64
		if err := tx.Model(&models.InvitationUse{}).
			Where("code = ? AND external_user_id = ?", code, userID).
			Count(&prior).Error; err != nil {
			return err
		}
		if prior > 0 {
			inv = &row
			consumed = true
			return nil
		}

		if row.StatusAt(now) != models.InvitationActive {
			inv = &row
			return nil
		}

		res := tx.Model(&models.InvitationCode{}).
			Where("code = ? AND revoked = ? AND use_count < max_uses", code, false).
			Updates(map[string]interface{}{
				"use_count":  gorm.Expr("use_count + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 1 {
			use := models.InvitationUse{
				ID:             uuid.NewString(),
				Code:           code,
				ExternalUserID: userID,
				UsedAt:         now,
			}
			if err := tx.Create(&use).Error; err != nil {
				return err
			}
			consumed = true
		}

		var after models.InvitationCode
		if err := tx.Where("code = ?", code).First(&after).Error; err != nil {
			return translate(err)
		}
		inv = &after
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return inv, consumed, nil
}

// SetRevoked flips the revoked flag. changed is false when the flag already
// had the requested value. ErrNotFound if the code does not exist.
func (s *InvitationStore) SetRevoked(ctx context.Context, code string, revoked bool, now time.Time) (inv *models.InvitationCode, changed bool, err error) {
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"revoked": revoked, "updated_at": now}
		if revoked {
			updates["revoked_at"] = now
		} else {
			updates["revoked_at"] = nil
		}
		res := tx.Model(&models.InvitationCode{}).
			Where("code = ? AND revoked = ?", code, !revoked).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected == 1

		var row models.InvitationCode
		if err := tx.Where("code = ?", code).First(&row).Error; err != nil {
			return translate(err)
		}
		inv = &row
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return inv, changed, nil
}

// InvitationFilter narrows List. A zero Status lists every code.
type InvitationFilter struct {
	Status models.InvitationStatus
	Page   int
	Size   int
}

// List pages through codes, newest first. Status filtering is expressed as
// the same predicate InvitationCode.StatusAt evaluates.
func (s *InvitationStore) List(ctx context.Context, f InvitationFilter, now time.Time) ([]models.InvitationCode, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 || f.Size > 100 {
		f.Size = 20
	}

	q := s.DB.WithContext(ctx).Model(&models.InvitationCode{})
	if f.Status != "" {
		q = whereStatus(q, f.Status, now)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count invitations: %w", err)
	}

	var codes []models.InvitationCode
	if err := q.Order("created_at DESC").Order("code ASC").
		Limit(f.Size).Offset((f.Page - 1) * f.Size).
		Find(&codes).Error; err != nil {
		return nil, 0, fmt.Errorf("list invitations: %w", err)
	}
	return codes, total, nil
}

// CountByStatus returns totals for every status.
func (s *InvitationStore) CountByStatus(ctx context.Context, now time.Time) (map[models.InvitationStatus]int64, error) {
	out := make(map[models.InvitationStatus]int64, len(models.AllInvitationStatuses))
	for _, st := range models.AllInvitationStatuses {
		var n int64
		q := whereStatus(s.DB.WithContext(ctx).Model(&models.InvitationCode{}), st, now)
		if err := q.Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s invitations: %w", st, err)
		}
		out[st] = n
	}
	return out, nil
}

func whereStatus(q *gorm.DB, status models.InvitationStatus, now time.Time) *gorm.DB {
	switch status {
	case models.InvitationRevoked:
		return q.Where("revoked = ?", true)
	case models.InvitationExpired:
		return q.Where("revoked = ? AND expires_at IS NOT NULL AND expires_at <= ?", false, now)
	case models.InvitationExhausted:
		return q.Where("revoked = ? AND (expires_at IS NULL OR expires_at > ?) AND use_count >= max_uses", false, now)
	default:
		return q.Where("revoked = ? AND (expires_at IS NULL OR expires_at > ?) AND use_count < max_uses", false, now)
	}
}
