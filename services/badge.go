package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"progression-gate/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BadgeService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewBadgeService(db *gorm.DB) *BadgeService {
	return &BadgeService{DB: db, Now: time.Now}
}

var badgeKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// DefineBadgeInput: Key is derived from Name when empty.
type DefineBadgeInput struct {
	Key         string
	Name        string
	Description string
	Rarity      string
	MinLevel    int
	IconURL     string
}

// BadgeKeyFor returns the key a definition would get for name.
func BadgeKeyFor(name string) string {
	return slug.Make(name)
}

// Catalog lists all badge definitions.
func (s *BadgeService) Catalog(ctx context.Context) ([]models.BadgeDefinition, error) {
	var defs []models.BadgeDefinition
	if err := s.DB.WithContext(ctx).Order("min_level ASC").Order("key ASC").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("badge.catalog: %w", err)
	}
	return defs, nil
}

// CheckDefinable reports whether Define would accept in, without writing.
// The returned definition carries the resolved key.
func (s *BadgeService) CheckDefinable(ctx context.Context, in DefineBadgeInput) (*models.BadgeDefinition, error) {
	const op = "badge.check"
	def, err := newDefinition(op, in)
	if err != nil {
		return nil, err
	}
	existing, err := s.definition(s.DB.WithContext(ctx), def.Key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		return nil, fail(op, ReasonBadgeExists, def.Key)
	}
	return def, nil
}

// Define adds a badge to the catalog.
func (s *BadgeService) Define(ctx context.Context, in DefineBadgeInput) (*models.BadgeDefinition, error) {
	const op = "badge.define"
	def, err := newDefinition(op, in)
	if err != nil {
		return nil, err
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(def)
	if res.Error != nil {
		return nil, fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fail(op, ReasonBadgeExists, def.Key)
	}
	log.Printf("🎖️ [BADGE] Defined badge %s (%s, min_level=%d)", def.Key, def.Rarity, def.MinLevel)
	return def, nil
}

func newDefinition(op string, in DefineBadgeInput) (*models.BadgeDefinition, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fail(op, ReasonInvalidBadge, "name is required")
	}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		key = BadgeKeyFor(name)
	}
	if !badgeKeyPattern.MatchString(key) {
		return nil, fail(op, ReasonInvalidBadge, fmt.Sprintf("key %q must match %s", key, badgeKeyPattern))
	}
	rarity := in.Rarity
	if rarity == "" {
		rarity = "common"
	}
	if !validRarity(rarity) {
		return nil, fail(op, ReasonInvalidBadge, fmt.Sprintf("unknown rarity %q", rarity))
	}
	if in.MinLevel < 0 || in.MinLevel > MaxLevel {
		return nil, fail(op, ReasonInvalidLevel, fmt.Sprintf("min_level must be within 0..%d", MaxLevel))
	}
	return &models.BadgeDefinition{
		Key:         key,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		IconURL:     in.IconURL,
		Rarity:      rarity,
		MinLevel:    in.MinLevel,
	}, nil
}

func validRarity(r string) bool {
	for _, known := range models.BadgeRarities {
		if r == known {
			return true
		}
	}
	return false
}

func (s *BadgeService) definition(tx *gorm.DB, key string) (*models.BadgeDefinition, error) {
	var def models.BadgeDefinition
	err := tx.Where("key = ?", key).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func badgeMetadata(def *models.BadgeDefinition) datatypes.JSON {
	raw, _ := json.Marshal(map[string]interface{}{
		"name":        def.Name,
		"description": def.Description,
		"rarity":      def.Rarity,
		"icon_url":    def.IconURL,
	})
	return datatypes.JSON(raw)
}

func (s *BadgeService) insert(tx *gorm.DB, userID string, def *models.BadgeDefinition, by string, now time.Time) (*models.UserBadge, error) {
	ub := &models.UserBadge{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
		BadgeKey:       def.Key,
		AwardedAt:      now,
		AwardedBy:      by,
		Metadata:       badgeMetadata(def),
	}
	if err := tx.Omit(clause.Associations).Create(ub).Error; err != nil {
		return nil, err
	}
	ub.Badge = *def
	return ub, nil
}

func (s *BadgeService) holds(tx *gorm.DB, userID, key string) (bool, error) {
	var n int64
	err := tx.Model(&models.UserBadge{}).
		Where("external_user_id = ? AND badge_key = ?", userID, key).
		Count(&n).Error
	return n > 0, err
}

// Award gives userID the badge. The active badge is not changed.
func (s *BadgeService) Award(ctx context.Context, userID, key, awardedBy string) (*models.UserBadge, error) {
	const op = "badge.award"
	var ub *models.UserBadge
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		def, err := s.definition(tx, key)
		if err != nil {
			return err
		}
		if def == nil {
			return fail(op, ReasonUnknownBadge, key)
		}
		if _, err := lockProgress(tx, userID); err != nil {
			return err
		}
		held, err := s.holds(tx, userID, key)
		if err != nil {
			return err
		}
		if held {
			return fail(op, ReasonAlreadyHeld, key)
		}
		ub, err = s.insert(tx, userID, def, awardedBy, s.Now())
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fail(op, ReasonAlreadyHeld, key)
		}
		return err
	})
	if err != nil {
		return nil, wrapUnlessFailure(op, err)
	}
	log.Printf("🎖️ [BADGE] Badge awarded: %s → %s (by %s)", key, userID, awardedBy)
	return ub, nil
}

// Remove takes the badge away. If it was the active badge, the active badge
// is cleared in the same transaction. clearedActive reports that case.
func (s *BadgeService) Remove(ctx context.Context, userID, key string) (clearedActive bool, err error) {
	const op = "badge.remove"
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := lockProgress(tx, userID)
		if err != nil {
			return err
		}
		res := tx.Where("external_user_id = ? AND badge_key = ?", userID, key).Delete(&models.UserBadge{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fail(op, ReasonNotHeld, key)
		}
		if prog.ActiveBadge != nil && *prog.ActiveBadge == key {
			if err := tx.Model(&models.UserProgress{}).
				Where("external_user_id = ?", userID).
				Update("active_badge", nil).Error; err != nil {
				return err
			}
			clearedActive = true
		}
		return nil
	})
	if err != nil {
		return false, wrapUnlessFailure(op, err)
	}
	log.Printf("🎖️ [BADGE] Badge removed: %s ← %s (active cleared=%t)", key, userID, clearedActive)
	return clearedActive, nil
}

// SetActive selects the displayed badge. nil clears it and always succeeds.
func (s *BadgeService) SetActive(ctx context.Context, userID string, key *string) error {
	const op = "badge.set_active"
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockProgress(tx, userID); err != nil {
			return err
		}
		if key != nil {
			held, err := s.holds(tx, userID, *key)
			if err != nil {
				return err
			}
			if !held {
				return fail(op, ReasonNotHeld, *key)
			}
		}
		return tx.Model(&models.UserProgress{}).
			Where("external_user_id = ?", userID).
			Update("active_badge", key).Error
	})
	if err != nil {
		return wrapUnlessFailure(op, err)
	}
	return nil
}

// UserBadges lists held badges with their catalog entries, oldest first.
func (s *BadgeService) UserBadges(ctx context.Context, userID string) ([]models.UserBadge, error) {
	badges := []models.UserBadge{}
	if err := s.DB.WithContext(ctx).
		Preload("Badge").
		Where("external_user_id = ?", userID).
		Order("awarded_at ASC").
		Find(&badges).Error; err != nil {
		return nil, fmt.Errorf("badge.list: %w", err)
	}
	return badges, nil
}

// awardLevelBadges grants every level badge up to level the user lacks.
// Runs inside the caller's transaction with the progress row already locked.
func (s *BadgeService) awardLevelBadges(tx *gorm.DB, userID string, level int, now time.Time) ([]string, error) {
	var defs []models.BadgeDefinition
	if err := tx.Where("min_level > 0 AND min_level <= ?", level).Order("min_level ASC").Find(&defs).Error; err != nil {
		return nil, err
	}
	var awarded []string
	for i := range defs {
		held, err := s.holds(tx, userID, defs[i].Key)
		if err != nil {
			return nil, err
		}
		if held {
			continue
		}
		if _, err := s.insert(tx, userID, &defs[i], "system", now); err != nil {
			return nil, err
		}
		awarded = append(awarded, defs[i].Key)
		log.Printf("🎖️ [BADGE] Level badge awarded: %s → %s", defs[i].Name, userID)
	}
	return awarded, nil
}

func wrapUnlessFailure(op string, err error) error {
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
