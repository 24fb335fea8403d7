package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"progression-gate/models"
	"progression-gate/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgressionService struct {
	DB       *gorm.DB
	Counter  storage.DailyCounter
	Badges   *BadgeService
	Location *time.Location // reference timezone for daily caps
	Now      func() time.Time
}

func NewProgressionService(db *gorm.DB, counter storage.DailyCounter, badges *BadgeService, loc *time.Location) *ProgressionService {
	if loc == nil {
		loc = time.UTC
	}
	return &ProgressionService{DB: db, Counter: counter, Badges: badges, Location: loc, Now: time.Now}
}

// AwardResult is what action handlers get back from Award.
type AwardResult struct {
	Action        ActionKey `json:"action"`
	EXPGranted    int64     `json:"exp_granted"`
	NewTotalEXP   int64     `json:"new_total_exp"`
	NewLevel      int       `json:"new_level"`
	LeveledUp     bool      `json:"leveled_up"`
	BadgesAwarded []string  `json:"badges_awarded,omitempty"`
}

// AdminProgressionInput: nil fields are left alone.
type AdminProgressionInput struct {
	Level *int   `json:"level"`
	EXP   *int64 `json:"exp"`
}

type AdminProgressionResult struct {
	Progress      *models.UserProgress `json:"progress"`
	LevelAdjusted bool                 `json:"level_adjusted"` // supplied level disagreed with supplied exp
}

// LevelProgress drives the level-progress widget.
type LevelProgress struct {
	CurrentLevel    int     `json:"current_level"`
	LevelName       string  `json:"level_name"`
	EXP             int64   `json:"exp"`
	EXPInLevel      int64   `json:"exp_in_level"`
	EXPNeeded       int64   `json:"exp_needed"`
	Pct             float64 `json:"pct"`
	MaxLevelReached bool    `json:"max_level_reached"`
	NextLevelName   string  `json:"next_level_name,omitempty"`
}

// DayKey returns the daily-cap bucket for t.
func (s *ProgressionService) DayKey(t time.Time) string {
	return t.In(s.Location).Format("2006-01-02")
}

// lockProgress returns the user's progress row, creating it on first touch,
// and holds a row lock for the rest of tx.
func lockProgress(tx *gorm.DB, userID string) (*models.UserProgress, error) {
	fresh := models.UserProgress{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
		Level:          1,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}},
		DoNothing: true,
	}).Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("ensure progress record for %s: %w", userID, err)
	}

	var prog models.UserProgress
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_user_id = ?", userID).
		First(&prog).Error; err != nil {
		return nil, fmt.Errorf("lock progress record for %s: %w", userID, err)
	}
	return &prog, nil
}

// EnsureProgressRecord ensures a UserProgress row exists (idempotent)
func (s *ProgressionService) EnsureProgressRecord(ctx context.Context, userID string) (*models.UserProgress, error) {
	var prog *models.UserProgress
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		prog, err = lockProgress(tx, userID)
		return err
	})
	return prog, err
}

// Award grants the catalog value of action to userID, subject to the
// action's daily limit. A capped call changes nothing.
func (s *ProgressionService) Award(ctx context.Context, userID string, key ActionKey) (*AwardResult, error) {
	const op = "progression.award"
	action, ok := LookupAction(key)
	if !ok {
		return nil, fail(op, ReasonUnknownAction, string(key))
	}
	if userID == "" {
		return nil, fail(op, ReasonNotFound, "empty user id")
	}

	now := s.Now()
	day := s.DayKey(now)
	grant := storage.GrantKey{UserID: userID, Action: string(key), Day: day}

	var result *AwardResult
	claimed := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := lockProgress(tx, userID)
		if err != nil {
			return err
		}

		ok, err := s.Counter.Claim(ctx, tx, grant, action.DailyLimit)
		if err != nil {
			return err
		}
		if !ok {
			return fail(op, ReasonDailyLimitReached,
				fmt.Sprintf("%s already granted %d time(s) on %s", key, action.DailyLimit, day))
		}
		claimed = true

		oldLevel := prog.Level
		prog.TotalEXP += action.Value
		if prog.DailyEXPDay != day {
			prog.DailyEXPDay = day
			prog.DailyEXPGained = 0
		}
		prog.DailyEXPGained += action.Value
		prog.Level = LevelForEXP(prog.TotalEXP)

		leveledUp := prog.Level > oldLevel
		if leveledUp {
			t := now
			prog.LastLevelUpAt = &t
		}
		if err := tx.Save(prog).Error; err != nil {
			return err
		}

		result = &AwardResult{
			Action:      key,
			EXPGranted:  action.Value,
			NewTotalEXP: prog.TotalEXP,
			NewLevel:    prog.Level,
			LeveledUp:   leveledUp,
		}
		if leveledUp && s.Badges != nil {
			awarded, err := s.Badges.awardLevelBadges(tx, userID, prog.Level, now)
			if err != nil {
				return err
			}
			result.BadgesAwarded = awarded
		}
		return nil
	})
	if err != nil {
		if claimed {
			// the request context may be the reason the transaction failed
			if relErr := s.Counter.Release(context.WithoutCancel(ctx), grant); relErr != nil {
				log.Printf("⚠️ [PROGRESSION] Failed to release grant %s/%s/%s: %v", userID, key, day, relErr)
			}
		}
		var f *Failure
		if errors.As(err, &f) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if result.LeveledUp {
		log.Printf("🎮 [PROGRESSION] %s +%d EXP (%s) → EXP=%d, level up to %d",
			userID, result.EXPGranted, key, result.NewTotalEXP, result.NewLevel)
	} else {
		log.Printf("🎮 [PROGRESSION] %s +%d EXP (%s) → EXP=%d, Lvl=%d",
			userID, result.EXPGranted, key, result.NewTotalEXP, result.NewLevel)
	}
	return result, nil
}

// AdminSetProgression overrides exp and/or level. EXP is the source of
// truth: level is always recomputed from it, and a level-only override moves
// exp to that level's threshold unless exp already falls inside that level. Daily caps are neither checked nor counted.
func (s *ProgressionService) AdminSetProgression(ctx context.Context, userID string, in AdminProgressionInput) (*AdminProgressionResult, error) {
	const op = "progression.admin_set"
	if userID == "" {
		return nil, fail(op, ReasonNotFound, "empty user id")
	}
	if in.Level != nil && (*in.Level < 1 || *in.Level > MaxLevel) {
		return nil, fail(op, ReasonInvalidLevel, fmt.Sprintf("level must be within 1..%d, got %d", MaxLevel, *in.Level))
	}
	if in.EXP != nil && *in.EXP < 0 {
		return nil, fail(op, ReasonInvalidEXP, fmt.Sprintf("exp must be >= 0, got %d", *in.EXP))
	}

	now := s.Now()
	out := &AdminProgressionResult{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := lockProgress(tx, userID)
		if err != nil {
			return err
		}
		oldLevel := prog.Level

		switch {
		case in.EXP != nil:
			prog.TotalEXP = *in.EXP
			prog.Level = LevelForEXP(prog.TotalEXP)
			out.LevelAdjusted = in.Level != nil && *in.Level != prog.Level
		case in.Level != nil:
			// exp already inside the requested level is kept
			if LevelForEXP(prog.TotalEXP) != *in.Level {
				prog.TotalEXP = Threshold(*in.Level)
			}
			prog.Level = *in.Level
		default:
			out.Progress = prog
			return nil
		}

		if prog.Level > oldLevel {
			t := now
			prog.LastLevelUpAt = &t
		}
		if err := tx.Save(prog).Error; err != nil {
			return err
		}
		if prog.Level > oldLevel && s.Badges != nil {
			if _, err := s.Badges.awardLevelBadges(tx, userID, prog.Level, now); err != nil {
				return err
			}
		}
		out.Progress = prog
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Printf("🛠️ [PROGRESSION] Admin override for %s → EXP=%d, Lvl=%d (level_adjusted=%t)",
		userID, out.Progress.TotalEXP, out.Progress.Level, out.LevelAdjusted)
	return out, nil
}

// GetProgress reads the user's record without creating one; users who never
// earned EXP get a zero record.
func (s *ProgressionService) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	err := s.DB.WithContext(ctx).Where("external_user_id = ?", userID).First(&prog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserProgress{ExternalUserID: userID, Level: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("progression.get: %w", err)
	}
	return &prog, nil
}

// ProgressToNextLevel reports how far the user is through their level.
func (s *ProgressionService) ProgressToNextLevel(ctx context.Context, userID string) (*LevelProgress, error) {
	prog, err := s.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ComputeLevelProgress(prog.TotalEXP), nil
}

// ComputeLevelProgress derives the widget numbers from exp alone.
func ComputeLevelProgress(exp int64) *LevelProgress {
	level := LevelForEXP(exp)
	lp := &LevelProgress{
		CurrentLevel: level,
		LevelName:    LevelName(level),
		EXP:          exp,
		EXPInLevel:   exp - Threshold(level),
	}
	if lp.EXPInLevel < 0 {
		lp.EXPInLevel = 0
	}
	if level >= MaxLevel {
		lp.MaxLevelReached = true
		lp.Pct = 100
		return lp
	}

	lp.EXPNeeded = Threshold(level+1) - Threshold(level)
	lp.NextLevelName = LevelName(level + 1)
	pct := float64(lp.EXPInLevel) * 100 / float64(lp.EXPNeeded)
	lp.Pct = math.Min(100, math.Round(pct*10)/10)
	return lp
}

// ProgressSummary is the full view behind GET /s/user/progress.
type ProgressSummary struct {
	UserID         string             `json:"user_id"`
	EXP            int64              `json:"exp"`
	Level          int                `json:"level"`
	LevelName      string             `json:"level_name"`
	Progress       *LevelProgress     `json:"progress"`
	DailyEXPGained int64              `json:"daily_exp_gained"`
	Day            string             `json:"day"`
	GrantsToday    map[string]int     `json:"grants_today"`
	ActiveBadge    *string            `json:"active_badge"`
	Badges         []models.UserBadge `json:"badges"`
	LastLevelUpAt  *time.Time         `json:"last_level_up_at,omitempty"`
	CatalogVersion int                `json:"catalog_version"`
}

func (s *ProgressionService) Summary(ctx context.Context, userID string) (*ProgressSummary, error) {
	prog, err := s.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	day := s.DayKey(s.Now())
	grants, err := s.Counter.Counts(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("progression.summary: %w", err)
	}

	sum := &ProgressSummary{
		UserID:         userID,
		EXP:            prog.TotalEXP,
		Level:          prog.Level,
		LevelName:      LevelName(prog.Level),
		Progress:       ComputeLevelProgress(prog.TotalEXP),
		Day:            day,
		GrantsToday:    grants,
		ActiveBadge:    prog.ActiveBadge,
		LastLevelUpAt:  prog.LastLevelUpAt,
		CatalogVersion: CatalogVersion,
	}
	if prog.DailyEXPDay == day {
		sum.DailyEXPGained = prog.DailyEXPGained
	}
	if s.Badges != nil {
		badges, err := s.Badges.UserBadges(ctx, userID)
		if err != nil {
			return nil, err
		}
		sum.Badges = badges
	}
	return sum, nil
}
