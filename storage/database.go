package storage

import (
	"context"
	"errors"
	"fmt"
	"log"

	"progression-gate/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate key")
)

// OpenPostgres connects to the production database.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table this service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.InvitationCode{},
		&models.InvitationUse{},
		&models.UserProgress{},
		&models.DailyEXPGrant{},
		&models.BadgeDefinition{},
		&models.UserBadge{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// SeedBadges inserts the default catalog; existing keys are left untouched
// so admin edits survive restarts.
func SeedBadges(ctx context.Context, db *gorm.DB) error {
	defs := make([]models.BadgeDefinition, len(models.DefaultBadges))
	copy(defs, models.DefaultBadges)
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&defs)
	if res.Error != nil {
		return fmt.Errorf("seed badges: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("🎖️ [BADGE] Seeded %d badge definition(s)", res.RowsAffected)
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
