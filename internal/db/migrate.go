package db

import (
	"fmt"

	"github.com/zulandar/larcrm/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Lead{},
		&models.Conversation{},
		&models.Message{},
		&models.Property{},
		&models.PropertyImage{},
		&models.LeadPropertyMatch{},
		&models.SyncRun{},
		&models.SyncLease{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedUser upserts a staff account keyed by email. The password hash and
// role are overwritten on conflict.
func SeedUser(db *gorm.DB, u *models.User) error {
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "password_hash", "role", "phone", "active", "updated_at"}),
	}).Create(u)
	if result.Error != nil {
		return fmt.Errorf("db: seed user %q: %w", u.Email, result.Error)
	}
	return nil
}
