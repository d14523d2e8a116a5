package database

import (
	"errors"
	"time"

	"github.com/leadscout/leadscout/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillClassificationMethod = "2026-07-14_backfill_classification_method"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillClassificationMethod, apply: backfillClassificationMethod},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Posts stored before classification provenance tracking carry no method tag;
// they all came from the language-model-only path.
func backfillClassificationMethod(db *gorm.DB) error {
	return db.Model(&posts.Post{}).
		Where("classification_method = ''").
		Update("classification_method", posts.MethodLLM).Error
}
