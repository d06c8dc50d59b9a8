package db

import (
	"zeitgeist/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Round{},
		&models.Prediction{},
		&models.UserStats{},
		&models.EventLogEntry{},
		&models.RoundArchive{},
		&models.PredictionArchive{},
	)
}
