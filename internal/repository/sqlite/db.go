// Package sqlite is the embedded store used for single-node deployments and
// local development (STORE_DRIVER=sqlite). It is built on GORM.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type jobModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	Type            string `gorm:"not null"`
	ImageID         string `gorm:"not null"`
	Status          string `gorm:"not null;index:idx_jobs_status_updated,priority:1"`
	DetectionsCount *int
	Error           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index:idx_jobs_status_updated,priority:2"`
}

func (jobModel) TableName() string { return "jobs" }

type resultModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	JobID      string `gorm:"size:36;not null;uniqueIndex"`
	ImageID    string `gorm:"not null;index:idx_results_image,priority:1"`
	Type       string `gorm:"not null;index:idx_results_image,priority:2"`
	Detections []byte `gorm:"not null"`
	CreatedAt  time.Time
}

func (resultModel) TableName() string { return "detection_results" }

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlitedriver.Open(path), &gorm.Config{
		TranslateError: true,
		Logger: logger.New(slog.NewLogLogger(slog.Default().Handler().WithAttrs([]slog.Attr{slog.String("component", "gorm")}), slog.LevelWarn), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// один writer: sqlite сериализует записи, а :memory: живёт только в одном соединении
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&jobModel{}, &resultModel{})
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
