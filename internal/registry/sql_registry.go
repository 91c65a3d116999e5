package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"shipwatch/internal/model"
)

// Subscription is the GORM row for one short id.
type Subscription struct {
	ShortID   string `gorm:"primaryKey;size:64"`
	Target    string `gorm:"not null"`
	UpdatedAt time.Time
}

func (Subscription) TableName() string { return "subscriptions" }

// SQLRegistry stores subscriptions in SQLite or Postgres.
type SQLRegistry struct {
	db *gorm.DB
}

// OpenSQL opens dsn: postgres:// or postgresql:// URLs use Postgres,
// anything else is a SQLite path. The schema is migrated on open.
func OpenSQL(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	// Fail early if parent directory does not exist.
	if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	return db, nil
}

// NewSQLRegistry migrates the subscriptions table on db.
func NewSQLRegistry(db *gorm.DB) (*SQLRegistry, error) {
	if err := db.AutoMigrate(&Subscription{}); err != nil {
		return nil, err
	}
	return &SQLRegistry{db: db}, nil
}

func (r *SQLRegistry) Resolve(ctx context.Context, shortID string) (string, bool, error) {
	var rows []Subscription
	res := r.db.WithContext(ctx).Where("short_id = ?", model.ShortID(shortID)).Limit(1).Find(&rows)
	if res.Error != nil {
		return "", false, res.Error
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Target, true, nil
}

func (r *SQLRegistry) Upsert(ctx context.Context, shortID, target string) error {
	id, target, err := normalizeArgs(shortID, target)
	if err != nil {
		return err
	}
	row := Subscription{ShortID: id, Target: target, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "short_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"target", "updated_at"}),
	}).Create(&row).Error
}
