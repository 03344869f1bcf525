package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is one row of the origin-scoped local storage table
type Entry struct {
	Origin    string    `gorm:"primaryKey;type:varchar(255)"`
	Name      string    `gorm:"primaryKey;type:varchar(64)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName keeps the browser's name for this kind of storage
func (Entry) TableName() string {
	return "local_storage"
}

// SQLiteStore persists the credential in a SQLite key-value table
type SQLiteStore struct {
	db     *gorm.DB
	origin string
}

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(path, origin string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate storage database: %w", err)
	}

	return &SQLiteStore{db: db, origin: origin}, nil
}

func (s *SQLiteStore) Get() (string, error) {
	var entry Entry
	err := s.db.Where("origin = ? AND name = ?", s.origin, Key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if entry.Value == "" {
		return "", ErrNoCredential
	}
	return entry.Value, nil
}

func (s *SQLiteStore) Set(token string) error {
	entry := Entry{Origin: s.origin, Name: Key, Value: token}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "origin"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	err := s.db.Where("origin = ? AND name = ?", s.origin, Key).Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
