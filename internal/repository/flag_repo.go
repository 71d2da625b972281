package repository

import (
	"context"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FlagRepository is a key/value store with expiry shared by every process.
type FlagRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewFlagRepository creates a new FlagRepository.
func NewFlagRepository(db *gorm.DB) *FlagRepository {
	return &FlagRepository{db: db, now: time.Now}
}

// Get returns the value of key. Missing and expired flags report ok=false.
func (r *FlagRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var flags []domain.Flag
	if err := r.db.WithContext(ctx).Where("key = ?", key).Limit(1).Find(&flags).Error; err != nil {
		return "", false, err
	}
	if len(flags) == 0 || flags[0].Expired(r.now()) {
		return "", false, nil
	}
	return flags[0].Value, true, nil
}

// Set stores value under key. A zero ttl never expires.
func (r *FlagRepository) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	flag := domain.Flag{Key: key, Value: value}
	if ttl > 0 {
		exp := r.now().Add(ttl).UTC()
		flag.ExpiresAt = &exp
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&flag).Error
}

// Delete removes key. Deleting a missing key is not an error.
func (r *FlagRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.Flag{}).Error
}
