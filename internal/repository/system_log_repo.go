package repository

import (
	"context"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"gorm.io/gorm"
)

// SystemLogRepository persists operator-facing events.
type SystemLogRepository struct {
	db *gorm.DB
}

// NewSystemLogRepository creates a new SystemLogRepository.
func NewSystemLogRepository(db *gorm.DB) *SystemLogRepository {
	return &SystemLogRepository{db: db}
}

// Record inserts one event.
func (r *SystemLogRepository) Record(ctx context.Context, entry *domain.SystemLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// CountByLevel counts events per level created in [from, to).
func (r *SystemLogRepository) CountByLevel(ctx context.Context, from, to time.Time) (map[domain.LogLevel]int64, error) {
	var rows []struct {
		Level domain.LogLevel
		Count int64
	}
	err := r.db.WithContext(ctx).Model(&domain.SystemLog{}).
		Select("level, COUNT(*) AS count").
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Group("level").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.LogLevel]int64, len(rows))
	for _, row := range rows {
		counts[row.Level] = row.Count
	}
	return counts, nil
}
