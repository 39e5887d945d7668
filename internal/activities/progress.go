package activities

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inglespareto/credits/pkg/credits"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemoryProgress keeps learning milestones in process memory.
type MemoryProgress struct {
	mutex  sync.Mutex
	events map[string]ProgressEvent
	order  []string
}

// NewMemoryProgress returns an empty recorder.
func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{events: make(map[string]ProgressEvent)}
}

// RecordProgress stores event once per activity id.
func (recorder *MemoryProgress) RecordProgress(ctx context.Context, event ProgressEvent) error {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	if _, exists := recorder.events[event.ActivityID]; exists {
		return nil
	}
	recorder.events[event.ActivityID] = event
	recorder.order = append(recorder.order, event.ActivityID)
	return nil
}

// Events lists a user's milestones in recording order.
func (recorder *MemoryProgress) Events(userID credits.UserID) []ProgressEvent {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	events := make([]ProgressEvent, 0)
	for _, activityID := range recorder.order {
		if event := recorder.events[activityID]; event.UserID == userID {
			events = append(events, event)
		}
	}
	return events
}

// LearningProgress mirrors the learning_progress table.
type LearningProgress struct {
	ActivityID string    `gorm:"size:128;primaryKey"`
	UserID     string    `gorm:"size:128;not null;index:idx_learning_progress_user,priority:1"`
	Kind       string    `gorm:"size:32;not null"`
	ItemID     string    `gorm:"size:128;not null"`
	Score      int       `gorm:"not null;default:0"`
	Passed     bool      `gorm:"not null;default:false"`
	OccurredAt time.Time `gorm:"not null;index:idx_learning_progress_user,priority:2"`
}

func (LearningProgress) TableName() string { return "learning_progress" }

// GormProgress persists milestones next to the credit tables.
type GormProgress struct {
	db *gorm.DB
}

// NewGormProgress wraps db. Call MigrateProgress first.
func NewGormProgress(db *gorm.DB) *GormProgress {
	return &GormProgress{db: db}
}

// MigrateProgress creates the learning_progress table.
func MigrateProgress(db *gorm.DB) error {
	if err := db.AutoMigrate(&LearningProgress{}); err != nil {
		return fmt.Errorf("auto migrate learning progress: %w", err)
	}
	return nil
}

// RecordProgress inserts event; a repeated activity id is ignored so executor retries stay single.
func (recorder *GormProgress) RecordProgress(ctx context.Context, event ProgressEvent) error {
	row := LearningProgress{
		ActivityID: event.ActivityID,
		UserID:     event.UserID.String(),
		Kind:       string(event.Kind),
		ItemID:     event.ItemID,
		Score:      event.Score,
		Passed:     event.Passed,
		OccurredAt: event.OccurredAt.UTC(),
	}
	if err := recorder.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

// Events lists a user's milestones, oldest first.
func (recorder *GormProgress) Events(ctx context.Context, userID credits.UserID) ([]ProgressEvent, error) {
	var rows []LearningProgress
	if err := recorder.db.WithContext(ctx).Where("user_id = ?", userID.String()).Order("occurred_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	events := make([]ProgressEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, ProgressEvent{
			UserID:     userID,
			Kind:       ProgressKind(row.Kind),
			ItemID:     row.ItemID,
			ActivityID: row.ActivityID,
			Score:      row.Score,
			Passed:     row.Passed,
			OccurredAt: row.OccurredAt,
		})
	}
	return events, nil
}
