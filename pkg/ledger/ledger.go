// Package ledger is the append-only audit trail of submission attempts.
// Every inbound message gets an entry before any validation runs; the entry
// is finalized exactly once and never deleted, so a crash leaves a pending
// entry behind as the re-delivery signal.
package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	ErrEntryNotFound = errors.New("ledger entry not found")
	ErrAlreadyFinal  = errors.New("ledger entry already finalized")
)

type Entry struct {
	ID              string            `json:"id" gorm:"primaryKey;column:id"`
	Channel         string            `json:"channel" gorm:"column:channel"`
	Source          string            `json:"source" gorm:"column:source"`
	Destination     string            `json:"destination" gorm:"column:destination"`
	FormCode        string            `json:"form_code" gorm:"column:form_code;index"`
	Revision        int               `json:"revision" gorm:"column:revision"`
	RawValues       datatypes.JSONMap `json:"raw_values" gorm:"column:raw_values"`
	Status          string            `json:"status" gorm:"column:status;index"`
	ErrorText       string            `json:"error_text,omitempty" gorm:"column:error_text"`
	EntityShortCode string            `json:"entity_short_code,omitempty" gorm:"column:entity_short_code"`
	DataRecordID    string            `json:"data_record_id,omitempty" gorm:"column:data_record_id"`
	EventTime       time.Time         `json:"event_time" gorm:"column:event_time"`
	CreatedAt       time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (Entry) TableName() string {
	return "submission_ledger"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Entry{})
}

// Append writes the pending entry at pipeline entry.
func (r *Repository) Append(ctx context.Context, entry *Entry) error {
	entry.Status = StatusPending
	entry.CreatedAt = time.Now().UTC()
	entry.UpdatedAt = entry.CreatedAt
	if entry.EventTime.IsZero() {
		entry.EventTime = entry.CreatedAt
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// Outcome is what finalization records about a terminal pipeline run.
type Outcome struct {
	Status          string
	ErrorText       string
	EntityShortCode string
	DataRecordID    string
}

// Finalize flips a pending entry to its terminal status. The guarded update
// makes the transition exactly-once: a second finalize, or one racing this
// one, hits zero rows and gets ErrAlreadyFinal.
func (r *Repository) Finalize(ctx context.Context, id string, outcome Outcome) error {
	if outcome.Status != StatusSuccess && outcome.Status != StatusFailed {
		return errors.New("finalize requires a terminal status")
	}
	result := r.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"status":            outcome.Status,
			"error_text":        outcome.ErrorText,
			"entity_short_code": outcome.EntityShortCode,
			"data_record_id":    outcome.DataRecordID,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var entry Entry
		if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
			return ErrEntryNotFound
		}
		return ErrAlreadyFinal
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Entry, error) {
	var entry Entry
	result := r.db.WithContext(ctx).First(&entry, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &entry, nil
}

// ListPending returns entries stuck before a terminal status; an external
// retry mechanism replays them.
func (r *Repository) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusPending, cutoff).
		Order("created_at").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *Repository) ListByForm(ctx context.Context, formCode string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("form_code = ?", formCode).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
