package submission

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("data record not found")

// DataRecord is the immutable snapshot one successful data submission
// leaves behind. It is created once and never updated; history lives in the
// record stream, not in mutations.
type DataRecord struct {
	ID        string            `json:"id" gorm:"primaryKey;column:id"`
	EntityID  *string           `json:"entity_id,omitempty" gorm:"column:entity_id;index"`
	FormCode  string            `json:"form_code" gorm:"column:form_code;index"`
	Revision  int               `json:"revision" gorm:"column:revision"`
	Values    datatypes.JSONMap `json:"values" gorm:"column:values"`
	EventTime time.Time         `json:"event_time" gorm:"column:event_time"`
	LedgerID  string            `json:"ledger_id" gorm:"column:ledger_id"`
	CreatedAt time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (DataRecord) TableName() string {
	return "data_records"
}

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&DataRecord{})
}

func (r *RecordRepository) Create(ctx context.Context, rec *DataRecord) error {
	rec.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *RecordRepository) Get(ctx context.Context, id string) (*DataRecord, error) {
	var rec DataRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

func (r *RecordRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]DataRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []DataRecord
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("event_time DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
