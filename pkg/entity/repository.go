package entity

import (
	"context"
	"errors"
	"time"

	"github.com/fieldscope/collect/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEntityNotFound = errors.New("entity not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Entity{})
}

// GetByShortCode fetches a live entity; voided entities are invisible here.
func (r *Repository) GetByShortCode(ctx context.Context, entityType, shortCode string) (*Entity, error) {
	var e Entity
	result := r.db.WithContext(ctx).
		Where("entity_type = ? AND short_code = ? AND voided = false",
			models.Fold(entityType), models.Fold(shortCode)).
		First(&e)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrEntityNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &e, nil
}

// ShortCodeExists reports whether a live entity holds the code. Satisfies
// form.EntityChecker for the existence validators.
func (r *Repository) ShortCodeExists(ctx context.Context, entityType, shortCode string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Entity{}).
		Where("entity_type = ? AND short_code = ? AND voided = false",
			models.Fold(entityType), models.Fold(shortCode)).
		Count(&count).Error
	return count > 0, err
}

// ShortCodeTaken includes voided entities: a generated code must never reuse
// a code any entity, live or voided, has ever held.
func (r *Repository) ShortCodeTaken(ctx context.Context, entityType, shortCode string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Entity{}).
		Where("entity_type = ? AND short_code = ?",
			models.Fold(entityType), models.Fold(shortCode)).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) CountByType(ctx context.Context, entityType string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Entity{}).
		Where("entity_type = ?", models.Fold(entityType)).
		Count(&count).Error
	return count, err
}

func (r *Repository) Create(ctx context.Context, e *Entity) error {
	e.EntityType = models.Fold(e.EntityType)
	e.ShortCode = models.Fold(e.ShortCode)
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt
	return r.db.WithContext(ctx).Create(e).Error
}

// AppendData appends dated values to the entity's per-field history. The
// read takes a row lock inside the transaction so concurrent appends to the
// same entity serialize instead of overwriting each other's history.
func (r *Repository) AppendData(ctx context.Context, id string, values map[string]interface{}, eventTime time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e Entity
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&e, "id = ?", id)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrEntityNotFound
		}
		if result.Error != nil {
			return result.Error
		}
		e.AppendValues(values, eventTime)
		return tx.Model(&Entity{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"data":       e.Data,
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

// Void logically deletes an entity. Its short code stays reserved.
func (r *Repository) Void(ctx context.Context, entityType, shortCode string) error {
	return r.db.WithContext(ctx).Model(&Entity{}).
		Where("entity_type = ? AND short_code = ?",
			models.Fold(entityType), models.Fold(shortCode)).
		Updates(map[string]interface{}{
			"voided":     true,
			"updated_at": time.Now().UTC(),
		}).Error
}
