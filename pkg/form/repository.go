package form

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fieldscope/collect/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Record is the persisted shape of one form definition. The full definition
// is stored as a JSON document; FormCode and Revision are lifted out for
// indexed lookups.
type Record struct {
	FormCode   string         `gorm:"primaryKey;column:form_code"`
	Revision   int            `gorm:"column:revision"`
	Active     bool           `gorm:"column:active"`
	Definition datatypes.JSON `gorm:"column:definition"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (Record) TableName() string {
	return "form_definitions"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{})
}

func (r *Repository) Get(ctx context.Context, formCode string) (*FormDefinition, error) {
	var rec Record
	result := r.db.WithContext(ctx).First(&rec, "form_code = ?", models.Fold(formCode))
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrFormNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	var def FormDefinition
	if err := json.Unmarshal(rec.Definition, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Save upserts a definition, bumping its revision past the stored one. The
// caller (the service) has already invalidated the cache entry.
func (r *Repository) Save(ctx context.Context, def *FormDefinition) error {
	if err := def.Normalize(); err != nil {
		return err
	}

	var existing Record
	result := r.db.WithContext(ctx).First(&existing, "form_code = ?", def.FormCode)
	switch {
	case errors.Is(result.Error, gorm.ErrRecordNotFound):
		if def.Revision == 0 {
			def.Revision = 1
		}
	case result.Error != nil:
		return result.Error
	default:
		def.Revision = existing.Revision + 1
	}

	doc, err := json.Marshal(def)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec := Record{
		FormCode:   def.FormCode,
		Revision:   def.Revision,
		Active:     def.Active,
		Definition: doc,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if result.Error == nil {
		rec.CreatedAt = existing.CreatedAt
		return r.db.WithContext(ctx).Model(&Record{}).
			Where("form_code = ?", def.FormCode).
			Updates(map[string]interface{}{
				"revision":   rec.Revision,
				"active":     rec.Active,
				"definition": rec.Definition,
				"updated_at": rec.UpdatedAt,
			}).Error
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *Repository) Delete(ctx context.Context, formCode string) error {
	return r.db.WithContext(ctx).Delete(&Record{}, "form_code = ?", models.Fold(formCode)).Error
}

func (r *Repository) List(ctx context.Context, limit int) ([]FormDefinition, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []Record
	if err := r.db.WithContext(ctx).Order("form_code").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]FormDefinition, 0, len(recs))
	for _, rec := range recs {
		var def FormDefinition
		if err := json.Unmarshal(rec.Definition, &def); err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}
