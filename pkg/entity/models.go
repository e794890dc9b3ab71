package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Entity is the subject a data record is about: a clinic, a water point, a
// reporter. Data holds the full per-field value history; updates append a
// dated value and never overwrite what was reported before, so time series
// per field stay queryable. Entities are voided, never hard-deleted.
type Entity struct {
	ID           string            `json:"id" gorm:"primaryKey;column:id"`
	ShortCode    string            `json:"short_code" gorm:"column:short_code;uniqueIndex:idx_entities_type_code"`
	EntityType   string            `json:"entity_type" gorm:"column:entity_type;uniqueIndex:idx_entities_type_code"`
	LocationPath datatypes.JSON    `json:"location_path,omitempty" gorm:"column:location_path"`
	Geometry     datatypes.JSONMap `json:"geometry,omitempty" gorm:"column:geometry"`
	Data         datatypes.JSONMap `json:"data" gorm:"column:data"`
	IsContact    bool              `json:"is_contact" gorm:"column:is_contact"`
	Voided       bool              `json:"voided" gorm:"column:voided"`
	CreatedAt    time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (Entity) TableName() string {
	return "entities"
}

// DatedValue is one observation of one field at one point in time.
type DatedValue struct {
	Value     interface{} `json:"value"`
	EventTime time.Time   `json:"event_time"`
}

// AppendValues adds one dated value per field to the entity's history.
func (e *Entity) AppendValues(values map[string]interface{}, eventTime time.Time) {
	if e.Data == nil {
		e.Data = datatypes.JSONMap{}
	}
	for field, value := range values {
		history, _ := e.Data[field].([]interface{})
		history = append(history, map[string]interface{}{
			"value":      value,
			"event_time": eventTime.UTC().Format(time.RFC3339),
		})
		e.Data[field] = history
	}
}

// Latest returns the most recent value recorded for a field.
func (e *Entity) Latest(field string) (interface{}, bool) {
	history, _ := e.Data[field].([]interface{})
	if len(history) == 0 {
		return nil, false
	}
	last, _ := history[len(history)-1].(map[string]interface{})
	if last == nil {
		return nil, false
	}
	return last["value"], true
}
