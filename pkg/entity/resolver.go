package entity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Store is the narrow repository view the resolver needs; *Repository
// satisfies it, tests use an in-memory fake.
type Store interface {
	GetByShortCode(ctx context.Context, entityType, shortCode string) (*Entity, error)
	Create(ctx context.Context, e *Entity) error
	AppendData(ctx context.Context, id string, values map[string]interface{}, eventTime time.Time) error
}

// ResolveInput carries everything the identifier workflow and validation
// pipeline produced about the submission's subject.
type ResolveInput struct {
	EntityType   string
	ShortCode    string
	LocationPath []string
	Geometry     map[string]interface{}
	Registration bool
	Values       map[string]interface{}
	EventTime    time.Time
}

// Resolver looks up or creates the entity a submission is about.
type Resolver struct {
	store        Store
	reporterType string
}

func NewResolver(store Store, reporterType string) *Resolver {
	return &Resolver{store: store, reporterType: models.Fold(reporterType)}
}

// ResolveOrCreate returns the submission's subject. Registration submissions
// construct and persist a new entity (a contact when the type is the
// reporter type). Data submissions only ever fetch: a missing subject is
// ErrEntityNotFound, never a silently manufactured entity.
func (r *Resolver) ResolveOrCreate(ctx context.Context, in ResolveInput) (*Entity, error) {
	if !in.Registration {
		e, err := r.store.GetByShortCode(ctx, in.EntityType, in.ShortCode)
		if err != nil {
			return nil, err
		}
		if err := r.store.AppendData(ctx, e.ID, in.Values, in.EventTime); err != nil {
			return nil, err
		}
		return e, nil
	}

	e := &Entity{
		ID:         uuid.New().String(),
		ShortCode:  models.Fold(in.ShortCode),
		EntityType: models.Fold(in.EntityType),
		IsContact:  models.Fold(in.EntityType) == r.reporterType,
		Geometry:   in.Geometry,
		Data:       datatypes.JSONMap{},
	}
	if len(in.LocationPath) > 0 {
		if doc, err := json.Marshal(in.LocationPath); err == nil {
			e.LocationPath = doc
		}
	}
	e.AppendValues(in.Values, in.EventTime)

	if err := r.store.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
