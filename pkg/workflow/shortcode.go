// Package workflow resolves a submission's identifiers: the short code that
// links it to an entity, and the location/geometry pair for registrations.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldscope/collect/pkg/common/models"
)

// Prober is the repository view the generator needs. entity.Repository
// satisfies it. ShortCodeTaken must count voided entities too: a code is
// reserved forever once assigned.
type Prober interface {
	ShortCodeTaken(ctx context.Context, entityType, shortCode string) (bool, error)
	CountByType(ctx context.Context, entityType string) (int64, error)
}

type ShortCodeGenerator struct {
	probe Prober
}

func NewShortCodeGenerator(probe Prober) *ShortCodeGenerator {
	return &ShortCodeGenerator{probe: probe}
}

// Generate produces the next free short code for an entity type: a
// three-letter prefix from the type name plus an integer suffix starting at
// count+1, probing past collisions. The loop terminates because each
// pre-existing entity can collide at most once.
func (g *ShortCodeGenerator) Generate(ctx context.Context, entityType string) (string, error) {
	prefix := Prefix(entityType)
	count, err := g.probe.CountByType(ctx, entityType)
	if err != nil {
		return "", err
	}

	for offset := count + 1; ; offset++ {
		candidate := fmt.Sprintf("%s%d", prefix, offset)
		taken, err := g.probe.ShortCodeTaken(ctx, entityType, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// Prefix derives the short-code prefix from an entity type name: spaces
// stripped, lower-cased, first three letters.
func Prefix(entityType string) string {
	name := strings.ReplaceAll(models.Fold(entityType), " ", "")
	if len(name) > 3 {
		name = name[:3]
	}
	return name
}
