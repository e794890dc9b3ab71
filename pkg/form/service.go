package form

import (
	"context"
	"fmt"
	"os"

	"github.com/fieldscope/collect/pkg/common/logger"
	"gopkg.in/yaml.v3"
)

type Service struct {
	repo  *Repository
	cache *Cache
}

func NewService(repo *Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Resolve returns the definition snapshot governing formCode, cache-first.
func (s *Service) Resolve(ctx context.Context, formCode string) (*FormDefinition, error) {
	if def, ok := s.cache.Get(ctx, formCode); ok {
		return def, nil
	}
	def, err := s.repo.Get(ctx, formCode)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, def)
	return def, nil
}

// Save invalidates the cache entry before the write so no reader can observe
// the old definition after the new one is acknowledged.
func (s *Service) Save(ctx context.Context, def *FormDefinition) error {
	if err := def.Normalize(); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, def.FormCode); err != nil {
		return fmt.Errorf("invalidating form cache: %w", err)
	}
	return s.repo.Save(ctx, def)
}

func (s *Service) Delete(ctx context.Context, formCode string) error {
	if err := s.cache.Invalidate(ctx, formCode); err != nil {
		return fmt.Errorf("invalidating form cache: %w", err)
	}
	return s.repo.Delete(ctx, formCode)
}

func (s *Service) List(ctx context.Context, limit int) ([]FormDefinition, error) {
	return s.repo.List(ctx, limit)
}

// LoadSeed reads form definitions from a YAML fixture file.
func LoadSeed(path string) ([]FormDefinition, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed struct {
		Forms []FormDefinition `yaml:"forms"`
	}
	if err := yaml.Unmarshal(payload, &seed); err != nil {
		return nil, fmt.Errorf("parsing form seed file: %w", err)
	}
	return seed.Forms, nil
}

// Seed saves definitions that are not present yet; existing forms are left
// untouched so runtime edits survive restarts.
func (s *Service) Seed(ctx context.Context, defs []FormDefinition) error {
	for i := range defs {
		def := defs[i]
		if err := def.Normalize(); err != nil {
			return err
		}
		if _, err := s.repo.Get(ctx, def.FormCode); err == nil {
			continue
		}
		if err := s.Save(ctx, &def); err != nil {
			return err
		}
		logger.Log.WithField("form_code", def.FormCode).Info("Seeded form definition")
	}
	return nil
}
