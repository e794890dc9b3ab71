package entity

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memStore serializes appends the way the repository's row lock does.
type memStore struct {
	mu       sync.Mutex
	entities map[string]*Entity // entityType/shortCode
}

func newMemStore() *memStore {
	return &memStore{entities: make(map[string]*Entity)}
}

func (m *memStore) GetByShortCode(_ context.Context, entityType, shortCode string) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entities[entityType+"/"+shortCode]; ok {
		return e, nil
	}
	return nil, ErrEntityNotFound
}

func (m *memStore) Create(_ context.Context, e *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.EntityType+"/"+e.ShortCode] = e
	return nil
}

func (m *memStore) AppendData(_ context.Context, id string, values map[string]interface{}, eventTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if e.ID == id {
			e.AppendValues(values, eventTime)
			return nil
		}
	}
	return ErrEntityNotFound
}

func TestResolveRegistrationCreatesEntity(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, "reporter")

	e, err := r.ResolveOrCreate(context.Background(), ResolveInput{
		EntityType:   "Clinic",
		ShortCode:    "CLI1",
		LocationPath: []string{"madagascar", "antananarivo"},
		Registration: true,
		Values:       map[string]interface{}{"n": "Clinic A"},
		EventTime:    time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected a generated entity id")
	}
	if e.ShortCode != "cli1" || e.EntityType != "clinic" {
		t.Fatalf("codes must be folded, got %q/%q", e.EntityType, e.ShortCode)
	}
	if e.IsContact {
		t.Fatal("a clinic is not a contact")
	}
	if v, ok := e.Latest("n"); !ok || v != "Clinic A" {
		t.Fatalf("expected registered name in history, got %v", v)
	}
	if _, err := store.GetByShortCode(context.Background(), "clinic", "cli1"); err != nil {
		t.Fatalf("entity should be persisted: %v", err)
	}
}

func TestResolveReporterRegistrationIsContact(t *testing.T) {
	r := NewResolver(newMemStore(), "reporter")

	e, err := r.ResolveOrCreate(context.Background(), ResolveInput{
		EntityType:   "Reporter",
		ShortCode:    "rep1",
		Registration: true,
		Values:       map[string]interface{}{"m": "+261331234567"},
		EventTime:    time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.IsContact {
		t.Fatal("reporter registrations must be contacts")
	}
}

func TestResolveDataSubmissionRequiresExistingEntity(t *testing.T) {
	r := NewResolver(newMemStore(), "reporter")

	_, err := r.ResolveOrCreate(context.Background(), ResolveInput{
		EntityType: "clinic",
		ShortCode:  "cli9",
		Values:     map[string]interface{}{"beds": float64(4)},
		EventTime:  time.Now(),
	})
	if err != ErrEntityNotFound {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestConcurrentAppendsAllLandInHistory(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, "reporter")

	if _, err := r.ResolveOrCreate(context.Background(), ResolveInput{
		EntityType:   "clinic",
		ShortCode:    "cli1",
		Registration: true,
		Values:       map[string]interface{}{"beds": float64(4)},
		EventTime:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const appends = 8
	var wg sync.WaitGroup
	errs := make(chan error, appends)
	for i := 0; i < appends; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := r.ResolveOrCreate(context.Background(), ResolveInput{
				EntityType: "clinic",
				ShortCode:  "cli1",
				Values:     map[string]interface{}{"beds": float64(n)},
				EventTime:  time.Date(2024, 3, 2, n, 0, 0, 0, time.UTC),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	e, err := store.GetByShortCode(context.Background(), "clinic", "cli1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	history, _ := e.Data["beds"].([]interface{})
	if len(history) != appends+1 {
		t.Fatalf("expected every append retained, got %d of %d", len(history), appends+1)
	}
}

func TestResolveDataSubmissionAppendsHistory(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, "reporter")

	reg, err := r.ResolveOrCreate(context.Background(), ResolveInput{
		EntityType:   "clinic",
		ShortCode:    "cli1",
		Registration: true,
		Values:       map[string]interface{}{"beds": float64(4)},
		EventTime:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.ResolveOrCreate(context.Background(), ResolveInput{
		EntityType: "clinic",
		ShortCode:  "cli1",
		Values:     map[string]interface{}{"beds": float64(7)},
		EventTime:  time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != reg.ID {
		t.Fatalf("data submission must resolve to the registered entity, got %s want %s", got.ID, reg.ID)
	}

	history, _ := got.Data["beds"].([]interface{})
	if len(history) != 2 {
		t.Fatalf("expected two dated observations, got %d", len(history))
	}
	if v, _ := got.Latest("beds"); v != float64(7) {
		t.Fatalf("latest value should be the newest observation, got %v", v)
	}
}
