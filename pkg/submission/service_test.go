package submission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/fieldscope/collect/pkg/entity"
	"github.com/fieldscope/collect/pkg/form"
	"github.com/fieldscope/collect/pkg/ledger"
	"github.com/fieldscope/collect/pkg/validation"
	"github.com/fieldscope/collect/pkg/workflow"
	"gorm.io/gorm"
)

// fakeStore backs the whole pipeline in memory: entity store, short-code
// prober and existence checker in one.
type fakeStore struct {
	entities map[string]*entity.Entity
	claimed  map[string]bool
	dupOnce  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: make(map[string]*entity.Entity),
		claimed:  make(map[string]bool),
	}
}

func key(entityType, shortCode string) string {
	return entityType + "/" + shortCode
}

func (f *fakeStore) GetByShortCode(_ context.Context, entityType, shortCode string) (*entity.Entity, error) {
	if e, ok := f.entities[key(entityType, shortCode)]; ok {
		return e, nil
	}
	return nil, entity.ErrEntityNotFound
}

func (f *fakeStore) Create(_ context.Context, e *entity.Entity) error {
	k := key(e.EntityType, e.ShortCode)
	if f.dupOnce {
		// A concurrent registration claims the code between probe and save.
		f.dupOnce = false
		f.claimed[k] = true
		return gorm.ErrDuplicatedKey
	}
	if _, ok := f.entities[k]; ok || f.claimed[k] {
		return gorm.ErrDuplicatedKey
	}
	f.entities[k] = e
	return nil
}

func (f *fakeStore) AppendData(_ context.Context, id string, values map[string]interface{}, eventTime time.Time) error {
	for _, e := range f.entities {
		if e.ID == id {
			e.AppendValues(values, eventTime)
			return nil
		}
	}
	return entity.ErrEntityNotFound
}

func (f *fakeStore) ShortCodeExists(_ context.Context, entityType, shortCode string) (bool, error) {
	_, ok := f.entities[key(entityType, shortCode)]
	return ok, nil
}

func (f *fakeStore) ShortCodeTaken(_ context.Context, entityType, shortCode string) (bool, error) {
	k := key(entityType, shortCode)
	_, ok := f.entities[k]
	return ok || f.claimed[k], nil
}

func (f *fakeStore) CountByType(_ context.Context, entityType string) (int64, error) {
	var n int64
	for k := range f.entities {
		if strings.HasPrefix(k, entityType+"/") {
			n++
		}
	}
	return n, nil
}

type fakeLedger struct {
	entries map[string]*ledger.Entry
	order   []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]*ledger.Entry)}
}

func (f *fakeLedger) Append(_ context.Context, entry *ledger.Entry) error {
	entry.Status = ledger.StatusPending
	f.entries[entry.ID] = entry
	f.order = append(f.order, entry.ID)
	return nil
}

func (f *fakeLedger) Finalize(_ context.Context, id string, outcome ledger.Outcome) error {
	entry, ok := f.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	if entry.Status != ledger.StatusPending {
		return ledger.ErrAlreadyFinal
	}
	entry.Status = outcome.Status
	entry.ErrorText = outcome.ErrorText
	entry.EntityShortCode = outcome.EntityShortCode
	entry.DataRecordID = outcome.DataRecordID
	return nil
}

func (f *fakeLedger) last(t *testing.T) *ledger.Entry {
	t.Helper()
	if len(f.order) == 0 {
		t.Fatal("no ledger entries recorded")
	}
	return f.entries[f.order[len(f.order)-1]]
}

type fakeRecords struct {
	records []*DataRecord
}

func (f *fakeRecords) Create(_ context.Context, rec *DataRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) PublishEvent(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	f.events = append(f.events, eventType)
	return nil
}

type namePathLocations struct {
	calls int
}

func (f *namePathLocations) Resolve(_ context.Context, name, geocode string) (*workflow.ResolvedLocation, error) {
	f.calls++
	name = strings.TrimSpace(name)
	geocode = strings.TrimSpace(geocode)
	if name == "" && geocode == "" {
		return nil, nil
	}
	if geocode != "" {
		if _, err := form.ParseGeocode(geocode); err != nil {
			return nil, err
		}
	}
	return &workflow.ResolvedLocation{Path: []string{models.Fold(name)}}, nil
}

type fakeForms map[string]*form.FormDefinition

func (f fakeForms) Resolve(_ context.Context, formCode string) (*form.FormDefinition, error) {
	if def, ok := f[models.Fold(formCode)]; ok {
		return def, nil
	}
	return nil, form.ErrFormNotFound
}

func testForms(t *testing.T) fakeForms {
	t.Helper()
	reg := &form.FormDefinition{
		FormCode:    "creg",
		Name:        "Clinic registration",
		Revision:    1,
		Kind:        form.KindEntityRegistration,
		EntityTypes: []string{"clinic"},
		Fields: []form.FieldSchema{
			{Code: "n", Name: "Name", Type: form.TypeText, Required: true},
			{Code: "s", Name: "Short code", Type: form.TypeText, EntityLink: true},
			{Code: form.LocationFieldCode, Name: "Location", Type: form.TypeText},
			{Code: form.GeoCodeFieldCode, Name: "GPS", Type: form.TypeGeocode},
		},
		Validators: []form.ValidatorKind{form.ValidatorMandatory, form.ValidatorLocationRequired},
		Active:     true,
	}
	data := &form.FormDefinition{
		FormCode:    "clf1",
		Name:        "Clinic followup",
		Revision:    2,
		Kind:        form.KindData,
		EntityTypes: []string{"clinic"},
		Fields: []form.FieldSchema{
			{Code: "id", Name: "Clinic", Type: form.TypeText, Required: true, EntityLink: true},
			{Code: "beds", Name: "Beds", Type: form.TypeInteger},
			{Code: "l", Name: "Ward label", Type: form.TypeText},
		},
		Validators: []form.ValidatorKind{form.ValidatorMandatory, form.ValidatorIdentifierExists},
		Active:     true,
	}
	retired := &form.FormDefinition{
		FormCode: "old",
		Kind:     form.KindData,
		Fields:   []form.FieldSchema{{Code: "x", Type: form.TypeText}},
		Active:   false,
	}
	forms := fakeForms{}
	for _, def := range []*form.FormDefinition{reg, data, retired} {
		if err := def.Normalize(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		forms[def.FormCode] = def
	}
	return forms
}

type harness struct {
	orch      *Orchestrator
	store     *fakeStore
	audit     *fakeLedger
	records   *fakeRecords
	publisher *fakePublisher
	locations *namePathLocations
}

func newHarness(t *testing.T) *harness {
	store := newFakeStore()
	audit := newFakeLedger()
	records := &fakeRecords{}
	publisher := &fakePublisher{}
	locations := &namePathLocations{}

	orch := NewOrchestrator(OrchestratorDeps{
		Forms:        testForms(t),
		Pipeline:     validation.NewPipeline(store, "reporter"),
		Codes:        workflow.NewShortCodeGenerator(store),
		Locations:    locations,
		Entities:     entity.NewResolver(store, "reporter"),
		Records:      records,
		Ledger:       audit,
		Events:       publisher,
		ReporterType: "reporter",
		CSRFTokenKey: "csrfmiddlewaretoken",
		CodeRetries:  2,
	})
	return &harness{orch: orch, store: store, audit: audit, records: records, publisher: publisher, locations: locations}
}

func TestRegistrationThenDataRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reg, err := h.orch.Process(ctx, models.SubmissionRequest{
		Channel: models.ChannelWeb,
		Source:  "web-ui",
		Values: map[string]interface{}{
			"form_code": "creg",
			"n":         "Clinic A",
			"l":         "Ambohipo",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reg.Success || !reg.IsRegistration {
		t.Fatalf("expected a successful registration, got %+v", reg)
	}
	if reg.ShortCode != "cli1" {
		t.Fatalf("expected generated code cli1, got %q", reg.ShortCode)
	}
	if len(h.records.records) != 0 {
		t.Fatalf("registrations must not create data records, got %d", len(h.records.records))
	}
	if got := h.audit.last(t); got.Status != ledger.StatusSuccess || got.EntityShortCode != "cli1" {
		t.Fatalf("unexpected ledger entry: %+v", got)
	}

	data, err := h.orch.Process(ctx, models.SubmissionRequest{
		Channel: models.ChannelSMS,
		Source:  "+261331234567",
		Text:    "clf1 .id cli1 .beds 12",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !data.Success || data.IsRegistration {
		t.Fatalf("expected a successful data submission, got %+v", data)
	}
	if data.DataRecordID == "" {
		t.Fatal("expected a data record id")
	}

	if len(h.records.records) != 1 {
		t.Fatalf("expected one data record, got %d", len(h.records.records))
	}
	rec := h.records.records[0]
	registered := h.store.entities["clinic/cli1"]
	if rec.EntityID == nil || *rec.EntityID != registered.ID {
		t.Fatalf("record must link the registered entity %s, got %v", registered.ID, rec.EntityID)
	}
	if rec.Values["beds"] != float64(12) {
		t.Fatalf("expected typed beds value, got %#v", rec.Values["beds"])
	}
	if v, _ := registered.Latest("beds"); v != float64(12) {
		t.Fatalf("data values must land in the entity history, got %v", v)
	}
	if got := h.audit.last(t); got.Status != ledger.StatusSuccess || got.DataRecordID != rec.ID {
		t.Fatalf("unexpected ledger entry: %+v", got)
	}
}

func TestInactiveFormIsRejectedAndAudited(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Process(context.Background(), models.SubmissionRequest{
		Channel: models.ChannelSMS,
		Source:  "+261331234567",
		Text:    "old .x hello",
	})
	if !errors.Is(err, form.ErrFormInactive) {
		t.Fatalf("expected ErrFormInactive, got %v", err)
	}
	got := h.audit.last(t)
	if got.Status != ledger.StatusFailed {
		t.Fatalf("expected a failed ledger entry, got %+v", got)
	}
}

func TestUnparseablePayloadIsAudited(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Process(context.Background(), models.SubmissionRequest{
		Channel: models.ChannelSMS,
		Source:  "+261331234567",
		Text:    "garbled",
	})
	if err == nil {
		t.Fatal("expected a parse error")
	}
	got := h.audit.last(t)
	if got.Status != ledger.StatusFailed || got.ErrorText == "" {
		t.Fatalf("rejected payload must leave a failed entry, got %+v", got)
	}
	if got.RawValues["payload"] != "garbled" {
		t.Fatalf("expected the raw payload preserved, got %v", got.RawValues)
	}
}

func TestValidationFailureFinalizesFailed(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Process(context.Background(), models.SubmissionRequest{
		Channel: models.ChannelSMS,
		Source:  "+261331234567",
		Text:    "clf1 .id cli9 .beds nine",
	})
	if err != nil {
		t.Fatalf("validation problems are not errors: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result")
	}
	if _, ok := res.Errors["id"]; !ok {
		t.Fatalf("expected an unknown-identifier error, got %v", res.Errors)
	}
	if _, ok := res.Errors["beds"]; !ok {
		t.Fatalf("expected a type error, got %v", res.Errors)
	}

	got := h.audit.last(t)
	if got.Status != ledger.StatusFailed {
		t.Fatalf("expected a failed ledger entry, got %+v", got)
	}
	if len(h.publisher.events) == 0 || h.publisher.events[len(h.publisher.events)-1] != "submission-rejected" {
		t.Fatalf("expected a rejection event, got %v", h.publisher.events)
	}
}

func TestMalformedGeocodeOnRegistrationIsFieldError(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Process(context.Background(), models.SubmissionRequest{
		Channel: models.ChannelWeb,
		Source:  "web-ui",
		Values: map[string]interface{}{
			"form_code": "creg",
			"n":         "Clinic A",
			"g":         "not a geocode",
		},
	})
	if err != nil {
		t.Fatalf("a bad answer is a field error, not a pipeline failure: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result")
	}
	if _, ok := res.Errors["g"]; !ok {
		t.Fatalf("expected the geocode error keyed by its field code, got %v", res.Errors)
	}
	if got := h.audit.last(t); got.Status != ledger.StatusFailed {
		t.Fatalf("expected a failed ledger entry, got %+v", got)
	}
}

func TestDataFormSkipsLocationResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Process(ctx, models.SubmissionRequest{
		Channel: models.ChannelWeb,
		Source:  "web-ui",
		Values:  map[string]interface{}{"form_code": "creg", "n": "Clinic A", "l": "Ambohipo"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	registrationCalls := h.locations.calls

	// The data form's l-coded field is an ordinary text answer.
	res, err := h.orch.Process(ctx, models.SubmissionRequest{
		Channel: models.ChannelSMS,
		Source:  "+261331234567",
		Text:    "clf1 .id cli1 .beds 3 .l east wing",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Errors)
	}
	if res.CleanedData["l"] != "east wing" {
		t.Fatalf("expected the l answer kept verbatim, got %#v", res.CleanedData["l"])
	}
	if h.locations.calls != registrationCalls {
		t.Fatalf("data submissions must not resolve locations, got %d extra calls", h.locations.calls-registrationCalls)
	}
}

func TestGeneratedCodeCollisionRegenerates(t *testing.T) {
	h := newHarness(t)
	h.store.dupOnce = true

	res, err := h.orch.Process(context.Background(), models.SubmissionRequest{
		Channel: models.ChannelWeb,
		Source:  "web-ui",
		Values: map[string]interface{}{
			"form_code": "creg",
			"n":         "Clinic B",
			"l":         "Analakely",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ShortCode != "cli2" {
		t.Fatalf("expected regenerated code cli2 after the collision, got %q", res.ShortCode)
	}
	if got := h.audit.last(t); got.Status != ledger.StatusSuccess || got.EntityShortCode != "cli2" {
		t.Fatalf("unexpected ledger entry: %+v", got)
	}
}

func TestExplicitShortCodeCollisionFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.Process(ctx, models.SubmissionRequest{
		Channel: models.ChannelWeb,
		Source:  "web-ui",
		Values:  map[string]interface{}{"form_code": "creg", "n": "Clinic A", "l": "Ambohipo"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := h.orch.Process(ctx, models.SubmissionRequest{
		Channel: models.ChannelWeb,
		Source:  "web-ui",
		Values:  map[string]interface{}{"form_code": "creg", "n": "Clinic B", "s": "cli1", "l": "Ambohipo"},
	})
	if !errors.Is(err, ErrShortCodeTaken) {
		t.Fatalf("expected ErrShortCodeTaken, got %v", err)
	}
	if got := h.audit.last(t); got.Status != ledger.StatusFailed {
		t.Fatalf("expected a failed ledger entry, got %+v", got)
	}
}
