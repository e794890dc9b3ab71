package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldscope/collect/pkg/common/logger"
	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/fieldscope/collect/pkg/entity"
	"github.com/fieldscope/collect/pkg/form"
	"github.com/fieldscope/collect/pkg/ledger"
	"github.com/fieldscope/collect/pkg/parser"
	"github.com/fieldscope/collect/pkg/validation"
	"github.com/fieldscope/collect/pkg/workflow"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrShortCodeTaken surfaces a short-code collision that survived the
// bounded regeneration loop, e.g. two concurrent registrations of the same
// type.
var ErrShortCodeTaken = errors.New("short code already taken")

// Ledger is the audit trail the orchestrator writes to; *ledger.Repository
// satisfies it.
type Ledger interface {
	Append(ctx context.Context, entry *ledger.Entry) error
	Finalize(ctx context.Context, id string, outcome ledger.Outcome) error
}

// EntityResolver looks up or creates the submission's subject;
// *entity.Resolver satisfies it.
type EntityResolver interface {
	ResolveOrCreate(ctx context.Context, in entity.ResolveInput) (*entity.Entity, error)
}

// RecordStore persists data records; *RecordRepository satisfies it.
type RecordStore interface {
	Create(ctx context.Context, rec *DataRecord) error
}

// CodeGenerator produces fresh short codes; *workflow.ShortCodeGenerator
// satisfies it.
type CodeGenerator interface {
	Generate(ctx context.Context, entityType string) (string, error)
}

// LocationWorkflow resolves location answers; *workflow.LocationResolver
// satisfies it.
type LocationWorkflow interface {
	Resolve(ctx context.Context, locationName, geocodeText string) (*workflow.ResolvedLocation, error)
}

// Publisher emits submission outcome events; *kafka.Producer satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// Orchestrator runs the whole pipeline for one inbound message: parse,
// ledger entry, identifier workflow, validation, entity resolution, record
// persistence, ledger finalization. Each run is independent; there is no
// shared state between messages beyond the form cache.
type Orchestrator struct {
	keyed     *parser.KeyedTextParser
	ordered   *parser.OrderedTextParser
	keyValue  *parser.KeyValueParser
	tabular   *parser.TabularParser
	xform     *parser.StructuredXmlParser
	pipeline  *validation.Pipeline
	codes     CodeGenerator
	locations LocationWorkflow
	entities  EntityResolver
	records   RecordStore
	audit     Ledger
	events    Publisher

	reporterType string
	codeRetries  int
}

type OrchestratorDeps struct {
	Forms        parser.DefinitionSource
	Pipeline     *validation.Pipeline
	Codes        CodeGenerator
	Locations    LocationWorkflow
	Entities     EntityResolver
	Records      RecordStore
	Ledger       Ledger
	Events       Publisher
	ReporterType string
	PollFormCode string
	CSRFTokenKey string
	CodeRetries  int
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	retries := deps.CodeRetries
	if retries <= 0 {
		retries = 3
	}
	return &Orchestrator{
		keyed:        parser.NewKeyedTextParser(deps.Forms),
		ordered:      parser.NewOrderedTextParser(deps.Forms, deps.PollFormCode),
		keyValue:     parser.NewKeyValueParser(deps.Forms, deps.CSRFTokenKey),
		tabular:      parser.NewTabularParser(deps.Forms),
		xform:        parser.NewStructuredXmlParser(deps.Forms),
		pipeline:     deps.Pipeline,
		codes:        deps.Codes,
		locations:    deps.Locations,
		entities:     deps.Entities,
		records:      deps.Records,
		audit:        deps.Ledger,
		events:       deps.Events,
		reporterType: deps.ReporterType,
		codeRetries:  retries,
	}
}

// Process runs one submission end to end. Validation problems come back as a
// failure Result with a populated error map, not as a Go error; parse,
// form-resolution and persistence failures are errors, but every path —
// including those — leaves a finalized ledger entry behind.
func (o *Orchestrator) Process(ctx context.Context, req models.SubmissionRequest) (*models.Result, error) {
	parsed, err := o.parse(ctx, req)
	if err != nil {
		o.auditRejectedPayload(ctx, req, err)
		return nil, err
	}
	def := parsed.Def

	entry := &ledger.Entry{
		ID:          uuid.New().String(),
		Channel:     req.Channel,
		Source:      req.Source,
		Destination: req.Destination,
		FormCode:    parsed.FormCode,
		Revision:    def.Revision,
		RawValues:   rawValues(parsed),
		EventTime:   eventTime(req),
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("writing ledger entry: %w", err)
	}

	if !def.Active {
		o.finalizeFailed(ctx, entry.ID, form.ErrFormInactive.Error())
		o.publishOutcome(ctx, "submission-rejected", req.Source, entry.ID, parsed.FormCode, nil)
		return nil, form.ErrFormInactive
	}

	resolvedLoc, generated, err := o.runWorkflow(ctx, parsed)
	if err != nil {
		o.finalizeFailed(ctx, entry.ID, err.Error())
		return nil, err
	}

	cleaned, fieldErrs := o.pipeline.Validate(ctx, parsed.Fields, def)
	if len(fieldErrs) > 0 {
		o.finalizeFailed(ctx, entry.ID, serializeErrors(fieldErrs))
		o.publishOutcome(ctx, "submission-rejected", req.Source, entry.ID, parsed.FormCode, fieldErrs)
		return &models.Result{
			Success:        false,
			Errors:         fieldErrs,
			FormCode:       parsed.FormCode,
			LedgerID:       entry.ID,
			IsRegistration: def.IsRegistration(),
		}, nil
	}

	ent, shortCode, err := o.resolveEntity(ctx, parsed, cleaned, resolvedLoc, generated, entry)
	if err != nil {
		o.finalizeFailed(ctx, entry.ID, err.Error())
		o.publishOutcome(ctx, "submission-rejected", req.Source, entry.ID, parsed.FormCode, nil)
		return nil, err
	}

	recordID := ""
	if !def.IsRegistration() {
		rec := &DataRecord{
			ID:        uuid.New().String(),
			FormCode:  parsed.FormCode,
			Revision:  def.Revision,
			Values:    datatypes.JSONMap(cleaned),
			EventTime: entry.EventTime,
			LedgerID:  entry.ID,
		}
		if ent != nil {
			rec.EntityID = &ent.ID
		}
		if err := o.records.Create(ctx, rec); err != nil {
			o.finalizeFailed(ctx, entry.ID, err.Error())
			return nil, fmt.Errorf("persisting data record: %w", err)
		}
		recordID = rec.ID
	}

	if err := o.audit.Finalize(ctx, entry.ID, ledger.Outcome{
		Status:          ledger.StatusSuccess,
		EntityShortCode: shortCode,
		DataRecordID:    recordID,
	}); err != nil {
		logger.Log.WithError(err).WithField("ledger_id", entry.ID).Error("failed to finalize ledger entry")
	}

	o.publishOutcome(ctx, "submission-accepted", req.Source, entry.ID, parsed.FormCode, nil)

	entityType := ""
	if ent != nil {
		entityType = ent.EntityType
	}
	return &models.Result{
		Success:        true,
		ShortCode:      shortCode,
		EntityType:     entityType,
		FormCode:       parsed.FormCode,
		DataRecordID:   recordID,
		LedgerID:       entry.ID,
		IsRegistration: def.IsRegistration(),
		CleanedData:    cleaned,
	}, nil
}

func (o *Orchestrator) parse(ctx context.Context, req models.SubmissionRequest) (parser.Parsed, error) {
	switch req.Channel {
	case models.ChannelSMS:
		if parser.LooksKeyed(req.Text) {
			return o.keyed.Parse(ctx, req.Text)
		}
		return o.ordered.Parse(ctx, req.Text)
	case models.ChannelWeb:
		return o.keyValue.Parse(ctx, req.Values)
	case models.ChannelBulk:
		return o.tabular.ParseRow(ctx, req.Header, req.Row)
	case models.ChannelXForms:
		return o.xform.Parse(ctx, req.XML)
	default:
		return parser.Parsed{}, parser.FormatError{Message: fmt.Sprintf("unknown channel %q", req.Channel)}
	}
}

// runWorkflow resolves a registration's location pair and, when its
// entity-link answer is blank, generates a short code in place. Returns
// whether the code was generated, which gates the collision retry. Data
// forms skip the workflow entirely; their l/g-coded fields are ordinary
// answers. A malformed location answer is not terminal here: the field's
// own validation reports it, keyed by code, like any other bad answer.
func (o *Orchestrator) runWorkflow(ctx context.Context, parsed parser.Parsed) (*workflow.ResolvedLocation, bool, error) {
	if !parsed.Def.IsRegistration() {
		return nil, false, nil
	}

	locationName, _ := parsed.Fields.Get(form.LocationFieldCode)
	geocodeText, _ := parsed.Fields.Get(form.GeoCodeFieldCode)
	resolved, err := o.locations.Resolve(ctx, locationName, geocodeText)
	if err != nil {
		var constraint form.ConstraintError
		if !errors.As(err, &constraint) {
			return nil, false, err
		}
		resolved = nil
	}

	link, ok := parsed.Def.EntityLinkField()
	if !ok {
		return resolved, false, nil
	}
	if value, answered := parsed.Fields.Get(link.Code); answered && value != "" {
		return resolved, false, nil
	}

	code, err := o.codes.Generate(ctx, o.entityType(parsed))
	if err != nil {
		return nil, false, err
	}
	parsed.Fields.Set(link.Code, code)
	return resolved, true, nil
}

func (o *Orchestrator) entityType(parsed parser.Parsed) string {
	if parsed.Def.Kind == form.KindGlobalRegistration {
		if t, ok := parsed.Fields.Get(form.EntityTypeFieldCode); ok && t != "" {
			return models.Fold(t)
		}
	}
	return models.Fold(parsed.Def.EntityType())
}

// resolveEntity links the submission to its subject, retrying generation a
// bounded number of times when a concurrent registration beats this one to
// the unique constraint.
func (o *Orchestrator) resolveEntity(ctx context.Context, parsed parser.Parsed, cleaned map[string]interface{}, loc *workflow.ResolvedLocation, generated bool, entry *ledger.Entry) (*entity.Entity, string, error) {
	def := parsed.Def
	link, hasLink := def.EntityLinkField()
	if !hasLink {
		// Forms without a subject (polls, anonymous surveys) skip entity
		// resolution entirely.
		return nil, "", nil
	}
	shortCode, _ := parsed.Fields.Get(link.Code)
	shortCode = models.Fold(shortCode)

	in := entity.ResolveInput{
		EntityType:   o.entityType(parsed),
		ShortCode:    shortCode,
		Registration: def.IsRegistration(),
		Values:       cleaned,
		EventTime:    entry.EventTime,
	}
	if loc != nil {
		in.LocationPath = loc.Path
		in.Geometry = loc.Geometry
	}

	for attempt := 0; ; attempt++ {
		ent, err := o.entities.ResolveOrCreate(ctx, in)
		if err == nil {
			return ent, in.ShortCode, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", err
		}
		if !generated || attempt >= o.codeRetries {
			return nil, "", ErrShortCodeTaken
		}
		code, genErr := o.codes.Generate(ctx, in.EntityType)
		if genErr != nil {
			return nil, "", genErr
		}
		logger.Log.WithFields(map[string]interface{}{
			"entity_type": in.EntityType,
			"short_code":  code,
		}).Warn("short code collided at save time, regenerated")
		in.ShortCode = code
		parsed.Fields.Set(link.Code, code)
	}
}

// auditRejectedPayload records a payload the parsers refused, keeping the
// every-attempt-is-audited guarantee on the malformed-message path.
func (o *Orchestrator) auditRejectedPayload(ctx context.Context, req models.SubmissionRequest, cause error) {
	entry := &ledger.Entry{
		ID:          uuid.New().String(),
		Channel:     req.Channel,
		Source:      req.Source,
		Destination: req.Destination,
		RawValues:   datatypes.JSONMap{"payload": rawPayload(req)},
		EventTime:   eventTime(req),
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		logger.Log.WithError(err).Error("failed to record rejected payload")
		return
	}
	o.finalizeFailed(ctx, entry.ID, cause.Error())
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, id, errorText string) {
	if err := o.audit.Finalize(ctx, id, ledger.Outcome{
		Status:    ledger.StatusFailed,
		ErrorText: errorText,
	}); err != nil {
		logger.Log.WithError(err).WithField("ledger_id", id).Error("failed to finalize ledger entry")
	}
}

func (o *Orchestrator) publishOutcome(ctx context.Context, eventType, source, ledgerID, formCode string, fieldErrs map[string]string) {
	if o.events == nil {
		return
	}
	data := map[string]interface{}{
		"ledger_id": ledgerID,
		"form_code": formCode,
	}
	if len(fieldErrs) > 0 {
		data["errors"] = fieldErrs
	}
	if err := o.events.PublishEvent(ctx, eventType, source, data); err != nil {
		logger.Log.WithError(err).Warn("failed to publish submission event")
	}
}

func rawValues(parsed parser.Parsed) datatypes.JSONMap {
	values := datatypes.JSONMap{"fields": parsed.Fields.Values()}
	if len(parsed.Extras) > 0 {
		values["extras"] = parsed.Extras
	}
	return values
}

func rawPayload(req models.SubmissionRequest) interface{} {
	switch req.Channel {
	case models.ChannelSMS:
		return req.Text
	case models.ChannelWeb:
		return req.Values
	case models.ChannelBulk:
		return map[string]interface{}{"header": req.Header, "row": req.Row}
	case models.ChannelXForms:
		return string(req.XML)
	default:
		return req.Text
	}
}

func eventTime(req models.SubmissionRequest) time.Time {
	if req.ReceivedAt.IsZero() {
		return time.Now().UTC()
	}
	return req.ReceivedAt.UTC()
}

func serializeErrors(errs map[string]string) string {
	payload, err := json.Marshal(errs)
	if err != nil {
		return fmt.Sprintf("%v", errs)
	}
	return string(payload)
}
