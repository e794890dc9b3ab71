package submission

import (
	"context"
	"time"

	"github.com/fieldscope/collect/pkg/common/logger"
	"github.com/fieldscope/collect/pkg/common/models"
)

// SMSHandler adapts inbound SMS events off the message bus onto the
// orchestrator. Gateway bridges publish one event per received message with
// the text and the sender/receiver numbers in the event data.
type SMSHandler struct {
	orchestrator *Orchestrator
}

func NewSMSHandler(orchestrator *Orchestrator) *SMSHandler {
	return &SMSHandler{orchestrator: orchestrator}
}

// Handle is a kafka.EventHandler. Processing failures are logged but
// committed: every attempt already has a finalized ledger entry, so redeliver
// would only duplicate the audit trail.
func (h *SMSHandler) Handle(ctx context.Context, event models.Event) error {
	text, _ := event.Data["text"].(string)
	source, _ := event.Data["from"].(string)
	destination, _ := event.Data["to"].(string)
	if source == "" {
		source = event.Source
	}

	receivedAt := event.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	result, err := h.orchestrator.Process(ctx, models.SubmissionRequest{
		Channel:     models.ChannelSMS,
		Source:      source,
		Destination: destination,
		Text:        text,
		ReceivedAt:  receivedAt,
	})
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id": event.ID,
			"source":   source,
		}).Warn("sms submission rejected")
		return nil
	}

	logger.Log.WithFields(map[string]interface{}{
		"event_id":  event.ID,
		"ledger_id": result.LedgerID,
		"form_code": result.FormCode,
		"success":   result.Success,
	}).Info("sms submission processed")
	return nil
}
