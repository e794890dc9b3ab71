package models

import "time"

// Submission channels
const (
	ChannelSMS    = "sms"
	ChannelWeb    = "web"
	ChannelBulk   = "bulk"
	ChannelXForms = "xforms"
)

// SubmissionRequest is the channel-agnostic envelope handed to the
// orchestrator. Which payload field is populated depends on the channel:
// Text for SMS, Values for web, Header+Row for bulk uploads, XML for XForms.
type SubmissionRequest struct {
	Channel     string                 `json:"channel"`
	Source      string                 `json:"source"`      // phone number, user id, upload name
	Destination string                 `json:"destination"` // gateway number or endpoint
	Text        string                 `json:"text,omitempty"`
	Values      map[string]interface{} `json:"values,omitempty"`
	Header      []string               `json:"header,omitempty"`
	Row         []string               `json:"row,omitempty"`
	XML         []byte                 `json:"xml,omitempty"`
	ReceivedAt  time.Time              `json:"received_at"`
}

// Result is returned to the submitting channel after one pipeline run.
type Result struct {
	Success        bool                   `json:"success"`
	Errors         map[string]string      `json:"errors,omitempty"`
	ShortCode      string                 `json:"short_code,omitempty"`
	EntityType     string                 `json:"entity_type,omitempty"`
	FormCode       string                 `json:"form_code,omitempty"`
	DataRecordID   string                 `json:"data_record_id,omitempty"`
	LedgerID       string                 `json:"ledger_id,omitempty"`
	IsRegistration bool                   `json:"is_registration"`
	CleanedData    map[string]interface{} `json:"cleaned_data,omitempty"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // sms-inbound, submission-accepted, submission-rejected
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
