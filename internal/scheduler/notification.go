// notification.go defines the scheduler's domain records: the event types
// that can be programmed, the typed payload a notification carries, the
// persisted pending entry, and the per-type configuration table.
package scheduler

import "time"

// EventType names a schedulable business event. The set is fixed: each type
// has a configuration row and a message composer.
type EventType string

// Schedulable event types.
const (
	EventQuoteSent       EventType = "quote_sent"
	EventQuoteApproved   EventType = "quote_approved"
	EventMeetingReminder EventType = "meeting_reminder"
	EventLeadFollowUp    EventType = "lead_followup"
	EventTaskOverdue     EventType = "task_overdue"
	EventInvoiceIssued   EventType = "invoice_issued"
)

// EventTypes lists every known type in a stable order.
var EventTypes = []EventType{
	EventQuoteSent,
	EventQuoteApproved,
	EventMeetingReminder,
	EventLeadFollowUp,
	EventTaskOverdue,
	EventInvoiceIssued,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Contact is the message recipient.
type Contact struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// QuoteInfo references the quote a message is about.
type QuoteInfo struct {
	ID        string  `json:"id"`
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
}

// MeetingInfo references a booked meeting.
type MeetingInfo struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	StartsAt time.Time `json:"starts_at"`
}

// LeadInfo references a lead gone quiet.
type LeadInfo struct {
	ID            string    `json:"id"`
	LastContactAt time.Time `json:"last_contact_at"`
}

// TaskInfo references an overdue task.
type TaskInfo struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	DueAt time.Time `json:"due_at"`
}

// InvoiceInfo references an issued invoice.
type InvoiceInfo struct {
	ID     string    `json:"id"`
	Number string    `json:"number"`
	Amount float64   `json:"amount"`
	DueAt  time.Time `json:"due_at"`
}

// Payload is the domain data a notification needs to render its message:
// the recipient contact plus the referenced business object for the event
// type. Unused references stay nil.
type Payload struct {
	Contact Contact      `json:"contact"`
	ActorID string       `json:"actor_id,omitempty"`
	Quote   *QuoteInfo   `json:"quote,omitempty"`
	Meeting *MeetingInfo `json:"meeting,omitempty"`
	Lead    *LeadInfo    `json:"lead,omitempty"`
	Task    *TaskInfo    `json:"task,omitempty"`
	Invoice *InvoiceInfo `json:"invoice,omitempty"`
}

// recordIDs collects the business-record references for the delivery trace.
func (p Payload) recordIDs() map[string]string {
	ids := make(map[string]string)
	if p.Contact.ID != "" {
		ids["contact"] = p.Contact.ID
	}
	if p.Quote != nil {
		ids["quote"] = p.Quote.ID
	}
	if p.Meeting != nil {
		ids["meeting"] = p.Meeting.ID
	}
	if p.Lead != nil {
		ids["lead"] = p.Lead.ID
	}
	if p.Task != nil {
		ids["task"] = p.Task.ID
	}
	if p.Invoice != nil {
		ids["invoice"] = p.Invoice.ID
	}
	return ids
}

// Notification is a persisted pending entry. It exists in the store exactly
// while it has neither fired nor been cancelled.
type Notification struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	FireAt    time.Time `json:"fire_at"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingView is the redacted operator-facing projection of a pending entry:
// descriptive fields only, no phone numbers or free text.
type PendingView struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	FireAt      time.Time `json:"fire_at"`
	CreatedAt   time.Time `json:"created_at"`
	ContactName string    `json:"contact_name,omitempty"`
}

// TypeConfig is one row of the per-type configuration table.
type TypeConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// DelayMinutes is how long after the triggering event the message fires.
	DelayMinutes int `json:"delay_minutes" mapstructure:"delay_minutes"`
}

// Delay returns the configured delay as a duration.
func (c TypeConfig) Delay() time.Duration {
	return time.Duration(c.DelayMinutes) * time.Minute
}

// defaultConfig is the configuration table applied when nothing has been
// persisted: immediate thanks and billing texts, slower relationship nudges.
func defaultConfig() map[EventType]TypeConfig {
	return map[EventType]TypeConfig{
		EventQuoteSent:       {Enabled: true, DelayMinutes: 2880},  // chase 48 h after sending
		EventQuoteApproved:   {Enabled: true, DelayMinutes: 0},     // thank immediately
		EventMeetingReminder: {Enabled: true, DelayMinutes: 1440},  // remind the day before
		EventLeadFollowUp:    {Enabled: true, DelayMinutes: 10080}, // nudge after a quiet week
		EventTaskOverdue:     {Enabled: true, DelayMinutes: 0},
		EventInvoiceIssued:   {Enabled: true, DelayMinutes: 0},
	}
}
