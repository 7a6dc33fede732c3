// models.go defines the audit domain records: log entries, alerts, and the
// severity scale shared by both.
package audit

import "time"

// Severity classifies a log entry or alert.
type Severity string

// Severity levels, lowest to highest.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the defined levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// alerting reports whether entries at this level raise an alert.
func (s Severity) alerting() bool {
	return s == SeverityError || s == SeverityCritical
}

// LogEntry is a single audit record. Entries are immutable once written and
// are only ever removed by capacity trimming, oldest first.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	// ActorID identifies the user behind the action; empty means the entry
	// is system-originated.
	ActorID   string   `json:"actor_id,omitempty"`
	Level     Severity `json:"level"`
	SessionID string   `json:"session_id"`
	// Location is coarse host locality metadata (IANA timezone name), not a
	// precise position.
	Location string `json:"location,omitempty"`
}

// Alert is an operator-facing flag raised by an error/critical log entry or
// synthesised directly by threat detection. Resolution is the only permitted
// mutation.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	// LogEntryID references the triggering log entry.
	LogEntryID string     `json:"log_entry_id"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
