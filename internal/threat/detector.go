// Package threat implements heuristic threat detection over the audit log.
// The detector holds no state of its own: every heuristic is a pure function
// of a time-windowed slice of existing log entries, so a given log content
// always reproduces the same findings. Findings are written back to the audit
// log as higher-severity entries, which is also how they reach operators —
// error and critical findings raise alerts through the normal audit path.
//
// Heuristics are expressed as an ordered list of independent rule values
// rather than inline conditionals so each rule can be tested on its own and
// new rules can be added without touching the dispatch loop. Rules are not
// mutually exclusive: one action can trip several.
package threat

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/meridian-crm/meridian/internal/audit"
)

const (
	// activityWindow is the sliding window AnalyzeActivity evaluates over.
	activityWindow = time.Hour

	// Off-hours bounds: activity before 06:00 or after 22:00 local time is
	// suspicious for a merchandising sales team.
	workdayStartHour = 6
	workdayEndHour   = 22

	// failedLoginThreshold trips multiple_failed_logins.
	failedLoginThreshold = 3
	// excessiveActivityThreshold trips excessive_activity.
	excessiveActivityThreshold = 100
	// offHoursAnomalyThreshold is the historical off-hours entry count that
	// flags unusual_access_times.
	offHoursAnomalyThreshold = 5
	// deletionAnomalyThreshold is the historical delete count that flags
	// excessive_deletions.
	deletionAnomalyThreshold = 50
)

// criticalFields are the record attributes that must never change across an
// update. A difference means the update path was tampered with.
var criticalFields = []string{"id", "created_at", "owner_id"}

// event is the action under analysis, as handed to AnalyzeActivity.
type event struct {
	Action  string
	ActorID string
	// Now is the evaluation instant, fixed once per analysis so every rule
	// sees the same clock.
	Now time.Time
}

// rule is a single independent heuristic: a predicate over the actor's
// trailing-window entries and a producer for the entry logged when it trips.
type rule struct {
	name    string
	applies func(ev event, window []audit.LogEntry) bool
	produce func(ev event, window []audit.LogEntry) (level audit.Severity, details map[string]any)
}

// activityRules is evaluated in order by AnalyzeActivity.
var activityRules = []rule{
	{
		name: "multiple_failed_logins",
		applies: func(ev event, window []audit.LogEntry) bool {
			return ev.Action == "login_failed" &&
				countAction(window, "login_failed") >= failedLoginThreshold
		},
		produce: func(ev event, window []audit.LogEntry) (audit.Severity, map[string]any) {
			return audit.SeverityCritical, map[string]any{
				"failed_attempts": countAction(window, "login_failed"),
				"window_minutes":  int(activityWindow.Minutes()),
			}
		},
	},
	{
		name: "off_hours_activity",
		applies: func(ev event, window []audit.LogEntry) bool {
			hour := ev.Now.Hour()
			return hour < workdayStartHour || hour > workdayEndHour
		},
		produce: func(ev event, window []audit.LogEntry) (audit.Severity, map[string]any) {
			return audit.SeverityWarning, map[string]any{
				"action": ev.Action,
				"hour":   ev.Now.Hour(),
			}
		},
	},
	{
		name: "excessive_activity",
		applies: func(ev event, window []audit.LogEntry) bool {
			return len(window) > excessiveActivityThreshold
		},
		produce: func(ev event, window []audit.LogEntry) (audit.Severity, map[string]any) {
			return audit.SeverityWarning, map[string]any{
				"entry_count":    len(window),
				"window_minutes": int(activityWindow.Minutes()),
			}
		},
	},
	{
		name: "bulk_data_operation",
		applies: func(ev event, window []audit.LogEntry) bool {
			return strings.Contains(ev.Action, "bulk_") || strings.Contains(ev.Action, "mass_")
		},
		produce: func(ev event, window []audit.LogEntry) (audit.Severity, map[string]any) {
			return audit.SeverityWarning, map[string]any{"action": ev.Action}
		},
	},
}

// Detector runs the heuristics against an audit log.
type Detector struct {
	log *audit.Service
	now func() time.Time
	// loc is the timezone hour-of-day heuristics evaluate in.
	loc *time.Location
}

// NewDetector creates a detector writing findings to log.
func NewDetector(log *audit.Service) *Detector {
	return &Detector{log: log, now: time.Now, loc: time.Local}
}

// AnalyzeActivity evaluates every activity rule against the actor's entries
// in the trailing window and logs an entry per tripped rule. It is invoked
// synchronously after a CRUD log write, so the triggering entry is already
// part of the window.
func (d *Detector) AnalyzeActivity(ctx context.Context, action, actorID string) {
	now := d.now().In(d.loc)
	from := now.Add(-activityWindow)
	window := d.log.FilterLogs(ctx, audit.Filter{ActorID: actorID, From: &from})

	ev := event{Action: action, ActorID: actorID, Now: now}
	for _, r := range activityRules {
		if !r.applies(ev, window) {
			continue
		}
		level, details := r.produce(ev, window)
		d.log.Log(ctx, r.name, details, actorID, level)
	}
}

// Anomaly is a finding from batch analysis over an actor's full history.
type Anomaly struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"` // medium or high
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// DetectAnomalies runs batch heuristics over the actor's entire history (not
// windowed) and returns the findings. Each finding is also written to the
// audit log: medium at warning, high at error (which raises an alert).
func (d *Detector) DetectAnomalies(ctx context.Context, actorID string) []Anomaly {
	history := d.log.FilterLogs(ctx, audit.Filter{ActorID: actorID})

	var anomalies []Anomaly

	offHours := 0
	for _, e := range history {
		hour := e.Timestamp.In(d.loc).Hour()
		if hour < workdayStartHour || hour > workdayEndHour {
			offHours++
		}
	}
	if offHours > offHoursAnomalyThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:        "unusual_access_times",
			Severity:    "medium",
			Count:       offHours,
			Description: fmt.Sprintf("%d historical entries outside %02d:00–%02d:00", offHours, workdayStartHour, workdayEndHour),
		})
	}

	deletions := 0
	for _, e := range history {
		if strings.Contains(e.Action, "delete") {
			deletions++
		}
	}
	if deletions > deletionAnomalyThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:        "excessive_deletions",
			Severity:    "high",
			Count:       deletions,
			Description: fmt.Sprintf("%d delete operations on record", deletions),
		})
	}

	for _, a := range anomalies {
		level := audit.SeverityWarning
		if a.Severity == "high" {
			level = audit.SeverityError
		}
		d.log.Log(ctx, a.Type, map[string]any{
			"count":       a.Count,
			"description": a.Description,
		}, actorID, level)
	}
	return anomalies
}

// VerifyDataIntegrity guards immutable record attributes across an update:
// it returns false and logs a critical entry when any critical field (record
// id, creation timestamp, owning user) differs between the original and the
// updated record. The boolean is the caller's signal to reject the update —
// this is the one detector output surfaced directly rather than via the log.
func (d *Detector) VerifyDataIntegrity(ctx context.Context, actorID string, original, updated map[string]any) bool {
	var tampered []string
	for _, field := range criticalFields {
		if !reflect.DeepEqual(original[field], updated[field]) {
			tampered = append(tampered, field)
		}
	}
	if len(tampered) == 0 {
		return true
	}

	d.log.Log(ctx, "data_integrity_violation", map[string]any{
		"fields":    tampered,
		"record_id": original["id"],
	}, actorID, audit.SeverityCritical)
	return false
}

// countAction counts window entries with exactly this action name.
func countAction(window []audit.LogEntry, action string) int {
	n := 0
	for _, e := range window {
		if e.Action == action {
			n++
		}
	}
	return n
}
