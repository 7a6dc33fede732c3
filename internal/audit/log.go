// Package audit maintains the append-only security audit log for the CRM
// core. Audit records are intentionally separate from application logs
// because they have different consumers and retention requirements —
// application logs are ephemeral debug output consumed by on-call engineers,
// while audit records are immutable evidence consumed by security reviewers.
// The log is capacity-bounded (oldest entries are trimmed past 1000) and
// ordered: entries are observed in write order, globally and per actor.
//
// Writes at error or critical severity raise an Alert and, best-effort, push
// an operator interrupt through the configured Notifier. Storage faults are
// reported on the application log channel (slog) and degrade the call to a
// no-op or empty result — they are never surfaced to the caller and never
// routed back through the audit log itself, which would recurse.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-crm/meridian/internal/safego"
	"github.com/meridian-crm/meridian/internal/store"
	"github.com/meridian-crm/meridian/internal/telemetry"
)

const (
	logsKey   = "audit:logs"
	alertsKey = "audit:alerts"

	// maxLogEntries bounds the persisted log; the oldest entries are dropped
	// once the cap is exceeded.
	maxLogEntries = 1000
	// maxAlerts bounds the persisted alert list the same way.
	maxAlerts = 100
)

// Service owns the audit log and its alerts. All methods are safe for
// concurrent use; read-modify-write sequences against the store are
// serialised by an internal mutex so the single-writer ordering guarantee
// holds even when handlers overlap.
type Service struct {
	store    store.Store
	notifier Notifier

	// sessionID tags every entry written by this process instance.
	sessionID string
	// location is the host's IANA timezone name, recorded per entry as
	// coarse locality metadata.
	location string

	mu  sync.Mutex
	now func() time.Time
}

// NewService creates the audit service. notifier may be nil, in which case
// error/critical entries still raise alerts but no operator interrupt is
// attempted.
func NewService(s store.Store, notifier Notifier) *Service {
	return &Service{
		store:     s,
		notifier:  notifier,
		sessionID: uuid.New().String(),
		location:  time.Now().Location().String(),
		now:       time.Now,
	}
}

// Log appends an entry for action at the given severity and returns it.
// details may be nil. An empty actorID marks the entry as system-originated.
/// Invalid severities are coerced to info rather than rejected: losing an
// audit record over a bad level string would be worse than recording it at
// the wrong one.
func (s *Service) Log(ctx context.Context, action string, details map[string]any, actorID string, level Severity) LogEntry {
	if !level.Valid() {
		level = SeverityInfo
	}

	entry := LogEntry{
		ID:        uuid.New().String(),
		Timestamp: s.now().UTC(),
		Action:    action,
		Details:   details,
		ActorID:   actorID,
		Level:     level,
		SessionID: s.sessionID,
		Location:  s.location,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadLogs(ctx)
	entries = append(entries, entry)
	if len(entries) > maxLogEntries {
		entries = entries[len(entries)-maxLogEntries:]
	}
	if err := s.store.Set(ctx, logsKey, entries); err != nil {
		slog.Error("audit: failed to persist log entry", "action", action, "error", err)
		return entry
	}
	telemetry.AuditEntriesTotal.WithLabelValues(string(level)).Inc()

	if level.alerting() {
		s.raiseAlert(ctx, entry)
	}
	return entry
}

// GetLogs returns all persisted entries in storage order, oldest first.
// Callers needing recency reverse the result.
func (s *Service) GetLogs(ctx context.Context) []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLogs(ctx)
}

// Filter narrows FilterLogs results. All supplied predicates must match.
type Filter struct {
	// Level matches entries at exactly this severity.
	Level Severity
	// ActionContains matches entries whose action name contains the substring.
	ActionContains string
	// ActorID matches entries written for this actor.
	ActorID string
	// From/To bound the entry timestamp (inclusive).
	From *time.Time
	To   *time.Time
}

// FilterLogs returns the entries matching every supplied predicate, in
// storage order.
func (s *Service) FilterLogs(ctx context.Context, f Filter) []LogEntry {
	entries := s.GetLogs(ctx)
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.ActionContains != "" && !strings.Contains(e.Action, f.ActionContains) {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.From != nil && e.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Timestamp.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetAlerts returns all persisted alerts, oldest first.
func (s *Service) GetAlerts(ctx context.Context) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAlerts(ctx)
}

// ResolveAlert marks the alert resolved. Resolving an unknown or
// already-resolved id is a silent no-op, so the operation is idempotent.
func (s *Service) ResolveAlert(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alerts := s.loadAlerts(ctx)
	changed := false
	for i := range alerts {
		if alerts[i].ID == id && !alerts[i].Resolved {
			now := s.now().UTC()
			alerts[i].Resolved = true
			alerts[i].ResolvedAt = &now
			changed = true
			break
		}
	}
	if !changed {
		return
	}
	if err := s.store.Set(ctx, alertsKey, alerts); err != nil {
		slog.Error("audit: failed to persist alert resolution", "alert_id", id, "error", err)
	}
}

// raiseAlert records an alert for entry and fires the operator interrupt.
// Caller holds s.mu.
func (s *Service) raiseAlert(ctx context.Context, entry LogEntry) {
	actor := entry.ActorID
	if actor == "" {
		actor = "system"
	}
	alert := Alert{
		ID:         uuid.New().String(),
		Timestamp:  entry.Timestamp,
		Severity:   entry.Level,
		Message:    fmt.Sprintf("%s: %s by %s", strings.ToUpper(string(entry.Level)), entry.Action, actor),
		LogEntryID: entry.ID,
	}

	alerts := s.loadAlerts(ctx)
	alerts = append(alerts, alert)
	if len(alerts) > maxAlerts {
		alerts = alerts[len(alerts)-maxAlerts:]
	}
	if err := s.store.Set(ctx, alertsKey, alerts); err != nil {
		slog.Error("audit: failed to persist alert", "alert_id", alert.ID, "error", err)
		return
	}
	telemetry.AuditAlertsTotal.WithLabelValues(string(alert.Severity)).Inc()

	// The interrupt is best-effort and must not delay or fail the log write.
	if s.notifier != nil {
		n := s.notifier
		safego.Go(func() {
			if err := n.Notify(context.Background(), alert); err != nil {
				slog.Warn("audit: alert notification failed", "alert_id", alert.ID, "error", err)
			}
		})
	}
}

// loadLogs reads the persisted log, degrading to empty on a missing key or a
// storage fault. Caller holds s.mu.
func (s *Service) loadLogs(ctx context.Context) []LogEntry {
	var entries []LogEntry
	if err := s.store.Get(ctx, logsKey, &entries); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("audit: failed to read log", "error", err)
		return nil
	}
	return entries
}

// loadAlerts reads the persisted alert list the same way. Caller holds s.mu.
func (s *Service) loadAlerts(ctx context.Context) []Alert {
	var alerts []Alert
	if err := s.store.Get(ctx, alertsKey, &alerts); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("audit: failed to read alerts", "error", err)
		return nil
	}
	return alerts
}
