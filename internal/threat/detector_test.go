package threat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/store"
)

// fixedClock pins the detector to midday UTC so the off-hours rule stays
// quiet unless a test moves it.
var midday = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T) (*Detector, *audit.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	log := audit.NewService(ms, nil)
	d := NewDetector(log)
	d.now = func() time.Time { return midday }
	d.loc = time.UTC
	return d, log, ms
}

// seedEntries writes crafted entries (with controlled timestamps) straight
// into the store, bypassing the audit service clock.
func seedEntries(t *testing.T, ms *store.MemoryStore, entries []audit.LogEntry) {
	t.Helper()
	if err := ms.Set(context.Background(), "audit:logs", entries); err != nil {
		t.Fatalf("seed entries: %v", err)
	}
}

func entryAt(action, actorID string, ts time.Time) audit.LogEntry {
	return audit.LogEntry{
		ID:        action + "-" + ts.Format(time.RFC3339Nano),
		Timestamp: ts.UTC(),
		Action:    action,
		ActorID:   actorID,
		Level:     audit.SeverityInfo,
	}
}

func findEntry(entries []audit.LogEntry, action string) *audit.LogEntry {
	for i := range entries {
		if entries[i].Action == action {
			return &entries[i]
		}
	}
	return nil
}

func TestAnalyzeActivity_MultipleFailedLogins(t *testing.T) {
	t.Run("three failures in window trips critical", func(t *testing.T) {
		d, log, ms := newTestDetector(t)
		ctx := context.Background()

		var seed []audit.LogEntry
		for i := 0; i < 3; i++ {
			seed = append(seed, entryAt("login_failed", "u1", midday.Add(-time.Duration(i+1)*10*time.Minute)))
		}
		seedEntries(t, ms, seed)

		d.AnalyzeActivity(ctx, "login_failed", "u1")

		finding := findEntry(log.GetLogs(ctx), "multiple_failed_logins")
		if finding == nil {
			t.Fatal("multiple_failed_logins entry not emitted")
		}
		if finding.Level != audit.SeverityCritical {
			t.Errorf("level = %q, want critical", finding.Level)
		}
		if finding.ActorID != "u1" {
			t.Errorf("actor = %q, want u1", finding.ActorID)
		}
		// Critical finding raises an alert through the normal audit path.
		if alerts := log.GetAlerts(ctx); len(alerts) != 1 {
			t.Errorf("alerts = %d, want 1", len(alerts))
		}
	})

	t.Run("two failures do not trip", func(t *testing.T) {
		d, log, ms := newTestDetector(t)
		ctx := context.Background()

		seedEntries(t, ms, []audit.LogEntry{
			entryAt("login_failed", "u1", midday.Add(-10*time.Minute)),
			entryAt("login_failed", "u1", midday.Add(-20*time.Minute)),
		})

		d.AnalyzeActivity(ctx, "login_failed", "u1")

		if findEntry(log.GetLogs(ctx), "multiple_failed_logins") != nil {
			t.Error("multiple_failed_logins emitted for only two failures")
		}
	})

	t.Run("failures outside the window do not count", func(t *testing.T) {
		d, log, ms := newTestDetector(t)
		ctx := context.Background()

		seedEntries(t, ms, []audit.LogEntry{
			entryAt("login_failed", "u1", midday.Add(-10*time.Minute)),
			entryAt("login_failed", "u1", midday.Add(-90*time.Minute)),
			entryAt("login_failed", "u1", midday.Add(-2*time.Hour)),
		})

		d.AnalyzeActivity(ctx, "login_failed", "u1")

		if findEntry(log.GetLogs(ctx), "multiple_failed_logins") != nil {
			t.Error("stale failures counted toward the sliding window")
		}
	})

	t.Run("another actor's failures do not count", func(t *testing.T) {
		d, log, ms := newTestDetector(t)
		ctx := context.Background()

		seedEntries(t, ms, []audit.LogEntry{
			entryAt("login_failed", "u1", midday.Add(-10*time.Minute)),
			entryAt("login_failed", "u2", midday.Add(-10*time.Minute)),
			entryAt("login_failed", "u2", midday.Add(-20*time.Minute)),
		})

		d.AnalyzeActivity(ctx, "login_failed", "u1")

		if findEntry(log.GetLogs(ctx), "multiple_failed_logins") != nil {
			t.Error("another actor's failures counted")
		}
	})
}

func TestAnalyzeActivity_OffHours(t *testing.T) {
	tests := []struct {
		hour      int
		wantEntry bool
	}{
		{3, true},
		{5, true},
		{6, false},
		{12, false},
		{22, false},
		{23, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("hour_%02d", tt.hour), func(t *testing.T) {
			d, log, _ := newTestDetector(t)
			d.now = func() time.Time {
				return time.Date(2026, 3, 10, tt.hour, 30, 0, 0, time.UTC)
			}

			d.AnalyzeActivity(context.Background(), "update_contact", "u1")

			got := findEntry(log.GetLogs(context.Background()), "off_hours_activity") != nil
			if got != tt.wantEntry {
				t.Errorf("off_hours_activity emitted = %v, want %v", got, tt.wantEntry)
			}
		})
	}
}

func TestAnalyzeActivity_ExcessiveActivity(t *testing.T) {
	d, log, ms := newTestDetector(t)
	ctx := context.Background()

	var seed []audit.LogEntry
	for i := 0; i < excessiveActivityThreshold+1; i++ {
		seed = append(seed, entryAt(fmt.Sprintf("update_%d", i), "u1", midday.Add(-time.Minute)))
	}
	seedEntries(t, ms, seed)

	d.AnalyzeActivity(ctx, "update_contact", "u1")

	finding := findEntry(log.GetLogs(ctx), "excessive_activity")
	if finding == nil {
		t.Fatal("excessive_activity not emitted above threshold")
	}
	if finding.Level != audit.SeverityWarning {
		t.Errorf("level = %q, want warning", finding.Level)
	}
}

func TestAnalyzeActivity_BulkOperations(t *testing.T) {
	tests := []struct {
		action string
		want   bool
	}{
		{"bulk_delete_leads", true},
		{"mass_update_contacts", true},
		{"create_lead", false},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			d, log, _ := newTestDetector(t)

			d.AnalyzeActivity(context.Background(), tt.action, "u1")

			got := findEntry(log.GetLogs(context.Background()), "bulk_data_operation") != nil
			if got != tt.want {
				t.Errorf("bulk_data_operation emitted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeActivity_RulesAreIndependent(t *testing.T) {
	// One action can trip several rules at once.
	d, log, ms := newTestDetector(t)
	ctx := context.Background()
	night := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	d.now = func() time.Time { return night }

	seedEntries(t, ms, []audit.LogEntry{
		entryAt("login_failed", "u1", night.Add(-10*time.Minute)),
		entryAt("login_failed", "u1", night.Add(-20*time.Minute)),
		entryAt("login_failed", "u1", night.Add(-30*time.Minute)),
	})

	d.AnalyzeActivity(ctx, "login_failed", "u1")

	entries := log.GetLogs(ctx)
	if findEntry(entries, "multiple_failed_logins") == nil {
		t.Error("multiple_failed_logins missing")
	}
	if findEntry(entries, "off_hours_activity") == nil {
		t.Error("off_hours_activity missing")
	}
}

func TestDetectAnomalies_UnusualAccessTimes(t *testing.T) {
	d, log, ms := newTestDetector(t)
	ctx := context.Background()

	var seed []audit.LogEntry
	for i := 0; i < offHoursAnomalyThreshold+1; i++ {
		seed = append(seed, entryAt(fmt.Sprintf("update_%d", i), "u1",
			time.Date(2026, 3, i+1, 3, 0, 0, 0, time.UTC)))
	}
	seedEntries(t, ms, seed)

	anomalies := d.DetectAnomalies(ctx, "u1")

	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want exactly unusual_access_times", anomalies)
	}
	a := anomalies[0]
	if a.Type != "unusual_access_times" || a.Severity != "medium" {
		t.Errorf("anomaly = %+v", a)
	}
	if a.Count != offHoursAnomalyThreshold+1 {
		t.Errorf("count = %d, want %d", a.Count, offHoursAnomalyThreshold+1)
	}
	// Medium findings are logged at warning — no alert.
	if finding := findEntry(log.GetLogs(ctx), "unusual_access_times"); finding == nil {
		t.Error("unusual_access_times not written to the log")
	} else if finding.Level != audit.SeverityWarning {
		t.Errorf("level = %q, want warning", finding.Level)
	}
}

func TestDetectAnomalies_ExcessiveDeletions(t *testing.T) {
	d, log, ms := newTestDetector(t)
	ctx := context.Background()

	var seed []audit.LogEntry
	for i := 0; i < deletionAnomalyThreshold+1; i++ {
		seed = append(seed, entryAt("delete_lead", "u1",
			midday.Add(-time.Duration(i)*time.Minute)))
	}
	seedEntries(t, ms, seed)

	anomalies := d.DetectAnomalies(ctx, "u1")

	if len(anomalies) != 1 || anomalies[0].Type != "excessive_deletions" {
		t.Fatalf("anomalies = %+v", anomalies)
	}
	if anomalies[0].Severity != "high" {
		t.Errorf("severity = %q, want high", anomalies[0].Severity)
	}
	// High findings log at error, which raises an alert.
	if alerts := log.GetAlerts(ctx); len(alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(alerts))
	}
}

func TestDetectAnomalies_QuietHistory(t *testing.T) {
	d, _, ms := newTestDetector(t)
	ctx := context.Background()

	seedEntries(t, ms, []audit.LogEntry{
		entryAt("create_lead", "u1", midday.Add(-time.Hour)),
		entryAt("update_lead", "u1", midday.Add(-2*time.Hour)),
	})

	if anomalies := d.DetectAnomalies(ctx, "u1"); len(anomalies) != 0 {
		t.Errorf("anomalies = %+v, want none", anomalies)
	}
}

func TestVerifyDataIntegrity(t *testing.T) {
	base := map[string]any{
		"id":         "L-1",
		"created_at": "2026-01-01T00:00:00Z",
		"owner_id":   "u1",
		"name":       "Acme order",
	}

	t.Run("benign update passes", func(t *testing.T) {
		d, log, _ := newTestDetector(t)
		updated := map[string]any{
			"id":         "L-1",
			"created_at": "2026-01-01T00:00:00Z",
			"owner_id":   "u1",
			"name":       "Acme order (renamed)",
		}
		if !d.VerifyDataIntegrity(context.Background(), "u1", base, updated) {
			t.Error("benign update rejected")
		}
		if len(log.GetLogs(context.Background())) != 0 {
			t.Error("benign update logged a violation")
		}
	})

	t.Run("tampered critical field rejected and logged critical", func(t *testing.T) {
		d, log, _ := newTestDetector(t)
		updated := map[string]any{
			"id":         "L-1",
			"created_at": "2026-01-01T00:00:00Z",
			"owner_id":   "u2", // ownership change attempt
			"name":       "Acme order",
		}
		if d.VerifyDataIntegrity(context.Background(), "u2", base, updated) {
			t.Fatal("tampered update accepted")
		}
		finding := findEntry(log.GetLogs(context.Background()), "data_integrity_violation")
		if finding == nil {
			t.Fatal("violation not logged")
		}
		if finding.Level != audit.SeverityCritical {
			t.Errorf("level = %q, want critical", finding.Level)
		}
	})

	t.Run("changed id rejected", func(t *testing.T) {
		d, _, _ := newTestDetector(t)
		updated := map[string]any{"id": "L-2", "created_at": base["created_at"], "owner_id": "u1"}
		if d.VerifyDataIntegrity(context.Background(), "u1", base, updated) {
			t.Error("id change accepted")
		}
	})
}
