package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Metric registration sanity checks — verify every exported metric is properly
// registered and carries the expected fully-qualified name.
//
// We check registration via Describe() rather than DefaultGatherer.Gather()
// because Gather() only returns series that have been observed at least once;
// *Vec metrics with no label combinations yet used are silently absent from
// Gather output even though they are correctly registered.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"audit_log_entries_total", AuditEntriesTotal},
		{"audit_alerts_total", AuditAlertsTotal},
		{"notifications_scheduled_total", NotificationsScheduledTotal},
		{"notifications_fired_total", NotificationsFiredTotal},
		{"notifications_cancelled_total", NotificationsCancelledTotal},
		{"notification_delivery_failures_total", NotificationDeliveryFailuresTotal},
		{"notifications_pending", NotificationsPending},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				// prometheus.Desc.String() returns a Go syntax string of the form:
				//   Desc{fqName: "<name>", help: "...", constLabels: {}, variableLabels: [...]}
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return // found — test passes
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_HTTPRequestsTotal_CanBeIncremented(t *testing.T) {
	before := counterValue(t, HTTPRequestsTotal, prometheus.Labels{
		"method": "GET", "path": "/test", "status": "200",
	})
	HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	after := counterValue(t, HTTPRequestsTotal, prometheus.Labels{
		"method": "GET", "path": "/test", "status": "200",
	})
	if after-before < 1 {
		t.Errorf("HTTPRequestsTotal.Inc() did not increase counter (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_AuditEntriesTotal_CanBeIncremented(t *testing.T) {
	before := counterValue(t, AuditEntriesTotal, prometheus.Labels{"level": "info"})
	AuditEntriesTotal.WithLabelValues("info").Inc()
	after := counterValue(t, AuditEntriesTotal, prometheus.Labels{"level": "info"})
	if after-before < 1 {
		t.Errorf("AuditEntriesTotal.Inc() did not increase counter")
	}
}

func TestMetrics_NotificationCounters_CanBeIncremented(t *testing.T) {
	before := counterValue(t, NotificationsScheduledTotal, prometheus.Labels{"event_type": "quote_sent"})
	NotificationsScheduledTotal.WithLabelValues("quote_sent").Inc()
	after := counterValue(t, NotificationsScheduledTotal, prometheus.Labels{"event_type": "quote_sent"})
	if after-before < 1 {
		t.Errorf("NotificationsScheduledTotal.Inc() did not increase counter")
	}

	NotificationsFiredTotal.WithLabelValues("quote_sent").Inc()
	NotificationsCancelledTotal.WithLabelValues("quote_sent").Inc()
	NotificationDeliveryFailuresTotal.WithLabelValues("quote_sent").Inc()
}

func TestMetrics_NotificationsPending_CanBeSet(t *testing.T) {
	NotificationsPending.Set(5)
	// If no panic, gauge is working.
	NotificationsPending.Set(0) // reset to neutral value
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
