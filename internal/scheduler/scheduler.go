// scheduler.go implements the deferred-notification scheduler: a durable job
// queue for customer text messages. Pending entries are persisted as one map
// under a single store key, so a restart loses nothing; a background reaper
// loop fires due entries, running once immediately on startup to pick up
// whatever came due while the process was down. Delivery is at-least-once:
// an entry is removed only after its delivery attempt, and a crash between
// sending and removing replays the send on the next start.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/gateway"
	"github.com/meridian-crm/meridian/internal/store"
	"github.com/meridian-crm/meridian/internal/telemetry"
)

const (
	pendingKey = "notifications:pending"
	configKey  = "notifications:config"

	defaultReapInterval = 30 * time.Second
)

// ErrUnknownEventType is returned when a notification names an event type
// outside the fixed set.
var ErrUnknownEventType = errors.New("scheduler: unknown event type")

// entryStatus tracks the in-memory lifecycle of a pending entry. The
// cancel/fire race is resolved here: whichever path moves the entry out of
// statusPending first wins, the loser becomes a no-op.
type entryStatus int

const (
	statusPending entryStatus = iota
	statusFiring
)

// Scheduler programs deferred notifications and delivers them when due.
// All public methods are safe for concurrent use.
type Scheduler struct {
	store store.Store
	gw    gateway.Gateway
	trail *audit.Service

	mu      sync.Mutex
	pending map[string]Notification
	status  map[string]entryStatus
	cfg     map[EventType]TypeConfig

	// seeded reports whether a persisted config table was found at startup.
	// Startup overrides from the config file only apply when it was not:
	// runtime updates outlive deploys.
	seeded bool

	interval time.Duration
	stopChan chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// New builds a Scheduler, rehydrating the pending map and the configuration
// table from the store. Entries already due fire on the reaper's first pass
// after Start.
func New(ctx context.Context, st store.Store, gw gateway.Gateway, trail *audit.Service, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	s := &Scheduler{
		store:    st,
		gw:       gw,
		trail:    trail,
		pending:  make(map[string]Notification),
		status:   make(map[string]entryStatus),
		cfg:      defaultConfig(),
		interval: interval,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	var persisted map[string]Notification
	if err := st.Get(ctx, pendingKey, &persisted); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load pending notifications: %w", err)
	}
	for id, n := range persisted {
		s.pending[id] = n
		s.status[id] = statusPending
	}

	var savedCfg map[EventType]TypeConfig
	if err := st.Get(ctx, configKey, &savedCfg); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load notification config: %w", err)
	}
	for t, row := range savedCfg {
		if t.Valid() {
			s.cfg[t] = row
			s.seeded = true
		}
	}

	telemetry.NotificationsPending.Set(float64(len(s.pending)))
	return s, nil
}

// Start runs the reaper loop: an immediate pass for entries that came due
// before startup, then one pass per interval. Exits when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("notification scheduler started",
		"reap_interval", s.interval,
		"pending", s.pendingCount())

	s.reap(ctx)

	for {
		select {
		case <-ticker.C:
			s.reap(ctx)
		case <-s.stopChan:
			slog.Info("notification scheduler stopped")
			return
		case <-ctx.Done():
			slog.Info("notification scheduler context cancelled")
			return
		}
	}
}

// Stop signals the reaper loop to exit.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Schedule programs a notification of the given type. The fire time is
// now plus the type's configured delay. When the type is disabled this is a
// no-op and the returned id is empty.
func (s *Scheduler) Schedule(ctx context.Context, t EventType, payload Payload) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.cfg[t]
	if !row.Enabled {
		return "", nil
	}

	now := s.now().UTC()
	n := Notification{
		ID:        uuid.New().String(),
		Type:      t,
		FireAt:    now.Add(row.Delay()),
		Payload:   payload,
		CreatedAt: now,
	}

	s.pending[n.ID] = n
	s.status[n.ID] = statusPending
	if err := s.persistPending(ctx); err != nil {
		delete(s.pending, n.ID)
		delete(s.status, n.ID)
		return "", fmt.Errorf("persist notification: %w", err)
	}

	telemetry.NotificationsScheduledTotal.WithLabelValues(string(t)).Inc()
	telemetry.NotificationsPending.Set(float64(len(s.pending)))

	s.trail.Log(ctx, "notification_scheduled", map[string]any{
		"notification_id": n.ID,
		"event_type":      string(t),
		"fire_at":         n.FireAt,
	}, payload.ActorID, audit.SeverityInfo)

	return n.ID, nil
}

// Cancel removes a pending notification before it fires. Returns false when
// the id is unknown or the entry is already firing; a cancel that loses the
// race with the reaper does not undo the delivery.
func (s *Scheduler) Cancel(ctx context.Context, id string) bool {
	s.mu.Lock()

	st, ok := s.status[id]
	if !ok || st != statusPending {
		s.mu.Unlock()
		return false
	}
	n := s.pending[id]
	delete(s.pending, id)
	delete(s.status, id)
	if err := s.persistPending(ctx); err != nil {
		slog.Error("failed to persist notification cancellation", "id", id, "error", err)
	}
	pendingNow := len(s.pending)
	s.mu.Unlock()

	telemetry.NotificationsCancelledTotal.WithLabelValues(string(n.Type)).Inc()
	telemetry.NotificationsPending.Set(float64(pendingNow))

	s.trail.Log(ctx, "notification_cancelled", map[string]any{
		"notification_id": id,
		"event_type":      string(n.Type),
	}, n.Payload.ActorID, audit.SeverityInfo)

	return true
}

// Pending returns the redacted projection of every pending entry, ordered by
// fire time.
func (s *Scheduler) Pending() []PendingView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]PendingView, 0, len(s.pending))
	for _, n := range s.pending {
		views = append(views, PendingView{
			ID:          n.ID,
			Type:        n.Type,
			FireAt:      n.FireAt,
			CreatedAt:   n.CreatedAt,
			ContactName: n.Payload.Contact.Name,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].FireAt.Before(views[j].FireAt) })
	return views
}

// Config returns a copy of the current per-type configuration table.
func (s *Scheduler) Config() map[EventType]TypeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[EventType]TypeConfig, len(s.cfg))
	for t, row := range s.cfg {
		out[t] = row
	}
	return out
}

// UpdateConfig overwrites the configuration rows named in updates, leaving
// the rest untouched, persists the merged table, and returns a copy of it.
// Already-pending entries keep their original fire times. Unknown event
// types are rejected.
func (s *Scheduler) UpdateConfig(ctx context.Context, updates map[EventType]TypeConfig) (map[EventType]TypeConfig, error) {
	for t := range updates {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for t, row := range updates {
		if row.DelayMinutes < 0 {
			row.DelayMinutes = 0
		}
		s.cfg[t] = row
	}
	if err := s.store.Set(ctx, configKey, s.cfg); err != nil {
		return nil, fmt.Errorf("persist notification config: %w", err)
	}

	out := make(map[EventType]TypeConfig, len(s.cfg))
	for t, row := range s.cfg {
		out[t] = row
	}
	return out, nil
}

// SeedConfig applies config-file overrides to the per-type table. It is a
// no-op when a persisted table already exists, so operator updates made
// through the API survive restarts and redeploys.
func (s *Scheduler) SeedConfig(ctx context.Context, overrides map[EventType]TypeConfig) error {
	if s.seeded || len(overrides) == 0 {
		return nil
	}
	_, err := s.UpdateConfig(ctx, overrides)
	return err
}

// reap fires every entry whose fire time has passed, oldest first.
func (s *Scheduler) reap(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	due := make([]Notification, 0)
	for id, n := range s.pending {
		if s.status[id] == statusPending && !n.FireAt.After(now) {
			due = append(due, n)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	for _, n := range due {
		s.fire(ctx, n)
	}
}

// fire delivers one notification. The status transition out of
// statusPending is the commit point: a concurrent Cancel that ran first has
// already removed the entry, making this a no-op.
func (s *Scheduler) fire(ctx context.Context, n Notification) {
	s.mu.Lock()
	if st, ok := s.status[n.ID]; !ok || st != statusPending {
		s.mu.Unlock()
		return
	}
	s.status[n.ID] = statusFiring
	s.mu.Unlock()

	destination, body, err := composeMessage(n)
	if err != nil {
		slog.Error("notification message composition failed",
			"id", n.ID, "event_type", n.Type, "error", err)
		s.trail.Log(ctx, "notification_delivery_failed", map[string]any{
			"notification_id": n.ID,
			"event_type":      string(n.Type),
			"reason":          err.Error(),
		}, n.Payload.ActorID, audit.SeverityError)
		telemetry.NotificationDeliveryFailuresTotal.WithLabelValues(string(n.Type)).Inc()
		s.remove(ctx, n.ID)
		return
	}

	result, err := s.gw.SendText(ctx, destination, body, gateway.DeliveryContext{
		EventType: string(n.Type),
		RecordIDs: n.Payload.recordIDs(),
		ActorID:   n.Payload.ActorID,
	})
	if err != nil {
		slog.Error("notification delivery failed",
			"id", n.ID, "event_type", n.Type, "error", err)
		s.trail.Log(ctx, "notification_delivery_failed", map[string]any{
			"notification_id": n.ID,
			"event_type":      string(n.Type),
			"reason":          err.Error(),
		}, n.Payload.ActorID, audit.SeverityError)
		telemetry.NotificationDeliveryFailuresTotal.WithLabelValues(string(n.Type)).Inc()
	} else {
		s.trail.Log(ctx, "notification_sent", map[string]any{
			"notification_id": n.ID,
			"event_type":      string(n.Type),
			"message_id":      result.MessageID,
			"status":          result.Status,
			"records":         n.Payload.recordIDs(),
		}, n.Payload.ActorID, audit.SeverityInfo)
		telemetry.NotificationsFiredTotal.WithLabelValues(string(n.Type)).Inc()
	}

	// One attempt per entry: the entry is consumed whether or not the
	// provider accepted it. Failures live on in the audit trail.
	s.remove(ctx, n.ID)
}

// remove drops an entry from the in-memory and persisted pending maps.
func (s *Scheduler) remove(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.pending, id)
	delete(s.status, id)
	if err := s.persistPending(ctx); err != nil {
		slog.Error("failed to persist notification removal", "id", id, "error", err)
	}
	pendingNow := len(s.pending)
	s.mu.Unlock()

	telemetry.NotificationsPending.Set(float64(pendingNow))
}

// persistPending writes the whole pending map under its single key. Callers
// must hold s.mu; the scheduler is the only writer of the key.
func (s *Scheduler) persistPending(ctx context.Context) error {
	return s.store.Set(ctx, pendingKey, s.pending)
}

func (s *Scheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
