// notification_handlers.go exposes the deferred-notification scheduler:
// programming and cancelling notifications, the redacted pending view, and
// the per-type configuration table.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meridian-crm/meridian/internal/scheduler"
)

// NotificationHandlers serves the notification endpoints.
type NotificationHandlers struct {
	sched *scheduler.Scheduler
}

// NewNotificationHandlers creates the notification endpoint handlers.
func NewNotificationHandlers(sched *scheduler.Scheduler) *NotificationHandlers {
	return &NotificationHandlers{sched: sched}
}

type scheduleRequest struct {
	EventType scheduler.EventType `json:"event_type" binding:"required"`
	Payload   scheduler.Payload   `json:"payload"`
}

// Schedule programs a notification. A disabled event type is accepted but
// schedules nothing; the response carries scheduled=false so callers can
// tell the difference.
func (h *NotificationHandlers) Schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.sched.Schedule(c.Request.Context(), req.EventType, req.Payload)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownEventType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule notification"})
		return
	}
	if id == "" {
		c.JSON(http.StatusOK, gin.H{"scheduled": false, "reason": "event type disabled"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"scheduled": true, "id": id})
}

// Cancel removes a pending notification. 404 covers both an unknown id and
// an entry that already fired or lost the race to the reaper: in every case
// there is nothing left to cancel.
func (h *NotificationHandlers) Cancel(c *gin.Context) {
	if !h.sched.Cancel(c.Request.Context(), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found or already fired"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Pending returns the redacted view of every pending notification, ordered
// by fire time.
func (h *NotificationHandlers) Pending(c *gin.Context) {
	views := h.sched.Pending()
	c.JSON(http.StatusOK, gin.H{"notifications": views, "count": len(views)})
}

// GetConfig returns the per-type configuration table.
func (h *NotificationHandlers) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"config": h.sched.Config()})
}

// UpdateConfig overwrites the configuration rows named in the request body
// and leaves the rest untouched. Each named row is replaced whole; pending
// notifications keep their original fire times.
func (h *NotificationHandlers) UpdateConfig(c *gin.Context) {
	var updates map[scheduler.EventType]scheduler.TypeConfig
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no configuration rows in request body"})
		return
	}

	merged, err := h.sched.UpdateConfig(c.Request.Context(), updates)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownEventType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification config"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": merged})
}
