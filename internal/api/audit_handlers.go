// audit_handlers.go exposes the audit trail over HTTP: log export with
// filtering, event ingestion from the CRUD screens, alert listing and
// resolution, anomaly scans, and record integrity checks.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/threat"
)

// AuditHandlers serves the audit and threat-detection endpoints.
type AuditHandlers struct {
	trail    *audit.Service
	detector *threat.Detector
}

// NewAuditHandlers creates the audit endpoint handlers.
func NewAuditHandlers(trail *audit.Service, detector *threat.Detector) *AuditHandlers {
	return &AuditHandlers{trail: trail, detector: detector}
}

// ListLogs returns audit entries oldest first, optionally filtered. All
// query predicates are conjunctive:
//
//	level     exact severity match
//	action    substring match on the action name
//	actor_id  exact actor match
//	from, to  RFC3339 bounds on the entry timestamp
func (h *AuditHandlers) ListLogs(c *gin.Context) {
	f := audit.Filter{
		Level:          audit.Severity(c.Query("level")),
		ActionContains: c.Query("action"),
		ActorID:        c.Query("actor_id"),
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' timestamp, want RFC3339"})
			return
		}
		f.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' timestamp, want RFC3339"})
			return
		}
		f.To = &t
	}

	logs := h.trail.FilterLogs(c.Request.Context(), f)
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

type recordEventRequest struct {
	Action  string         `json:"action" binding:"required"`
	Details map[string]any `json:"details"`
	ActorID string         `json:"actor_id"`
	Level   string         `json:"level"`
}

// RecordEvent writes one audit entry and immediately analyzes the actor's
// recent activity against the threat rules. This is the integration point
// for the CRUD screens: every create/update/delete lands here.
func (h *AuditHandlers) RecordEvent(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := h.trail.Log(c.Request.Context(), req.Action, req.Details, req.ActorID, audit.Severity(req.Level))
	h.detector.AnalyzeActivity(c.Request.Context(), req.Action, req.ActorID)

	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// ListAlerts returns every alert, resolved or not, oldest first.
func (h *AuditHandlers) ListAlerts(c *gin.Context) {
	alerts := h.trail.GetAlerts(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// ResolveAlert marks an alert resolved. Resolving an already-resolved or
// unknown alert is a no-op, so the endpoint always returns 204.
func (h *AuditHandlers) ResolveAlert(c *gin.Context) {
	h.trail.ResolveAlert(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

// ListAnomalies runs the full-history anomaly scan for one actor.
func (h *AuditHandlers) ListAnomalies(c *gin.Context) {
	actorID := c.Query("actor_id")
	if actorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id query parameter is required"})
		return
	}

	anomalies := h.detector.DetectAnomalies(c.Request.Context(), actorID)
	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies, "count": len(anomalies)})
}

type integrityCheckRequest struct {
	ActorID  string         `json:"actor_id"`
	Original map[string]any `json:"original" binding:"required"`
	Updated  map[string]any `json:"updated" binding:"required"`
}

// CheckIntegrity compares an original and an updated record and reports
// whether the update leaves the immutable fields untouched. A violation is
// recorded in the audit trail as a critical entry.
func (h *AuditHandlers) CheckIntegrity(c *gin.Context) {
	var req integrityCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	valid := h.detector.VerifyDataIntegrity(c.Request.Context(), req.ActorID, req.Original, req.Updated)
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}
