package httpapi

import (
	"errors"
	"net/http"
	"time"

	"civicdesk.org/internal/audit"
	"civicdesk.org/internal/auth"
	"civicdesk.org/internal/complaint"
	"civicdesk.org/internal/escalate"
)

type complaintView struct {
	ID              string     `json:"id"`
	Category        string     `json:"category"`
	Description     string     `json:"description"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	OwnerEmail      string     `json:"owner_email,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	EscalationLevel int        `json:"escalation_level"`
	LastEscalatedAt *time.Time `json:"last_escalated_at,omitempty"`
}

func viewComplaint(c *complaint.Complaint) complaintView {
	return complaintView{
		ID:              c.ID,
		Category:        c.Category,
		Description:     c.Description,
		Priority:        string(c.Priority),
		Status:          string(c.Status),
		OwnerEmail:      c.OwnerEmail,
		CreatedAt:       c.CreatedAt,
		ResolvedAt:      c.ResolvedAt,
		EscalationLevel: c.EscalationLevel,
		LastEscalatedAt: c.LastEscalatedAt,
	}
}

type escalationView struct {
	ID          string    `json:"id"`
	ComplaintID string    `json:"complaint_id"`
	Level       int       `json:"level"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewEscalation(rec *complaint.EscalationRecord) escalationView {
	return escalationView{
		ID:          rec.ID,
		ComplaintID: rec.ComplaintID,
		Level:       rec.Level,
		Reason:      rec.Reason,
		CreatedAt:   rec.CreatedAt,
	}
}

func (a *API) handleCreateComplaint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category    string `json:"category"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Authenticated submissions are attributed to the caller; everything
	// else stays anonymous.
	var ownerEmail string
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		ownerEmail = id.Email
	}
	c, err := a.complaints.Create(r.Context(), complaint.CreateInput{
		Category:    req.Category,
		Description: req.Description,
		Priority:    req.Priority,
		OwnerEmail:  ownerEmail,
	})
	if err != nil {
		handleComplaintError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "complaint.created", map[string]any{
		"complaint_id": c.ID,
		"priority":     string(c.Priority),
	})
	writeJSON(w, http.StatusCreated, map[string]any{"complaint": viewComplaint(c)})
}

func (a *API) handleListComplaints(w http.ResponseWriter, r *http.Request) {
	list, err := a.complaints.List(r.Context())
	if err != nil {
		handleComplaintError(w, r, err)
		return
	}
	out := make([]complaintView, 0, len(list))
	for _, c := range list {
		out = append(out, viewComplaint(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"complaints": out})
}

func (a *API) handleGetComplaint(w http.ResponseWriter, r *http.Request) {
	c, err := a.complaints.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleComplaintError(w, r, err)
		return
	}
	if err := authorizeOwner(r.Context(), c.OwnerEmail); err != nil {
		// Hide existence from callers who cannot see the resource.
		writeError(w, r, http.StatusNotFound, "complaint not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"complaint": viewComplaint(c)})
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	next, ok := complaint.ParseStatus(req.Status)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}
	c, err := a.complaints.SetStatus(r.Context(), r.PathValue("id"), next)
	if err != nil {
		handleComplaintError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "complaint.status.changed", map[string]any{
		"complaint_id": c.ID,
		"status":       string(c.Status),
	})
	writeJSON(w, http.StatusOK, map[string]any{"complaint": viewComplaint(c)})
}

func (a *API) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	recs, err := a.complaints.History(r.Context(), r.PathValue("id"))
	if err != nil {
		handleComplaintError(w, r, err)
		return
	}
	out := make([]escalationView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewEscalation(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": out})
}

func (a *API) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	res, err := a.sched.TriggerNow(r.Context())
	if err != nil {
		if errors.Is(err, escalate.ErrSweepInProgress) {
			writeError(w, r, http.StatusConflict, "a sweep is already running")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "sweep failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "escalation.sweep.triggered", map[string]any{
		"processed": res.Processed,
		"escalated": res.Escalated,
		"failed":    res.Failed,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"processed": res.Processed,
		"escalated": res.Escalated,
		"failed":    res.Failed,
	})
}

func handleComplaintError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, complaint.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, complaint.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "complaint not found")
	case errors.Is(err, complaint.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
