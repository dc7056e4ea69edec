package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/vigil/internal/alerting"
	"github.com/good-yellow-bee/vigil/internal/models"
)

// CreateAlertRequest is the body of POST /api/v1/alerts.
type CreateAlertRequest struct {
	Type        models.AlertType `json:"type"`
	Severity    models.Severity  `json:"severity"`
	ServiceName string           `json:"service_name"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	CreatedBy   string           `json:"created_by"`
}

// AcknowledgeRequest is the body of PUT /api/v1/alerts/{id}/acknowledge.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// ResolveRequest is the body of PUT /api/v1/alerts/{id}/resolve.
type ResolveRequest struct {
	ResolvedBy      string `json:"resolved_by"`
	ResolutionNotes string `json:"resolution_notes"`
}

// AlertSummary counts alerts per lifecycle state.
type AlertSummary struct {
	Open         int64 `json:"open"`
	Acknowledged int64 `json:"acknowledged"`
	Resolved     int64 `json:"resolved"`
	Active       int64 `json:"active"`
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AlertFilter{ServiceName: q.Get("service")}

	if raw := q.Get("severity"); raw != "" {
		sev, err := models.ParseSeverity(raw)
		if err != nil {
			s.fail(w, r, NewBadRequest(err.Error()))
			return
		}
		filter.Severity = sev
	}
	if raw := q.Get("status"); raw != "" {
		st := models.AlertStatus(raw)
		if !st.IsValid() {
			s.fail(w, r, NewBadRequest("invalid status: "+raw))
			return
		}
		filter.Status = st
	}

	var err error
	if filter.Since, err = parseTime(r, "since"); err != nil {
		s.fail(w, r, err)
		return
	}
	if filter.Limit, err = parseLimit(r, defaultLimit); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	alerts, err := s.deps.Alerts.List(ctx, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: nonNil(alerts), Count: len(alerts)})
}

func (s *Server) recentAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 10)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	alerts, err := s.deps.Alerts.Recent(ctx, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: nonNil(alerts), Count: len(alerts)})
}

func (s *Server) alertSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	counts, err := s.deps.Alerts.CountByStatus(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sum := AlertSummary{
		Open:         counts[models.AlertOpen],
		Acknowledged: counts[models.AlertAcknowledged],
		Resolved:     counts[models.AlertResolved],
	}
	sum.Active = sum.Open + sum.Acknowledged
	OK(w, sum)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	alert, err := s.deps.Alerts.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, alert)
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	alert, err := s.deps.Alerts.CreateAlert(ctx, alerting.CreateRequest{
		Type:        req.Type,
		Severity:    req.Severity,
		ServiceName: req.ServiceName,
		Title:       req.Title,
		Message:     req.Message,
		Source:      alerting.ManualSource,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	Created(w, alert)
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	alert, err := s.deps.Alerts.Acknowledge(ctx, chi.URLParam(r, "id"), req.AcknowledgedBy)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, alert)
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	alert, err := s.deps.Alerts.Resolve(ctx, chi.URLParam(r, "id"), req.ResolvedBy, req.ResolutionNotes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, alert)
}
