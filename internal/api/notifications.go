package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// EnqueueRequest is the body of POST /api/v1/notifications.
type EnqueueRequest struct {
	NotificationType models.NotificationType `json:"notification_type"`
	RecipientType    models.RecipientType    `json:"recipient_type"`
	RecipientID      string                  `json:"recipient_id"`
	RecipientEmail   string                  `json:"recipient_email"`
	RecipientPhone   string                  `json:"recipient_phone"`
	Subject          string                  `json:"subject"`
	Message          string                  `json:"message"`
	Priority         models.Priority         `json:"priority"`
	ScheduledAt      *time.Time              `json:"scheduled_at"`
	MaxRetries       int                     `json:"max_retries"`
	CreatedBy        string                  `json:"created_by"`
}

func (req EnqueueRequest) item() *models.QueueItem {
	item := &models.QueueItem{
		NotificationType: req.NotificationType,
		RecipientType:    req.RecipientType,
		RecipientID:      req.RecipientID,
		RecipientEmail:   req.RecipientEmail,
		RecipientPhone:   req.RecipientPhone,
		Subject:          req.Subject,
		Message:          req.Message,
		Priority:         req.Priority,
		MaxRetries:       req.MaxRetries,
		CreatedBy:        req.CreatedBy,
	}
	if req.ScheduledAt != nil {
		item.ScheduledAt = req.ScheduledAt.UTC()
	}
	return item
}

func (s *Server) enqueueNotification(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	item := req.item()
	if err := s.deps.Notifications.Enqueue(ctx, item); err != nil {
		s.fail(w, r, err)
		return
	}
	Created(w, item)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	filter := models.QueueFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := models.QueueStatus(raw)
		if !st.IsValid() {
			s.fail(w, r, NewBadRequest("invalid status: "+raw))
			return
		}
		filter.Status = st
	}
	var err error
	if filter.Limit, err = parseLimit(r, defaultLimit); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	items, err := s.deps.Notifications.List(ctx, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: nonNil(items), Count: len(items)})
}

// QueueStatusResponse is the body of GET /api/v1/notifications/status.
type QueueStatusResponse struct {
	models.QueueCounts
	Total int64 `json:"total"`
}

func (s *Server) notificationStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	counts, err := s.deps.Notifications.Status(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, QueueStatusResponse{QueueCounts: counts, Total: counts.Total()})
}

func (s *Server) getNotification(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	item, err := s.deps.Notifications.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, item)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Jobs.Jobs()
	OK(w, ListResponse{Items: nonNil(jobs), Count: len(jobs)})
}
