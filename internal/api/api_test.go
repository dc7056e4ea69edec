package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/vigil/internal/alerting"
	"github.com/good-yellow-bee/vigil/internal/delivery"
	"github.com/good-yellow-bee/vigil/internal/health"
	"github.com/good-yellow-bee/vigil/internal/models"
	"github.com/good-yellow-bee/vigil/internal/scheduler"
	"github.com/good-yellow-bee/vigil/internal/storage"
)

type fakeHealth struct {
	runs atomic.Int32
	res  *health.Result
}

func (f *fakeHealth) Refresh(context.Context) *health.Result {
	f.runs.Add(1)
	return f.res
}

func (f *fakeHealth) Current(context.Context, time.Duration) *health.Result {
	return f.res
}

type nopSender struct{}

func (nopSender) Send(context.Context, *models.QueueItem) error { return nil }

type brokenSnapshots struct{}

func (brokenSnapshots) List(context.Context, models.SnapshotFilter) ([]*models.HealthSnapshot, error) {
	return nil, errors.New("database is locked")
}

func (brokenSnapshots) Recent(context.Context, int) ([]*models.HealthSnapshot, error) {
	return nil, errors.New("database is locked")
}

type fakeJobs struct{}

func (fakeJobs) Jobs() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: scheduler.JobHealth, Every: 5 * time.Minute, Runs: 3}}
}

type testEnv struct {
	handler http.Handler
	store   *storage.SQLiteStorage
	health  *fakeHealth
	engine  *alerting.Engine
	queue   *delivery.Queue
}

// newTestEnv wires the API to real alert and queue services over a temp
// SQLite database.
func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	env := &testEnv{
		store: store,
		health: &fakeHealth{res: &health.Result{
			OverallStatus: models.OverallDegraded,
			Services: []models.ServiceHealth{
				{Name: "user-service", Status: models.StatusHealthy, ResponseTimeMs: 12},
				{Name: "stall-service", Status: models.StatusUnhealthy, ResponseTimeMs: models.UnknownResponseTime, Message: "connection refused"},
			},
			HealthyCount: 1,
			TotalCount:   2,
			Timestamp:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		}},
		engine: alerting.NewEngine(store.Alerts(), alerting.EngineOptions{}),
		queue:  delivery.NewQueue(store.Queue(), nopSender{}, delivery.Config{}, delivery.Options{}),
	}

	deps := Deps{
		Health:        env.health,
		Snapshots:     store.Snapshots(),
		Alerts:        env.engine,
		Notifications: env.queue,
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(&Config{Address: ":0", RateLimitPerIP: 1000}, deps, nil)
	require.NoError(t, err)
	env.handler = srv.Handler()
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

// decode unwraps the response envelope into data or apiErr.
func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) *Error {
	t.Helper()

	var resp struct {
		Data  json.RawMessage `json:"data"`
		Error *Error          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	if resp.Error != nil {
		return resp.Error
	}
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Deps{}, nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = New(&Config{}, Deps{}, nil)
	assert.ErrorContains(t, err, "health service is required")
}

func TestLiveness(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"status":"ok"}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestGetHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res health.Result
	require.Nil(t, decode(t, rec, &res))
	assert.Equal(t, models.OverallDegraded, res.OverallStatus)
	assert.Equal(t, 1, res.HealthyCount)
	assert.Equal(t, 2, res.TotalCount)
	require.Len(t, res.Services, 2)
	assert.Equal(t, int64(-1), res.Services[1].ResponseTimeMs)
	assert.Equal(t, int32(0), env.health.runs.Load(), "cached result is served")

	env.do(t, http.MethodGet, "/api/v1/health?refresh=true", nil)
	assert.Equal(t, int32(1), env.health.runs.Load())
}

func TestSnapshots(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, env.store.Snapshots().Insert(ctx, &models.HealthSnapshot{
			ID:            "snap-" + string(rune('a'+i)),
			CheckedAt:     base.Add(time.Duration(i) * time.Hour),
			OverallStatus: models.OverallHealthy,
			Services:      []models.ServiceSample{{Name: "user-service", Status: models.StatusHealthy, ResponseTimeMs: 10}},
		}))
	}

	var list ListResponse
	rec := env.do(t, http.MethodGet, "/api/v1/snapshots?service=user-service&since=2024-05-01T00:30:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decode(t, rec, &list))
	assert.Equal(t, 2, list.Count)

	rec = env.do(t, http.MethodGet, "/api/v1/snapshots/recent?limit=1", nil)
	require.Nil(t, decode(t, rec, &list))
	assert.Equal(t, 1, list.Count)

	rec = env.do(t, http.MethodGet, "/api/v1/snapshots?service=unknown", nil)
	require.Nil(t, decode(t, rec, &list))
	assert.Equal(t, 0, list.Count)
	assert.Contains(t, rec.Body.String(), `"items":[]`)
}

func TestBadQueryParameters(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		path string
	}{
		{"bad limit", "/api/v1/snapshots?limit=abc"},
		{"negative limit", "/api/v1/alerts/recent?limit=-1"},
		{"bad since", "/api/v1/snapshots?since=yesterday"},
		{"inverted range", "/api/v1/snapshots?since=2024-05-02T00:00:00Z&until=2024-05-01T00:00:00Z"},
		{"bad severity", "/api/v1/alerts?severity=SEVERE"},
		{"bad alert status", "/api/v1/alerts?status=CLOSED"},
		{"bad queue status", "/api/v1/notifications?status=QUEUED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			apiErr := decode(t, rec, nil)
			require.NotNil(t, apiErr)
			assert.Equal(t, ErrCodeBadRequest, apiErr.Code)
		})
	}
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/alerts", CreateAlertRequest{
		Type:        models.AlertTypeDataInconsistency,
		Severity:    models.SeverityMedium,
		ServiceName: "reservation-service",
		Title:       "Double booking",
		Message:     "stall B12 reserved twice",
		CreatedBy:   "ops-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var alert models.Alert
	require.Nil(t, decode(t, rec, &alert))
	assert.Equal(t, models.AlertOpen, alert.Status)
	assert.Equal(t, alerting.ManualSource, alert.Source)

	rec = env.do(t, http.MethodGet, "/api/v1/alerts/"+alert.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/acknowledge", AcknowledgeRequest{AcknowledgedBy: "ops-2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Nil(t, decode(t, rec, &alert))
	assert.Equal(t, models.AlertAcknowledged, alert.Status)
	assert.Equal(t, "ops-2", alert.AcknowledgedBy)

	// A second acknowledge is not a valid transition.
	rec = env.do(t, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/acknowledge", AcknowledgeRequest{AcknowledgedBy: "ops-3"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/resolve", ResolveRequest{ResolvedBy: "ops-2", ResolutionNotes: "refunded"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decode(t, rec, &alert))
	assert.Equal(t, models.AlertResolved, alert.Status)
	assert.Equal(t, "refunded", alert.ResolutionNotes)

	rec = env.do(t, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/resolve", ResolveRequest{ResolvedBy: "ops-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var sum AlertSummary
	rec = env.do(t, http.MethodGet, "/api/v1/alerts/summary", nil)
	require.Nil(t, decode(t, rec, &sum))
	assert.Equal(t, AlertSummary{Resolved: 1}, sum)

	var list ListResponse
	rec = env.do(t, http.MethodGet, "/api/v1/alerts?status=RESOLVED&service=reservation-service", nil)
	require.Nil(t, decode(t, rec, &list))
	assert.Equal(t, 1, list.Count)
}

func TestAlertErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	created, err := env.engine.CreateAlert(context.Background(), alerting.CreateRequest{
		Type: models.AlertTypeCustom, Severity: models.SeverityLow, Title: "t", Message: "m",
	})
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unknown alert", http.MethodGet, "/api/v1/alerts/nope", nil, http.StatusNotFound, ErrCodeNotFound},
		{"ack unknown alert", http.MethodPut, "/api/v1/alerts/nope/acknowledge", AcknowledgeRequest{AcknowledgedBy: "x"}, http.StatusNotFound, ErrCodeNotFound},
		{"ack without actor", http.MethodPut, "/api/v1/alerts/" + created.ID + "/acknowledge", AcknowledgeRequest{}, http.StatusBadRequest, ErrCodeValidationFailed},
		{"create missing title", http.MethodPost, "/api/v1/alerts", CreateAlertRequest{Type: models.AlertTypeCustom, Severity: models.SeverityLow, Message: "m"}, http.StatusBadRequest, ErrCodeValidationFailed},
		{"create unknown type", http.MethodPost, "/api/v1/alerts", CreateAlertRequest{Type: "OUTAGE", Severity: models.SeverityLow, Title: "t", Message: "m"}, http.StatusBadRequest, ErrCodeValidationFailed},
		{"malformed body", http.MethodPost, "/api/v1/alerts", `{"title":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/alerts", `{"status":"RESOLVED"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nothing", nil, http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			apiErr := decode(t, rec, nil)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications", EnqueueRequest{
		NotificationType: models.NotificationEmail,
		RecipientType:    models.RecipientExternal,
		RecipientEmail:   "vendor@example.com",
		Subject:          "Stall confirmed",
		Message:          "Your stall is confirmed.",
		Priority:         models.PriorityHigh,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var item models.QueueItem
	require.Nil(t, decode(t, rec, &item))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, models.QueuePending, item.Status)
	assert.Equal(t, models.DefaultMaxRetries, item.MaxRetries)

	rec = env.do(t, http.MethodGet, "/api/v1/notifications/"+item.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := env.queue.DrainDue(context.Background(), 10)
	require.NoError(t, err)

	var status QueueStatusResponse
	rec = env.do(t, http.MethodGet, "/api/v1/notifications/status", nil)
	require.Nil(t, decode(t, rec, &status))
	assert.Equal(t, int64(1), status.Sent)
	assert.Equal(t, int64(1), status.Total)

	var list ListResponse
	rec = env.do(t, http.MethodGet, "/api/v1/notifications?status=SENT", nil)
	require.Nil(t, decode(t, rec, &list))
	assert.Equal(t, 1, list.Count)

	rec = env.do(t, http.MethodPost, "/api/v1/notifications", EnqueueRequest{
		NotificationType: models.NotificationEmail,
		RecipientType:    models.RecipientExternal,
		Message:          "no address",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decode(t, rec, nil)
	require.NotNil(t, apiErr)
	assert.Contains(t, apiErr.Message, "recipient_email")

	rec = env.do(t, http.MethodGet, "/api/v1/notifications/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Snapshots = brokenSnapshots{} })

	rec := env.do(t, http.MethodGet, "/api/v1/snapshots", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	apiErr := decode(t, rec, nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, ErrCodeUnavailable, apiErr.Code)
	assert.NotContains(t, apiErr.Message, "locked", "internal errors are not leaked")
}

func TestJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/jobs", nil).Code)

	env = newTestEnv(t, func(d *Deps) { d.Jobs = fakeJobs{} })
	rec := env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Items []scheduler.JobStatus `json:"items"`
	}
	require.Nil(t, decode(t, rec, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, scheduler.JobHealth, list.Items[0].Name)
}

func TestWriteRateLimit(t *testing.T) {
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "rl.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	srv, err := New(&Config{RateLimitPerIP: 1}, Deps{
		Health:        &fakeHealth{res: &health.Result{}},
		Snapshots:     store.Snapshots(),
		Alerts:        alerting.NewEngine(store.Alerts(), alerting.EngineOptions{}),
		Notifications: delivery.NewQueue(store.Queue(), nopSender{}, delivery.Config{}, delivery.Options{}),
	}, nil)
	require.NoError(t, err)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusBadRequest, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	// Reads are not limited.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthRefreshIsRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	srv, err := New(&Config{RateLimitPerIP: 1}, Deps{
		Health:        env.health,
		Snapshots:     env.store.Snapshots(),
		Alerts:        env.engine,
		Notifications: env.queue,
	}, nil)
	require.NoError(t, err)

	get := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/api/v1/health?refresh=true"))
	assert.Equal(t, http.StatusTooManyRequests, get("/api/v1/health?refresh=true"))
	assert.Equal(t, int32(1), env.health.runs.Load(), "throttled refresh does not probe")

	// Cached reads stay available.
	assert.Equal(t, http.StatusOK, get("/api/v1/health"))
	assert.Equal(t, http.StatusOK, get("/api/v1/health?refresh=false"))
}
