package alerting

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/vigil/internal/audit"
	"github.com/good-yellow-bee/vigil/internal/health"
	"github.com/good-yellow-bee/vigil/internal/models"
	"github.com/good-yellow-bee/vigil/internal/storage"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.ActionType
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) storage.AlertRepository {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store.Alerts()
}

func newTestEngine(t *testing.T, cooldown time.Duration) (*Engine, *recordingAudit, *clock) {
	t.Helper()

	rec := &recordingAudit{}
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(newTestStore(t), EngineOptions{
		Cooldown: cooldown,
		Audit:    rec,
		Now:      clk.Now,
	})
	return e, rec, clk
}

func result(services map[string]bool) *health.Result {
	res := &health.Result{Timestamp: time.Now()}
	unhealthy := 0
	for _, name := range []string{"user-service", "stall-service", "reservation-service", "notification-service", "database"} {
		ok, present := services[name]
		if !present {
			continue
		}
		sh := models.ServiceHealth{Name: name, Status: models.StatusHealthy, ResponseTimeMs: 12, Message: "OK"}
		if !ok {
			sh.Status = models.StatusUnhealthy
			sh.ResponseTimeMs = models.UnknownResponseTime
			sh.Message = "connection refused"
			unhealthy++
		}
		res.Services = append(res.Services, sh)
	}
	res.TotalCount = len(res.Services)
	res.HealthyCount = res.TotalCount - unhealthy
	res.OverallStatus = health.OverallFor(unhealthy)
	return res
}

func TestEngine_EvaluateDegraded(t *testing.T) {
	e, rec, _ := newTestEngine(t, 0)
	ctx := context.Background()

	res := result(map[string]bool{
		"user-service":         true,
		"stall-service":        false,
		"reservation-service":  true,
		"notification-service": true,
	})
	require.Equal(t, models.OverallDegraded, res.OverallStatus)

	created, err := e.Evaluate(ctx, res)
	require.NoError(t, err)
	require.Len(t, created, 1)

	a := created[0]
	assert.Equal(t, models.AlertTypeServiceDown, a.Type)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.Equal(t, models.AlertOpen, a.Status)
	assert.Equal(t, "stall-service", a.ServiceName)
	assert.Equal(t, SystemMonitorSource, a.Source)
	assert.Contains(t, a.Message, "stall-service")
	assert.Contains(t, a.Message, "connection refused")

	stored, err := e.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)

	assert.Equal(t, []string{models.ActionAlertCreated}, rec.actions())
	assert.Equal(t, int64(1), e.Stats().AlertsCreated.Load())
}

func TestEngine_EvaluateCriticalAndDeduplicates(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	res := result(map[string]bool{
		"user-service":         false,
		"stall-service":        false,
		"reservation-service":  false,
		"notification-service": true,
	})
	require.Equal(t, models.OverallCritical, res.OverallStatus)

	created, err := e.Evaluate(ctx, res)
	require.NoError(t, err)
	require.Len(t, created, 3)
	for _, a := range created {
		assert.Equal(t, models.SeverityCritical, a.Severity)
	}

	// Same outage on the next run raises nothing new.
	created, err = e.Evaluate(ctx, res)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Equal(t, int64(3), e.Stats().AlertsSuppressed.Load())

	counts, err := e.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.AlertOpen])
}

func TestEngine_EvaluateHealthyRaisesNothing(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)

	created, err := e.Evaluate(context.Background(), result(map[string]bool{
		"user-service":  true,
		"stall-service": true,
	}))
	require.NoError(t, err)
	assert.Empty(t, created)

	created, err = e.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestEngine_AcknowledgedAlertStillSuppresses(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()
	res := result(map[string]bool{"stall-service": false})

	created, err := e.Evaluate(ctx, res)
	require.NoError(t, err)
	require.Len(t, created, 1)

	_, err = e.Acknowledge(ctx, created[0].ID, "oncall")
	require.NoError(t, err)

	again, err := e.Evaluate(ctx, res)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = e.Resolve(ctx, created[0].ID, "oncall", "restarted")
	require.NoError(t, err)

	again, err = e.Evaluate(ctx, res)
	require.NoError(t, err)
	assert.Len(t, again, 1, "resolved alerts do not suppress new ones")
}

func TestEngine_Cooldown(t *testing.T) {
	e, _, clk := newTestEngine(t, 15*time.Minute)
	ctx := context.Background()
	res := result(map[string]bool{"user-service": false})

	created, err := e.Evaluate(ctx, res)
	require.NoError(t, err)
	require.Len(t, created, 1)
	_, err = e.Resolve(ctx, created[0].ID, "oncall", "flapped")
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	created, err = e.Evaluate(ctx, res)
	require.NoError(t, err)
	assert.Empty(t, created, "within cooldown")

	clk.Advance(11 * time.Minute)
	created, err = e.Evaluate(ctx, res)
	require.NoError(t, err)
	assert.Len(t, created, 1, "after cooldown")
	_, err = e.Resolve(ctx, created[0].ID, "oncall", "recovered")
	require.NoError(t, err)

	// Expired cooldowns are pruned on the next evaluation.
	clk.Advance(time.Hour)
	_, err = e.Evaluate(ctx, result(map[string]bool{"user-service": true}))
	require.NoError(t, err)
	assert.Zero(t, e.cooldown.Len())
}

func TestEngine_Lifecycle(t *testing.T) {
	e, rec, clk := newTestEngine(t, 0)
	ctx := context.Background()

	a, err := e.CreateAlert(ctx, CreateRequest{
		Type:        models.AlertTypeHighCPUUsage,
		Severity:    models.SeverityMedium,
		ServiceName: "user-service",
		Title:       "CPU",
		Message:     "CPU above 90%",
		CreatedBy:   "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ManualSource, a.Source)
	assert.Equal(t, models.AlertOpen, a.Status)

	clk.Advance(time.Minute)
	acked, err := e.Acknowledge(ctx, a.ID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, acked.Status)
	assert.Equal(t, "admin-2", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.True(t, acked.AcknowledgedAt.Equal(clk.Now()))

	_, err = e.Acknowledge(ctx, a.ID, "admin-3")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	clk.Advance(time.Minute)
	resolved, err := e.Resolve(ctx, a.ID, "admin-2", "scaled out")
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, resolved.Status)
	assert.Equal(t, "scaled out", resolved.ResolutionNotes)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "admin-2", resolved.AcknowledgedBy, "acknowledgement is kept")

	_, err = e.Resolve(ctx, a.ID, "admin-2", "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = e.Acknowledge(ctx, a.ID, "admin-2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := e.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, stored.Status)
	assert.Equal(t, int64(3), stored.Version)

	assert.Equal(t, []string{
		models.ActionAlertCreated,
		models.ActionAlertAcknowledged,
		models.ActionAlertResolved,
	}, rec.actions())
}

func TestEngine_ResolveFromOpen(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	created, err := e.Evaluate(ctx, result(map[string]bool{"database": false}))
	require.NoError(t, err)
	require.Len(t, created, 1)

	resolved, err := e.Resolve(ctx, created[0].ID, "admin", "")
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, resolved.Status)
	assert.Nil(t, resolved.AcknowledgedAt)
}

func TestEngine_ConcurrentAcknowledge(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	a, err := e.CreateAlert(ctx, CreateRequest{
		Type:     models.AlertTypeSecurityBreach,
		Severity: models.SeverityCritical,
		Title:    "Suspicious logins",
		Message:  "many failed logins",
	})
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Acknowledge(ctx, a.ID, "admin")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInvalidTransition):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
}

func TestEngine_NotFound(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	_, err := e.Acknowledge(ctx, "missing", "admin")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	_, err = e.Resolve(ctx, "missing", "admin", "")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	_, err = e.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestEngine_TransitionRequiresActor(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	_, err := e.Acknowledge(ctx, "any", " ")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = e.Resolve(ctx, "any", "", "notes")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateRequest_Validate(t *testing.T) {
	valid := CreateRequest{
		Type:     models.AlertTypeServiceDown,
		Severity: models.SeverityLow,
		Title:    "t",
		Message:  "m",
	}

	tests := []struct {
		name    string
		modify  func(*CreateRequest)
		wantErr bool
		errMsg  string
	}{
		{name: "valid", modify: func(*CreateRequest) {}},
		{name: "bad type", modify: func(r *CreateRequest) { r.Type = "DISK" }, wantErr: true, errMsg: "unknown type"},
		{name: "bad severity", modify: func(r *CreateRequest) { r.Severity = "SEVERE" }, wantErr: true, errMsg: "unknown severity"},
		{name: "missing title", modify: func(r *CreateRequest) { r.Title = "" }, wantErr: true, errMsg: "title is required"},
		{name: "missing message", modify: func(r *CreateRequest) { r.Message = "  " }, wantErr: true, errMsg: "message is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.modify(&req)
			err := req.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRequest)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEngine_OnCreateHook(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)

	var got []string
	e.OnCreate(func(_ context.Context, a *models.Alert) {
		got = append(got, a.ServiceName)
	})

	_, err := e.Evaluate(context.Background(), result(map[string]bool{
		"user-service":  false,
		"stall-service": false,
	}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-service", "stall-service"}, got)
}

type failingStore struct {
	Store
}

func (failingStore) FindActive(context.Context, string, models.AlertType) (*models.Alert, error) {
	return nil, errors.New("disk I/O error")
}

func TestEngine_EvaluateLookupFailure(t *testing.T) {
	e := NewEngine(failingStore{}, EngineOptions{})

	created, err := e.Evaluate(context.Background(), result(map[string]bool{"user-service": false}))
	assert.Empty(t, created)
	assert.ErrorContains(t, err, "disk I/O error")
}

func TestCooldownManager(t *testing.T) {
	cm := NewCooldownManager()
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, cm.IsOnCooldown("user-service", models.AlertTypeServiceDown, baseTime))

	cm.SetCooldown("user-service", models.AlertTypeServiceDown, 5*time.Minute, baseTime)

	assert.True(t, cm.IsOnCooldown("user-service", models.AlertTypeServiceDown, baseTime.Add(2*time.Minute)))
	assert.False(t, cm.IsOnCooldown("user-service", models.AlertTypeHighCPUUsage, baseTime.Add(2*time.Minute)))
	assert.False(t, cm.IsOnCooldown("stall-service", models.AlertTypeServiceDown, baseTime.Add(2*time.Minute)))
	assert.False(t, cm.IsOnCooldown("user-service", models.AlertTypeServiceDown, baseTime.Add(6*time.Minute)))

	cm.SetCooldown("stall-service", models.AlertTypeServiceDown, time.Hour, baseTime)
	require.Equal(t, 2, cm.Len())

	cm.Prune(baseTime.Add(10 * time.Minute))
	assert.Equal(t, 1, cm.Len(), "only the expired pair is dropped")
	assert.True(t, cm.IsOnCooldown("stall-service", models.AlertTypeServiceDown, baseTime.Add(10*time.Minute)))
}
