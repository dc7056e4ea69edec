package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/vigil/internal/alerting"
	"github.com/good-yellow-bee/vigil/internal/audit"
	"github.com/good-yellow-bee/vigil/internal/delivery"
	"github.com/good-yellow-bee/vigil/internal/health"
	"github.com/good-yellow-bee/vigil/internal/models"
	"github.com/good-yellow-bee/vigil/internal/notifier"
	"github.com/good-yellow-bee/vigil/internal/scheduler"
	"github.com/good-yellow-bee/vigil/internal/storage"
)

// databaseProbeName is the probe reporting on vigil's own datastore.
const databaseProbeName = "database"

// app holds the wired components. Fields are nil when the command did not
// need them.
type app struct {
	cfg    *Config
	logger *zap.Logger

	store      *storage.SQLiteStorage
	aggregator *health.Aggregator
	audit      *audit.Sink
	engine     *alerting.Engine
	dispatcher *notifier.Dispatcher
	queue      *delivery.Queue
	scheduler  *scheduler.Scheduler

	closers []func() error
}

// openStore opens and migrates the SQLite database, creating its directory.
func (a *app) openStore() error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Database.Path), 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(a.cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	a.store = store
	a.logger.Info("database initialized", zap.String("path", a.cfg.Database.Path))
	return nil
}

// buildProbes creates the configured probes plus the datastore probe.
func (a *app) buildProbes() ([]health.Probe, error) {
	probes := make([]health.Probe, 0, len(a.cfg.Health.Services)+1)
	for _, svc := range a.cfg.Health.Services {
		switch svc.Kind {
		case ProbeGRPC:
			p, err := health.NewGRPCProbe(svc.Name, svc.Target, svc.GRPCService)
			if err != nil {
				return nil, fmt.Errorf("probe %s: %w", svc.Name, err)
			}
			a.closers = append(a.closers, p.Close)
			probes = append(probes, p)
		default:
			probes = append(probes, health.NewHTTPProbe(svc.Name, svc.URL, nil))
		}
	}
	probes = append(probes, health.NewDatabaseProbe(databaseProbeName, a.store.DB()))
	return probes, nil
}

// buildAggregator wires the probe set. persist controls whether runs are
// written to the metric store.
func (a *app) buildAggregator(persist bool) error {
	probes, err := a.buildProbes()
	if err != nil {
		return err
	}

	var writer health.SnapshotWriter
	if persist {
		writer = a.store.Snapshots()
	}
	opts := []health.Option{
		health.WithLogger(a.logger),
		health.WithConnectionCounter(func() int { return a.store.DB().Stats().InUse }),
	}
	if !a.cfg.Health.SkipResources {
		opts = append(opts, health.WithResourceSampler(health.HostSampler{DiskPath: a.cfg.Health.DiskPath}))
	}

	a.aggregator = health.NewAggregator(probes, writer, health.Config{
		ProbeTimeout:   a.cfg.Health.ProbeTimeout,
		MaxConcurrency: a.cfg.Health.MaxConcurrency,
	}, opts...)
	return nil
}

// buildDispatcher registers a transport per channel. Every transport sits
// behind its own circuit breaker; channels without one are logged.
func (a *app) buildDispatcher(ctx context.Context) error {
	nc := a.cfg.Notifiers
	rl := a.cfg.Queue.RecipientRate
	d := notifier.NewDispatcherWithRateLimit(notifier.RateLimitConfig{
		MaxPerWindow: rl.MaxPerWindow,
		Window:       rl.Window,
		Enabled:      !rl.Disabled,
	})
	a.closers = append(a.closers, d.Close)
	a.dispatcher = d

	breaker := notifier.BreakerConfig{
		ConsecutiveFailures: nc.Breaker.ConsecutiveFailures,
		OpenTimeout:         nc.Breaker.OpenTimeout,
	}
	register := func(channel models.NotificationType, n notifier.Notifier) {
		d.Register(channel, notifier.WithBreaker(n, breaker, a.logger))
		a.logger.Info("notifier registered", zap.String("channel", string(channel)), zap.String("transport", n.Name()))
	}

	switch nc.Email.Transport {
	case EmailSMTP:
		n, err := notifier.NewEmailNotifier(notifier.EmailConfig{
			Host:     nc.Email.SMTP.Host,
			Port:     nc.Email.SMTP.Port,
			Username: nc.Email.SMTP.Username,
			Password: os.Getenv("VIGIL_SMTP_PASSWORD"),
			From:     nc.Email.SMTP.From,
		})
		if err != nil {
			return fmt.Errorf("smtp notifier: %w", err)
		}
		register(models.NotificationEmail, n)
	case EmailSES:
		n, err := notifier.NewSESNotifier(ctx, notifier.SESConfig{Region: nc.Email.SES.Region, From: nc.Email.SES.From})
		if err != nil {
			return fmt.Errorf("ses notifier: %w", err)
		}
		register(models.NotificationEmail, n)
	}

	hooks := []struct {
		channel models.NotificationType
		name    string
		cfg     HookConfig
	}{
		{models.NotificationWebhook, "webhook", nc.Webhook},
		{models.NotificationSMS, "sms", nc.SMS},
	}
	for _, h := range hooks {
		if h.cfg.URL == "" {
			continue
		}
		n, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{Name: h.name, URL: h.cfg.URL, Headers: h.cfg.Headers}, nil)
		if err != nil {
			return fmt.Errorf("%s notifier: %w", h.name, err)
		}
		register(h.channel, n)
	}

	fallback := notifier.NewLogNotifier(a.logger)
	for _, ch := range []models.NotificationType{models.NotificationEmail, models.NotificationSMS, models.NotificationWebhook} {
		if _, ok := d.Get(ch); !ok {
			d.Register(ch, fallback)
			a.logger.Warn("no transport configured, notifications will only be logged", zap.String("channel", string(ch)))
		}
	}
	return nil
}

// buildQueue wires the delivery queue onto the dispatcher.
func (a *app) buildQueue() {
	qc := a.cfg.Queue
	var backoff delivery.Backoff
	if !qc.Backoff.Disabled {
		backoff = delivery.Backoff{
			Initial:    qc.Backoff.Initial,
			Max:        qc.Backoff.Max,
			Multiplier: qc.Backoff.Multiplier,
			Jitter:     qc.Backoff.Jitter,
		}
	}
	a.queue = delivery.NewQueue(a.store.Queue(), a.dispatcher, delivery.Config{
		SendTimeout: qc.SendTimeout,
		Backoff:     backoff,
		RateLimit:   rate.Limit(qc.RatePerSecond),
		Burst:       qc.Burst,
	}, delivery.Options{Audit: a.audit, Logger: a.logger})
}

// buildEngine wires the alert engine and pages on-call addresses for new
// alerts at or above the configured severity.
func (a *app) buildEngine() {
	a.engine = alerting.NewEngine(a.store.Alerts(), alerting.EngineOptions{
		Cooldown: a.cfg.Alerts.Cooldown,
		Audit:    a.audit,
		Logger:   a.logger,
	})

	minSeverity := models.Severity(a.cfg.Alerts.MinSeverity)
	page := pager{
		queue:       a.queue,
		onCall:      a.cfg.Alerts.OnCall,
		webhook:     a.cfg.Notifiers.Webhook.URL != "",
		minSeverity: minSeverity,
		logger:      a.logger.Named("pager"),
	}
	a.engine.OnCreate(page.notify)
}

// buildAll wires everything serve and drain need.
func (a *app) buildAll(ctx context.Context) error {
	if err := a.openStore(); err != nil {
		return err
	}
	a.audit = audit.NewSink(a.store.Audit(), audit.Config{
		MaxSize:   a.cfg.Audit.BufferSize,
		BatchSize: a.cfg.Audit.BatchSize,
	}, a.logger)
	a.closers = append(a.closers, a.audit.Close)

	if err := a.buildAggregator(true); err != nil {
		return err
	}
	if err := a.buildDispatcher(ctx); err != nil {
		return err
	}
	a.buildQueue()
	a.buildEngine()
	return nil
}

// buildScheduler registers the health, drain and retention jobs.
func (a *app) buildScheduler() error {
	a.scheduler = scheduler.New(a.logger)

	jobs := []scheduler.Job{
		scheduler.HealthJob(a.aggregator, a.engine, a.cfg.Health.Interval, a.logger),
		scheduler.DrainJob(a.queue, a.cfg.Queue.BatchSize, a.cfg.Queue.DrainInterval),
		scheduler.RetentionJob(a.store.Snapshots(), a.cfg.Retention.Snapshots, a.cfg.Retention.Interval, nil, a.logger),
	}
	for _, job := range jobs {
		if err := a.scheduler.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// pager turns new alerts into queued notifications.
type pager struct {
	queue       *delivery.Queue
	onCall      []string
	webhook     bool
	minSeverity models.Severity
	logger      *zap.Logger
}

// priorityFor maps alert severity onto queue priority.
func priorityFor(s models.Severity) models.Priority {
	switch s {
	case models.SeverityCritical:
		return models.PriorityUrgent
	case models.SeverityHigh:
		return models.PriorityHigh
	case models.SeverityMedium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func (p pager) notify(ctx context.Context, alert *models.Alert) {
	if alert.Severity.Rank() < p.minSeverity.Rank() {
		return
	}

	subject := fmt.Sprintf("[%s] %s", alert.Severity, alert.Title)
	priority := priorityFor(alert.Severity)

	for _, addr := range p.onCall {
		if _, err := p.queue.EnqueueEmail(ctx, addr, subject, alert.Message, priority, alerting.SystemMonitorSource); err != nil {
			p.logger.Error("failed to queue alert e-mail",
				zap.String("alert_id", alert.ID),
				zap.String("to", addr),
				zap.Error(err))
		}
	}

	if p.webhook {
		item := &models.QueueItem{
			NotificationType: models.NotificationWebhook,
			RecipientType:    models.RecipientAdmin,
			RecipientID:      "on-call",
			Subject:          subject,
			Message:          alert.Message,
			Priority:         priority,
			CreatedBy:        alerting.SystemMonitorSource,
		}
		if err := p.queue.Enqueue(ctx, item); err != nil {
			p.logger.Error("failed to queue alert webhook", zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}
}

// newApp builds the logger and an empty app for cfg.
func newApp(cfg *Config) (*app, error) {
	logger, err := loggerFor(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		// Sync fails on stderr/stdout on some platforms; nothing to do about it.
		_ = logger.Sync()
		return nil
	})
	return a, nil
}

// shutdownTimeout bounds how long serve waits for running jobs.
const shutdownTimeout = 30 * time.Second
