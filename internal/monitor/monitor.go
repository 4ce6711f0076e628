package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ldapapi/internal/storage"
)

const alertKey = "directory-unreachable"

const unreachableDetail = "the server did not accept a TCP connection"

// AlertLocker keeps several instances from alerting for the same outage.
type AlertLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Recorder stores audit events.
type Recorder interface {
	Log(ctx context.Context, e storage.Event) error
}

// Config configures a Monitor.
type Config struct {
	URL      string
	Domain   string
	Schedule string
	Timeout  time.Duration
	// Cooldown is the minimum time between alerts for one outage.
	Cooldown time.Duration
}

// Monitor probes the directory on a cron schedule and alerts on failure.
type Monitor struct {
	cfg      Config
	log      *zap.Logger
	notifier Notifier
	lock     AlertLocker
	recorder Recorder
	probe    func(ctx context.Context, rawURL string, timeout time.Duration) Status
	now      func() time.Time

	cron *cron.Cron

	mu        sync.Mutex
	last      Status
	lastAlert time.Time
	down      bool
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithAlertLock shares alert de-duplication through l.
func WithAlertLock(l AlertLocker) Option {
	return func(m *Monitor) { m.lock = l }
}

// WithRecorder records sent and failed alerts.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithProbe replaces the TCP probe.
func WithProbe(p func(ctx context.Context, rawURL string, timeout time.Duration) Status) Option {
	return func(m *Monitor) { m.probe = p }
}

// New creates a Monitor. notifier may be nil, in which case failures are only logged.
func New(cfg Config, notifier Notifier, log *zap.Logger, opts ...Option) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	m := &Monitor{
		cfg:      cfg,
		log:      log.Named("monitor"),
		notifier: notifier,
		probe:    Probe,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs one check immediately and then follows the schedule.
func (m *Monitor) Start(ctx context.Context) error {
	logger := cronLogger{log: m.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(m.cfg.Schedule, func() { m.Check(ctx) }); err != nil {
		return errors.Wrapf(err, "invalid health check schedule %q", m.cfg.Schedule)
	}
	m.cron = c

	m.Check(ctx)
	c.Start()
	m.log.Info("directory monitor started", zap.String("schedule", m.cfg.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

// Last returns the most recent probe result.
func (m *Monitor) Last() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Check probes once and alerts when the directory is unreachable.
func (m *Monitor) Check(ctx context.Context) Status {
	status := m.probe(ctx, m.cfg.URL, m.cfg.Timeout)

	m.mu.Lock()
	m.last = status
	wasDown := m.down
	m.down = !status.Alive
	m.mu.Unlock()

	if status.Alive {
		if wasDown {
			m.log.Info("directory reachable again", zap.String("host", status.Host), zap.Int("port", status.Port))
			m.releaseLock(ctx)
		} else {
			m.log.Debug("directory reachable", zap.String("domain", m.cfg.Domain))
		}
		return status
	}

	m.log.Error("directory unreachable", zap.String("host", status.Host), zap.Int("port", status.Port))
	m.alert(ctx, status)
	return status
}

func (m *Monitor) alert(ctx context.Context, status Status) {
	if m.notifier == nil {
		return
	}
	if !m.claim(ctx) {
		m.log.Debug("alert suppressed", zap.String("host", status.Host))
		return
	}

	a := Alert{
		At:     m.now(),
		Domain: m.cfg.Domain,
		Host:   status.Host,
		Port:   status.Port,
		Detail: unreachableDetail,
	}
	err := m.notifier.NotifyFailure(ctx, a)
	if err != nil {
		m.log.Error("failed to send alert", zap.Error(err))
	}
	m.record(ctx, status, err)
}

// claim applies the cooldown, shared through the lock when one is configured.
func (m *Monitor) claim(ctx context.Context) bool {
	if m.lock != nil {
		ok, err := m.lock.Acquire(ctx, alertKey, m.cfg.Cooldown)
		if err == nil {
			return ok
		}
		m.log.Warn("alert lock unavailable, using local cooldown", zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !m.lastAlert.IsZero() && now.Sub(m.lastAlert) < m.cfg.Cooldown {
		return false
	}
	m.lastAlert = now
	return true
}

func (m *Monitor) releaseLock(ctx context.Context) {
	m.mu.Lock()
	m.lastAlert = time.Time{}
	m.mu.Unlock()

	if m.lock == nil {
		return
	}
	if err := m.lock.Release(ctx, alertKey); err != nil {
		m.log.Warn("failed to release alert lock", zap.Error(err))
	}
}

func (m *Monitor) record(ctx context.Context, status Status, sendErr error) {
	if m.recorder == nil {
		return
	}
	e := storage.Event{
		Actor:   "monitor",
		Action:  storage.ActionAlertSent,
		Outcome: "sent",
		Context: map[string]any{"host": status.Host, "port": status.Port},
	}
	if sendErr != nil {
		e.Action = storage.ActionAlertFailed
		e.Outcome = "error"
	}
	if err := m.recorder.Log(ctx, e); err != nil {
		m.log.Warn("failed to write audit log", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
