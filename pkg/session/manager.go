// Package session owns the remote automation session of each worker.
package session

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/mobile-harness/pkg/capability"
	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
	"github.com/devicelab-dev/mobile-harness/pkg/remote"
	"github.com/devicelab-dev/mobile-harness/pkg/telemetry"
)

var log = logger.ForComponent(logger.CompSession)

// DefaultServerURL is used when the profile has no appium.server.url.
const DefaultServerURL = "http://127.0.0.1:4723"

// Source resolves environment profile values.
type Source interface {
	GetDefault(key, env, def string) string
	GetInt(key, env string, def int) int
}

// Handle is a live session exclusively owned by one worker.
type Handle struct {
	Worker    string
	Env       string
	Device    string
	ServerURL string // credentials redacted
	Session   remote.Session
	Caps      capability.Capabilities
	Created   time.Time
}

// Manager keeps at most one session per worker identity.
type Manager struct {
	dialer remote.Dialer
	src    Source

	mu       sync.Mutex
	sessions map[string]*Handle
	pending  map[string]bool
}

// NewManager creates a manager dialing through dialer.
func NewManager(dialer remote.Dialer, src Source) *Manager {
	return &Manager{
		dialer:   dialer,
		src:      src,
		sessions: make(map[string]*Handle),
		pending:  make(map[string]bool),
	}
}

// Create opens a session for worker. A worker that already owns a session,
// or is still creating one, is rejected without dialing.
func (m *Manager) Create(ctx context.Context, worker, env string, caps capability.Capabilities) (*Handle, error) {
	m.mu.Lock()
	if _, live := m.sessions[worker]; live || m.pending[worker] {
		m.mu.Unlock()
		telemetry.SessionsFailed.WithLabelValues(env, "duplicate").Inc()
		return nil, core.ErrSessionCreate.WithMessage("worker already owns an active session").WithDetails(map[string]interface{}{
			"worker": worker,
			"env":    env,
		})
	}
	m.pending[worker] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, worker)
		m.mu.Unlock()
	}()

	serverURL := m.src.GetDefault("appium.server.url", env, DefaultServerURL)
	shownURL := redact(serverURL)

	ctx, span := telemetry.StartSpan(ctx, "session.create",
		telemetry.AttrWorker.String(worker),
		telemetry.AttrEnv.String(env),
		telemetry.AttrDevice.String(caps.Device()),
	)

	log.Info("creating session", "worker", worker, "env", env, "device", caps.Device(), "server", shownURL)
	start := time.Now()
	sess, err := m.dialer.Dial(ctx, serverURL, caps.Map())
	if err != nil {
		telemetry.SessionsFailed.WithLabelValues(env, "dial").Inc()
		err = core.ErrSessionCreate.WithCause(err).WithDetails(map[string]interface{}{
			"worker": worker,
			"env":    env,
			"server": shownURL,
		})
		telemetry.EndSpan(span, err)
		log.Error("session creation failed", "worker", worker, "env", env, "error", err)
		return nil, err
	}
	telemetry.SessionCreateLatency.WithLabelValues(env).Observe(time.Since(start).Seconds())

	if secs := m.src.GetInt("implicit.wait", env, 0); secs > 0 {
		if err := sess.SetImplicitWait(ctx, time.Duration(secs)*time.Second); err != nil {
			log.Warn("failed to set implicit wait", "worker", worker, "seconds", secs, "error", err)
		}
	}

	h := &Handle{
		Worker:    worker,
		Env:       env,
		Device:    caps.Device(),
		ServerURL: shownURL,
		Session:   sess,
		Caps:      caps,
		Created:   time.Now(),
	}

	m.mu.Lock()
	m.sessions[worker] = h
	m.mu.Unlock()

	telemetry.SessionsCreated.WithLabelValues(env).Inc()
	telemetry.ActiveSessions.Inc()
	telemetry.EndSpan(span, nil)
	log.Info("session created", "worker", worker, "session", sess.ID())
	return h, nil
}

// Destroy quits the worker's session, if any. Quit errors are logged, never returned.
func (m *Manager) Destroy(ctx context.Context, worker string) {
	m.mu.Lock()
	h, ok := m.sessions[worker]
	delete(m.sessions, worker)
	m.mu.Unlock()
	if ok {
		m.shutdown(ctx, h)
	}
}

// Release destroys h only while it is still its worker's live session. A
// handle that was already destroyed, or a nil handle, is left alone, so a
// test that never obtained a session cannot end another test's session.
func (m *Manager) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	cur, ok := m.sessions[h.Worker]
	owned := ok && cur == h
	if owned {
		delete(m.sessions, h.Worker)
	}
	m.mu.Unlock()
	if !owned {
		log.Debug("session not owned by caller, leaving it", "worker", h.Worker)
		return
	}
	m.shutdown(ctx, h)
}

func (m *Manager) shutdown(ctx context.Context, h *Handle) {
	telemetry.SessionsDestroyed.Inc()
	telemetry.ActiveSessions.Dec()

	id := h.Session.ID()
	if err := quit(ctx, h.Session); err != nil {
		log.Error("error quitting session", "worker", h.Worker, "session", id, "error", err)
		return
	}
	log.Info("session destroyed", "worker", h.Worker, "session", id)
}

// quit runs Quit with a panic boundary so teardown always completes.
func quit(ctx context.Context, s remote.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.ErrCleanupIO.WithMessage("session quit panicked").WithDetails(map[string]interface{}{"panic": r})
		}
	}()
	return s.Quit(ctx)
}

// IsActive reports whether worker owns a session.
func (m *Manager) IsActive(worker string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[worker]
	return ok
}

// Get returns the worker's session handle.
func (m *Manager) Get(worker string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[worker]
	return h, ok
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Workers returns the workers that own a session, sorted.
func (m *Manager) Workers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	workers := make([]string, 0, len(m.sessions))
	for w := range m.sessions {
		workers = append(workers, w)
	}
	sort.Strings(workers)
	return workers
}

// DestroyAll quits every remaining session. Used at process shutdown.
func (m *Manager) DestroyAll(ctx context.Context) {
	for _, w := range m.Workers() {
		log.Warn("destroying leftover session", "worker", w)
		m.Destroy(ctx, w)
	}
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
