package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/replay/pkg/config"
	"github.com/entrhq/replay/pkg/driver"
	"github.com/entrhq/replay/pkg/errdef"
	"github.com/entrhq/replay/pkg/logging"
)

// Manager owns the session pool: creation against the capacity cap,
// idempotent destruction, status/activity tracking, health probing, and
// activity-based TTL expiry.
//
// TTL policy: expiry is computed from LastActivity only. There is no
// absolute destroy-at timer armed at creation; the janitor (or an explicit
// CleanupExpiredSessions call) is the single eviction mechanism.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	factory driver.Factory
	cfg     config.SessionConfig
	log     logging.Logger
	hooks   Hooks

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithHooks installs lifecycle callbacks.
func WithHooks(hooks Hooks) Option {
	return func(m *Manager) {
		m.hooks = hooks
	}
}

// NewManager creates a session manager using factory to launch browsers.
func NewManager(factory driver.Factory, cfg config.SessionConfig, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		cfg:      cfg,
		log:      log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession launches a browser and registers a session for scopeKey.
// Fails with SESSION_ALREADY_EXISTS when the key is live and
// MAX_SESSIONS_EXCEEDED at capacity. A launch failure wraps as the
// unrecoverable BROWSER_LAUNCH_FAILED.
func (m *Manager) CreateSession(scopeKey string) (string, error) {
	m.mu.Lock()

	if _, exists := m.sessions[scopeKey]; exists {
		m.mu.Unlock()
		return "", errdef.Newf(errdef.CodeSessionAlreadyExists,
			"session for scope %q already exists", scopeKey).
			WithDetail("scopeKey", scopeKey)
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return "", errdef.Newf(errdef.CodeMaxSessionsExceeded,
			"maximum number of sessions (%d) reached", m.cfg.MaxSessions).
			WithDetail("maxSessions", m.cfg.MaxSessions)
	}

	browser, err := m.factory.Launch(driver.LaunchOptions{
		Kind:           m.cfg.Browser.Kind,
		Headless:       m.cfg.Browser.Headless,
		ViewportWidth:  m.cfg.Browser.ViewportWidth,
		ViewportHeight: m.cfg.Browser.ViewportHeight,
	})
	if err != nil {
		m.mu.Unlock()
		return "", errdef.Wrap(errdef.CodeBrowserLaunchFailed, err,
			fmt.Sprintf("failed to launch browser for scope %q", scopeKey)).
			WithDetail("scopeKey", scopeKey)
	}
	page, err := browser.NewPage()
	if err != nil {
		m.mu.Unlock()
		browser.Close()
		return "", errdef.Wrap(errdef.CodeBrowserLaunchFailed, err,
			fmt.Sprintf("failed to open page for scope %q", scopeKey)).
			WithDetail("scopeKey", scopeKey)
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.New().String(),
		ScopeKey:     scopeKey,
		Status:       StatusInitializing,
		CreatedAt:    now,
		LastActivity: now,
		Browser:      browser,
		Page:         page,
		Metadata:     make(map[string]any),
	}
	m.sessions[scopeKey] = sess
	sess.Status = StatusActive
	info := m.infoLocked(sess)
	m.mu.Unlock()

	m.log.Infof("created session %s for scope %s", sess.ID, scopeKey)
	if m.hooks.OnCreated != nil {
		m.hooks.OnCreated(info)
	}
	return sess.ID, nil
}

// DestroySession tears a session down. It is idempotent: an absent scope
// key is logged and ignored. A browser close failure is logged and reported
// through the error hook but never blocks removal from the pool.
func (m *Manager) DestroySession(scopeKey string) {
	m.mu.Lock()
	sess, exists := m.sessions[scopeKey]
	if !exists {
		m.mu.Unlock()
		m.log.Debugf("destroy requested for unknown scope %s, ignoring", scopeKey)
		return
	}
	sess.Status = StatusCleanup
	delete(m.sessions, scopeKey)
	m.mu.Unlock()

	err := sess.Browser.Close()
	if err != nil {
		m.log.Errorf("failed to close browser for scope %s: %v", scopeKey, err)
		if m.hooks.OnError != nil {
			m.hooks.OnError(scopeKey, err)
		}
		return
	}
	m.log.Infof("destroyed session %s for scope %s", sess.ID, scopeKey)
	if m.hooks.OnDestroyed != nil {
		m.hooks.OnDestroyed(scopeKey)
	}
}

// UpdateStatus transitions the session's status and bumps LastActivity.
func (m *Manager) UpdateStatus(scopeKey string, status Status) error {
	m.mu.Lock()
	sess, exists := m.sessions[scopeKey]
	if !exists {
		m.mu.Unlock()
		return errdef.Newf(errdef.CodeSessionNotFound,
			"no session for scope %q", scopeKey).
			WithDetail("scopeKey", scopeKey)
	}
	from := sess.Status
	sess.Status = status
	sess.LastActivity = time.Now()
	m.mu.Unlock()

	m.log.Debugf("session %s status %s -> %s", scopeKey, from, status)
	if m.hooks.OnStatusChanged != nil {
		m.hooks.OnStatusChanged(scopeKey, from, status)
	}
	return nil
}

// RecordActivity bumps the session's LastActivity. A missing session is a
// no-op, not an error.
func (m *Manager) RecordActivity(scopeKey string) {
	m.mu.Lock()
	if sess, exists := m.sessions[scopeKey]; exists {
		sess.LastActivity = time.Now()
	}
	m.mu.Unlock()
}

// Get returns the live session for scopeKey.
func (m *Manager) Get(scopeKey string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, exists := m.sessions[scopeKey]
	if !exists {
		return nil, errdef.Newf(errdef.CodeSessionNotFound,
			"no session for scope %q", scopeKey).
			WithDetail("scopeKey", scopeKey)
	}
	return sess, nil
}

// ListActive returns a snapshot of every live session.
func (m *Manager) ListActive() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, m.infoLocked(sess))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Statistics aggregates pool-level counters.
func (m *Manager) Statistics() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Count: len(m.sessions)}
	var totalAge time.Duration
	for _, sess := range m.sessions {
		if sess.Status == StatusActive {
			stats.ActiveCount++
		}
		totalAge += sess.Age()
		if stats.OldestCreatedAt.IsZero() || sess.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = sess.CreatedAt
		}
		if sess.CreatedAt.After(stats.NewestCreatedAt) {
			stats.NewestCreatedAt = sess.CreatedAt
		}
	}
	if stats.Count > 0 {
		stats.AverageAge = totalAge / time.Duration(stats.Count)
	}
	return stats
}

// HealthCheck probes every live session's browser connectivity
// concurrently. A disconnected or panicking handle lands in the error list
// and is excluded from the active set; the report is healthy when the error
// list is empty.
func (m *Manager) HealthCheck() HealthReport {
	m.mu.RLock()
	snapshot := make(map[string]driver.Browser, len(m.sessions))
	for scopeKey, sess := range m.sessions {
		snapshot[scopeKey] = sess.Browser
	}
	m.mu.RUnlock()

	var (
		reportMu sync.Mutex
		report   = HealthReport{ActiveSessions: make([]string, 0, len(snapshot))}
	)
	g := new(errgroup.Group)
	for scopeKey, browser := range snapshot {
		scopeKey, browser := scopeKey, browser
		g.Go(func() error {
			connected := probe(browser)
			reportMu.Lock()
			if connected {
				report.ActiveSessions = append(report.ActiveSessions, scopeKey)
			} else {
				report.Errors = append(report.Errors,
					fmt.Sprintf("session %s: browser disconnected", scopeKey))
			}
			reportMu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Strings(report.ActiveSessions)
	sort.Strings(report.Errors)
	report.Healthy = len(report.Errors) == 0
	return report
}

// probe guards against driver implementations that panic on a torn-down
// transport.
func probe(browser driver.Browser) (connected bool) {
	defer func() {
		if recover() != nil {
			connected = false
		}
	}()
	return browser.IsConnected()
}

// CleanupExpiredSessions destroys every session whose idle time exceeds the
// TTL and returns the number destroyed. Age is computed from LastActivity,
// so recently active sessions survive.
func (m *Manager) CleanupExpiredSessions() int {
	ttl := m.cfg.TTL()

	m.mu.RLock()
	expired := make([]string, 0)
	for scopeKey, sess := range m.sessions {
		if sess.IdleFor() > ttl {
			expired = append(expired, scopeKey)
		}
	}
	m.mu.RUnlock()

	for _, scopeKey := range expired {
		m.log.Infof("session %s exceeded TTL, destroying", scopeKey)
		m.DestroySession(scopeKey)
	}
	return len(expired)
}

// StartJanitor runs the TTL sweep on the configured interval until Close.
func (m *Manager) StartJanitor() {
	m.mu.Lock()
	if m.janitorStop != nil {
		m.mu.Unlock()
		return
	}
	m.janitorStop = make(chan struct{})
	m.janitorDone = make(chan struct{})
	stop, done := m.janitorStop, m.janitorDone
	m.mu.Unlock()

	interval := m.cfg.SweepInterval()
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupExpiredSessions()
			case <-stop:
				return
			}
		}
	}()
}

// Close stops the janitor and destroys every remaining session.
func (m *Manager) Close() {
	m.mu.Lock()
	stop, done := m.janitorStop, m.janitorDone
	m.janitorStop, m.janitorDone = nil, nil
	scopeKeys := make([]string, 0, len(m.sessions))
	for scopeKey := range m.sessions {
		scopeKeys = append(scopeKeys, scopeKey)
	}
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	for _, scopeKey := range scopeKeys {
		m.DestroySession(scopeKey)
	}
}

// infoLocked builds an Info snapshot. Caller holds at least a read lock.
func (m *Manager) infoLocked(sess *Session) Info {
	info := Info{
		ID:           sess.ID,
		ScopeKey:     sess.ScopeKey,
		Status:       sess.Status,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
	}
	if sess.Page != nil {
		info.URL = sess.Page.URL()
	}
	return info
}
