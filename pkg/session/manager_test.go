package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/entrhq/replay/pkg/config"
	"github.com/entrhq/replay/pkg/driver"
	"github.com/entrhq/replay/pkg/errdef"
	"github.com/entrhq/replay/pkg/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFactory launches fakeBrowsers and can be told to fail.
type fakeFactory struct {
	mu        sync.Mutex
	launches  int
	launchErr error
	pageErr   error
}

func (f *fakeFactory) Launch(driver.LaunchOptions) (driver.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.launches++
	return &fakeBrowser{pageErr: f.pageErr, connected: true}, nil
}

type fakeBrowser struct {
	mu        sync.Mutex
	pageErr   error
	connected bool
	closed    bool
	closeErr  error
	panics    bool
}

func (b *fakeBrowser) NewPage() (driver.Page, error) {
	if b.pageErr != nil {
		return nil, b.pageErr
	}
	return &fakePage{url: "about:blank"}, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.connected = false
	return b.closeErr
}

func (b *fakeBrowser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.panics {
		panic("transport torn down")
	}
	return b.connected
}

type fakePage struct {
	url string
}

func (p *fakePage) Navigate(url string, _ time.Duration) error { p.url = url; return nil }
func (p *fakePage) WaitForLoadState(driver.LoadState, time.Duration) error {
	return nil
}
func (p *fakePage) WaitForSelector(string, driver.WaitState, time.Duration) (driver.Element, error) {
	return nil, nil
}
func (p *fakePage) QuerySelectorAll(string) ([]driver.Element, error)   { return nil, nil }
func (p *fakePage) Content() (string, error)                            { return "", nil }
func (p *fakePage) Title() (string, error)                              { return "", nil }
func (p *fakePage) URL() string                                         { return p.url }
func (p *fakePage) Screenshot(driver.ScreenshotOptions) ([]byte, error) { return nil, nil }
func (p *fakePage) Close() error                                        { return nil }

func testSessionConfig() config.SessionConfig {
	cfg := config.Default()
	return cfg.Session
}

func TestCreateSession(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	id, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sess, err := m.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, "wf-1", sess.ScopeKey)
	assert.NotNil(t, sess.Browser)
	assert.NotNil(t, sess.Page)
}

func TestCreateSessionRejectsDuplicateScope(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)

	_, err = m.CreateSession("wf-1")
	require.Error(t, err)
	assert.True(t, errdef.HasCode(err, errdef.CodeSessionAlreadyExists))

	// The original session is untouched.
	sess, err := m.Get("wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sess.Status)
}

func TestCreateSessionEnforcesCapacity(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxSessions = 2
	factory := &fakeFactory{}
	m := NewManager(factory, cfg, logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	_, err = m.CreateSession("wf-2")
	require.NoError(t, err)

	_, err = m.CreateSession("wf-3")
	require.Error(t, err)
	assert.True(t, errdef.HasCode(err, errdef.CodeMaxSessionsExceeded))
	// Capacity is checked before launching anything.
	assert.Equal(t, 2, factory.launches)

	// Destroying one frees a slot.
	m.DestroySession("wf-1")
	_, err = m.CreateSession("wf-3")
	assert.NoError(t, err)
}

func TestCreateSessionLaunchFailure(t *testing.T) {
	factory := &fakeFactory{launchErr: errors.New("no executable")}
	m := NewManager(factory, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.Error(t, err)
	structured, ok := errdef.As(err)
	require.True(t, ok)
	assert.Equal(t, errdef.CodeBrowserLaunchFailed, structured.Code)
	assert.False(t, structured.Recoverable)

	// No half-created session remains.
	_, err = m.Get("wf-1")
	assert.True(t, errdef.HasCode(err, errdef.CodeSessionNotFound))
}

func TestCreateSessionPageFailureClosesBrowser(t *testing.T) {
	factory := &fakeFactory{pageErr: errors.New("context gone")}
	m := NewManager(factory, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.Error(t, err)
	assert.True(t, errdef.HasCode(err, errdef.CodeBrowserLaunchFailed))
	_, err = m.Get("wf-1")
	assert.Error(t, err)
}

func TestDestroySessionIsIdempotent(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	sess, err := m.Get("wf-1")
	require.NoError(t, err)
	browser := sess.Browser.(*fakeBrowser)

	m.DestroySession("wf-1")
	assert.True(t, browser.closed)
	_, err = m.Get("wf-1")
	assert.True(t, errdef.HasCode(err, errdef.CodeSessionNotFound))

	// Second destroy and unknown scopes are silent no-ops.
	m.DestroySession("wf-1")
	m.DestroySession("never-existed")
}

func TestDestroySessionSurvivesCloseFailure(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	sess, err := m.Get("wf-1")
	require.NoError(t, err)
	sess.Browser.(*fakeBrowser).closeErr = errors.New("already dead")

	m.DestroySession("wf-1")
	_, err = m.Get("wf-1")
	assert.True(t, errdef.HasCode(err, errdef.CodeSessionNotFound))
}

func TestUpdateStatus(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	sess, err := m.Get("wf-1")
	require.NoError(t, err)
	before := sess.LastActivity

	time.Sleep(time.Millisecond)
	require.NoError(t, m.UpdateStatus("wf-1", StatusBusy))
	assert.Equal(t, StatusBusy, sess.Status)
	assert.True(t, sess.LastActivity.After(before))

	err = m.UpdateStatus("wf-x", StatusBusy)
	assert.True(t, errdef.HasCode(err, errdef.CodeSessionNotFound))
}

func TestRecordActivity(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	sess, err := m.Get("wf-1")
	require.NoError(t, err)
	before := sess.LastActivity

	time.Sleep(time.Millisecond)
	m.RecordActivity("wf-1")
	assert.True(t, sess.LastActivity.After(before))

	// Unknown scope is a silent no-op.
	m.RecordActivity("wf-x")
}

func TestListActiveSortsByCreation(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	for i := 1; i <= 3; i++ {
		_, err := m.CreateSession(fmt.Sprintf("wf-%d", i))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	infos := m.ListActive()
	require.Len(t, infos, 3)
	assert.Equal(t, "wf-1", infos[0].ScopeKey)
	assert.Equal(t, "wf-3", infos[2].ScopeKey)
	assert.Equal(t, "about:blank", infos[0].URL)
}

func TestStatistics(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	assert.Equal(t, Stats{}, m.Statistics())

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	_, err = m.CreateSession("wf-2")
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus("wf-2", StatusPaused))

	stats := m.Statistics()
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 1, stats.ActiveCount)
	assert.False(t, stats.OldestCreatedAt.IsZero())
	assert.False(t, stats.OldestCreatedAt.After(stats.NewestCreatedAt))
}

func TestHealthCheck(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-ok")
	require.NoError(t, err)
	_, err = m.CreateSession("wf-dead")
	require.NoError(t, err)
	_, err = m.CreateSession("wf-panic")
	require.NoError(t, err)

	dead, err := m.Get("wf-dead")
	require.NoError(t, err)
	dead.Browser.(*fakeBrowser).connected = false
	panicky, err := m.Get("wf-panic")
	require.NoError(t, err)
	panicky.Browser.(*fakeBrowser).panics = true

	report := m.HealthCheck()
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{"wf-ok"}, report.ActiveSessions)
	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[0], "wf-dead")
	assert.Contains(t, report.Errors[1], "wf-panic")
}

func TestHealthCheckHealthy(t *testing.T) {
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)

	report := m.HealthCheck()
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Errors)
}

func TestCleanupExpiredSessions(t *testing.T) {
	cfg := testSessionConfig()
	cfg.TTLSeconds = 60
	m := NewManager(&fakeFactory{}, cfg, logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-stale")
	require.NoError(t, err)
	_, err = m.CreateSession("wf-fresh")
	require.NoError(t, err)

	stale, err := m.Get("wf-stale")
	require.NoError(t, err)
	stale.LastActivity = time.Now().Add(-2 * time.Minute)

	destroyed := m.CleanupExpiredSessions()
	assert.Equal(t, 1, destroyed)
	_, err = m.Get("wf-stale")
	assert.True(t, errdef.HasCode(err, errdef.CodeSessionNotFound))
	_, err = m.Get("wf-fresh")
	assert.NoError(t, err)
}

func TestActivityDefersExpiry(t *testing.T) {
	cfg := testSessionConfig()
	cfg.TTLSeconds = 60
	m := NewManager(&fakeFactory{}, cfg, logging.NewNop())
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	sess, err := m.Get("wf-1")
	require.NoError(t, err)
	sess.LastActivity = time.Now().Add(-2 * time.Minute)

	// A command arriving just before the sweep keeps the session alive.
	m.RecordActivity("wf-1")
	assert.Equal(t, 0, m.CleanupExpiredSessions())
	_, err = m.Get("wf-1")
	assert.NoError(t, err)
}

func TestHooks(t *testing.T) {
	var (
		mu        sync.Mutex
		created   []string
		destroyed []string
		changes   []string
	)
	hooks := Hooks{
		OnCreated: func(info Info) {
			mu.Lock()
			created = append(created, info.ScopeKey)
			mu.Unlock()
		},
		OnDestroyed: func(scopeKey string) {
			mu.Lock()
			destroyed = append(destroyed, scopeKey)
			mu.Unlock()
		},
		OnStatusChanged: func(scopeKey string, from, to Status) {
			mu.Lock()
			changes = append(changes, fmt.Sprintf("%s:%s->%s", scopeKey, from, to))
			mu.Unlock()
		},
	}
	m := NewManager(&fakeFactory{}, testSessionConfig(), logging.NewNop(), WithHooks(hooks))
	defer m.Close()

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus("wf-1", StatusBusy))
	m.DestroySession("wf-1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"wf-1"}, created)
	assert.Equal(t, []string{"wf-1"}, destroyed)
	assert.Equal(t, []string{"wf-1:active->busy"}, changes)
}

func TestJanitorStopsOnClose(t *testing.T) {
	cfg := testSessionConfig()
	cfg.SweepIntervalSeconds = 1
	m := NewManager(&fakeFactory{}, cfg, logging.NewNop())

	m.StartJanitor()
	m.StartJanitor() // second start is a no-op

	_, err := m.CreateSession("wf-1")
	require.NoError(t, err)

	m.Close()
	_, err = m.Get("wf-1")
	assert.True(t, errdef.HasCode(err, errdef.CodeSessionNotFound))
}

func TestConcurrentCreateRespectsCap(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxSessions = 5
	m := NewManager(&fakeFactory{}, cfg, logging.NewNop())
	defer m.Close()

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := m.CreateSession(fmt.Sprintf("wf-%d", n))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, full int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errdef.HasCode(err, errdef.CodeMaxSessionsExceeded):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, 15, full)
	assert.Equal(t, 5, m.Statistics().Count)
}
