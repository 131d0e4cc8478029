// Package session manages the pool of live browser sessions. Each session
// is one workflow's exclusive claim on a browser+page pair, keyed by the
// caller-supplied workflow-scope key.
package session

import (
	"time"

	"github.com/entrhq/replay/pkg/driver"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusBusy         Status = "busy"
	StatusPaused       Status = "paused"
	StatusCleanup      Status = "cleanup"
	StatusError        Status = "error"
)

// Session is a live browser session and its associated state. The manager
// owns all mutation; the dispatcher reads Browser/Page and reports activity
// back through the manager.
type Session struct {
	// ID is the opaque unique session identifier.
	ID string

	// ScopeKey is the caller-supplied workflow-scope key, unique across
	// live sessions.
	ScopeKey string

	// Status is the current lifecycle state.
	Status Status

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// LastActivity is bumped on every command and status change; TTL
	// expiry is computed from it.
	LastActivity time.Time

	// Browser and Page are the exclusively-owned driver handles.
	Browser driver.Browser
	Page    driver.Page

	// Metadata is a free-form bag for caller annotations.
	Metadata map[string]any
}

// Age is the time since creation.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// IdleFor is the time since the last recorded activity.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActivity)
}

// Info is the read-only view of a session returned by listings.
type Info struct {
	ID           string    `json:"id"`
	ScopeKey     string    `json:"scopeKey"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	URL          string    `json:"url,omitempty"`
}

// Stats aggregates pool state.
type Stats struct {
	Count           int           `json:"count"`
	ActiveCount     int           `json:"activeCount"`
	AverageAge      time.Duration `json:"averageAge"`
	OldestCreatedAt time.Time     `json:"oldestCreatedAt,omitempty"`
	NewestCreatedAt time.Time     `json:"newestCreatedAt,omitempty"`
}

// HealthReport is the result of probing every live session.
type HealthReport struct {
	Healthy        bool     `json:"healthy"`
	ActiveSessions []string `json:"activeSessions"`
	Errors         []string `json:"errors,omitempty"`
}

// Hooks are optional lifecycle callbacks. All callbacks run outside the
// manager's lock; nil fields are skipped.
type Hooks struct {
	OnCreated       func(info Info)
	OnDestroyed     func(scopeKey string)
	OnStatusChanged func(scopeKey string, from, to Status)
	OnError         func(scopeKey string, err error)
}
