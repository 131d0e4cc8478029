// Package config defines Replay's configuration surface: session pool
// limits, browser launch settings, screenshot capture and cleanup policy,
// network-idle behavior, and per-operation timeout budgets.
//
// Configuration loads from a YAML file layered over Default(). Duration-like
// settings are plain integers with an explicit unit suffix in the field name
// and accessor methods returning time.Duration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration consumed by the engine components.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	Screenshots ScreenshotConfig  `yaml:"screenshots"`
	NetworkIdle NetworkIdleConfig `yaml:"network_idle"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Variables   VariableConfig    `yaml:"variables"`
}

// SessionConfig controls the session pool and browser launches.
type SessionConfig struct {
	MaxSessions          int           `yaml:"max_sessions"`
	TTLSeconds           int           `yaml:"ttl_seconds"`
	SweepIntervalSeconds int           `yaml:"sweep_interval_seconds"`
	Browser              BrowserConfig `yaml:"browser"`
}

// TTL is the idle duration after which a session becomes eligible for
// automatic destruction.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SweepInterval is how often the janitor checks for expired sessions.
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// BrowserConfig controls how browsers are launched for new sessions.
type BrowserConfig struct {
	Kind           string `yaml:"kind"` // chromium, firefox, webkit
	Headless       bool   `yaml:"headless"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
}

// ScreenshotConfig controls evidence capture and retention.
type ScreenshotConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Format   string        `yaml:"format"` // png or jpeg
	Quality  int           `yaml:"quality"`
	FullPage bool          `yaml:"full_page"`
	Actions  []string      `yaml:"actions"` // glob patterns over action names
	Cleanup  CleanupConfig `yaml:"cleanup"`

	actionGlobs []glob.Glob
}

// CapturesAction reports whether evidence capture applies to the action.
func (c *ScreenshotConfig) CapturesAction(action string) bool {
	if !c.Enabled {
		return false
	}
	return matchesAny(c.actionGlobs, action)
}

// CleanupConfig is the evidence retention policy.
type CleanupConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxAgeSeconds int  `yaml:"max_age_seconds"`
	MaxCount      int  `yaml:"max_count"`
}

// MaxAge is the retention age beyond which records are cleanup candidates.
func (c CleanupConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

// NetworkIdleConfig controls the post-action wait for network activity to
// settle. The wait is advisory: a timeout is logged and ignored.
type NetworkIdleConfig struct {
	Enabled   bool     `yaml:"enabled"`
	TimeoutMs int      `yaml:"timeout_ms"`
	Actions   []string `yaml:"actions"` // glob patterns over action names

	actionGlobs []glob.Glob
}

// Timeout is the bounded network-idle wait.
func (c NetworkIdleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// AppliesTo reports whether the network-idle wait runs after the action.
func (c *NetworkIdleConfig) AppliesTo(action string) bool {
	if !c.Enabled {
		return false
	}
	return matchesAny(c.actionGlobs, action)
}

// TimeoutConfig holds the per-operation driver timeout budgets.
type TimeoutConfig struct {
	NavigationMs int `yaml:"navigation_ms"`
	SelectorMs   int `yaml:"selector_ms"`
	LoadStateMs  int `yaml:"load_state_ms"`
}

// Navigation bounds page navigation.
func (c TimeoutConfig) Navigation() time.Duration {
	return time.Duration(c.NavigationMs) * time.Millisecond
}

// Selector bounds waits for selector visibility or attachment.
func (c TimeoutConfig) Selector() time.Duration {
	return time.Duration(c.SelectorMs) * time.Millisecond
}

// LoadState bounds waits for document load states.
func (c TimeoutConfig) LoadState() time.Duration {
	return time.Duration(c.LoadStateMs) * time.Millisecond
}

// VariableConfig controls the variable resolver.
type VariableConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// Default returns the baseline configuration.
func Default() *Config {
	cfg := &Config{
		Session: SessionConfig{
			MaxSessions:          10,
			TTLSeconds:           1800,
			SweepIntervalSeconds: 60,
			Browser: BrowserConfig{
				Kind:           "chromium",
				Headless:       true,
				ViewportWidth:  1280,
				ViewportHeight: 720,
			},
		},
		Screenshots: ScreenshotConfig{
			Enabled:  true,
			Dir:      "evidence",
			Format:   "png",
			Quality:  80,
			FullPage: false,
			Actions:  []string{"*"},
			Cleanup: CleanupConfig{
				Enabled:       true,
				MaxAgeSeconds: 86400,
				MaxCount:      100,
			},
		},
		NetworkIdle: NetworkIdleConfig{
			Enabled:   true,
			TimeoutMs: 10000,
			Actions:   []string{"OPEN_PAGE", "CLICK_ELEMENT", "INPUT_TEXT"},
		},
		Timeouts: TimeoutConfig{
			NavigationMs: 30000,
			SelectorMs:   10000,
			LoadStateMs:  10000,
		},
		Variables: VariableConfig{
			MaxDepth: 10,
		},
	}
	if err := cfg.Validate(); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads a YAML configuration file layered over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants and compiles the action glob patterns.
func (c *Config) Validate() error {
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be positive, got %d", c.Session.MaxSessions)
	}
	if c.Session.TTLSeconds <= 0 {
		return fmt.Errorf("session.ttl_seconds must be positive, got %d", c.Session.TTLSeconds)
	}
	switch c.Session.Browser.Kind {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("session.browser.kind must be chromium, firefox, or webkit, got %q", c.Session.Browser.Kind)
	}
	switch c.Screenshots.Format {
	case "png", "jpeg":
	default:
		return fmt.Errorf("screenshots.format must be png or jpeg, got %q", c.Screenshots.Format)
	}
	if c.Screenshots.Quality < 0 || c.Screenshots.Quality > 100 {
		return fmt.Errorf("screenshots.quality must be within 0-100, got %d", c.Screenshots.Quality)
	}
	if c.Variables.MaxDepth <= 0 {
		return fmt.Errorf("variables.max_depth must be positive, got %d", c.Variables.MaxDepth)
	}

	var err error
	if c.Screenshots.actionGlobs, err = compileGlobs(c.Screenshots.Actions); err != nil {
		return fmt.Errorf("screenshots.actions: %w", err)
	}
	if c.NetworkIdle.actionGlobs, err = compileGlobs(c.NetworkIdle.Actions); err != nil {
		return fmt.Errorf("network_idle.actions: %w", err)
	}
	return nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchesAny(globs []glob.Glob, value string) bool {
	for _, g := range globs {
		if g.Match(value) {
			return true
		}
	}
	return false
}
