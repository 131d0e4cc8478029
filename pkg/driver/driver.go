// Package driver defines the narrow browser capability Replay depends on and
// provides the Playwright-backed production implementation.
//
// The interfaces cover exactly the operations the dispatcher and session
// manager need: launching browsers, opening pages, navigation and load-state
// waits, selector waits, element interaction, markup/text reads, and
// screenshots. Tests substitute in-memory fakes.
package driver

import "time"

// LoadState identifies a document load milestone to wait for.
type LoadState string

const (
	LoadStateLoad             LoadState = "load"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// WaitState identifies the element condition a selector wait targets.
type WaitState string

const (
	WaitStateVisible  WaitState = "visible"
	WaitStateAttached WaitState = "attached"
)

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	// Kind selects the browser engine: chromium, firefox, or webkit.
	Kind string

	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// ViewportWidth and ViewportHeight set the initial page viewport.
	ViewportWidth  int
	ViewportHeight int
}

// ScreenshotOptions configures a page screenshot.
type ScreenshotOptions struct {
	// Format is png or jpeg.
	Format string

	// Quality applies to jpeg only, 0-100.
	Quality int

	// FullPage captures the full scrollable page instead of the viewport.
	FullPage bool
}

// Factory launches browsers. It is injected into the session manager so the
// driver is substitutable.
type Factory interface {
	Launch(opts LaunchOptions) (Browser, error)
}

// Browser is an exclusively-owned live browser instance.
type Browser interface {
	NewPage() (Page, error)
	Close() error
	IsConnected() bool
}

// Page is the single page a session operates on.
type Page interface {
	Navigate(url string, timeout time.Duration) error
	WaitForLoadState(state LoadState, timeout time.Duration) error
	WaitForSelector(selector string, state WaitState, timeout time.Duration) (Element, error)
	QuerySelectorAll(selector string) ([]Element, error)
	Content() (string, error)
	Title() (string, error)
	URL() string
	Screenshot(opts ScreenshotOptions) ([]byte, error)
	Close() error
}

// Element is a handle to a matched DOM element.
type Element interface {
	Click(timeout time.Duration) error
	Fill(value string, timeout time.Duration) error
	Clear(timeout time.Duration) error
	IsEnabled() (bool, error)
	InputValue() (string, error)
	TextContent() (string, error)
	InnerText() (string, error)
	InnerHTML() (string, error)
	OuterHTML() (string, error)
	GetAttribute(name string) (string, error)
	TagName() (string, error)
}
