package driver

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightFactory launches browsers through a shared Playwright instance.
// Start must be called before the first Launch; Stop releases the instance.
type PlaywrightFactory struct {
	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightFactory creates an unstarted factory.
func NewPlaywrightFactory() *PlaywrightFactory {
	return &PlaywrightFactory{}
}

// Start installs (if needed) and runs the Playwright driver. Driver output
// is discarded so it cannot interleave with the caller's own output.
func (f *PlaywrightFactory) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pw != nil {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	f.pw = pw
	return nil
}

// Stop shuts the Playwright instance down.
func (f *PlaywrightFactory) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pw == nil {
		return nil
	}
	if err := f.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	f.pw = nil
	return nil
}

// Launch starts a browser of the configured kind.
func (f *PlaywrightFactory) Launch(opts LaunchOptions) (Browser, error) {
	f.mu.Lock()
	pw := f.pw
	f.mu.Unlock()

	if pw == nil {
		return nil, fmt.Errorf("playwright factory not started")
	}

	var browserType playwright.BrowserType
	switch opts.Kind {
	case "firefox":
		browserType = pw.Firefox
	case "webkit":
		browserType = pw.WebKit
	case "", "chromium":
		browserType = pw.Chromium
	default:
		return nil, fmt.Errorf("unsupported browser kind %q", opts.Kind)
	}

	browser, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", opts.Kind, err)
	}
	return &playwrightBrowser{browser: browser, opts: opts}, nil
}

type playwrightBrowser struct {
	browser playwright.Browser
	opts    LaunchOptions
}

func (b *playwrightBrowser) NewPage() (Page, error) {
	contextOpts := playwright.BrowserNewContextOptions{}
	if b.opts.ViewportWidth > 0 && b.opts.ViewportHeight > 0 {
		contextOpts.Viewport = &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		}
	}
	context, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	page, err := context.NewPage()
	if err != nil {
		context.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightPage{page: page, context: context}, nil
}

func (b *playwrightBrowser) Close() error {
	return b.browser.Close()
}

func (b *playwrightBrowser) IsConnected() bool {
	return b.browser.IsConnected()
}

type playwrightPage struct {
	page    playwright.Page
	context playwright.BrowserContext
}

func (p *playwrightPage) Navigate(url string, timeout time.Duration) error {
	timeoutMs := float64(timeout.Milliseconds())
	_, err := p.page.Goto(url, playwright.PageGotoOptions{Timeout: &timeoutMs})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) WaitForLoadState(state LoadState, timeout time.Duration) error {
	timeoutMs := float64(timeout.Milliseconds())
	loadState := playwright.LoadState(state)
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &loadState,
		Timeout: &timeoutMs,
	})
}

func (p *playwrightPage) WaitForSelector(selector string, state WaitState, timeout time.Duration) (Element, error) {
	timeoutMs := float64(timeout.Milliseconds())
	waitState := playwright.WaitForSelectorState(state)
	handle, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   &waitState,
		Timeout: &timeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("wait for selector failed: %w", err)
	}
	if handle == nil {
		return nil, fmt.Errorf("selector %q yielded no element", selector)
	}
	return &playwrightElement{handle: handle, page: p.page}, nil
}

func (p *playwrightPage) QuerySelectorAll(selector string) ([]Element, error) {
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	elements := make([]Element, 0, len(handles))
	for _, handle := range handles {
		elements = append(elements, &playwrightElement{handle: handle, page: p.page})
	}
	return elements, nil
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Title() (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	screenshotOpts := playwright.PageScreenshotOptions{
		FullPage: &opts.FullPage,
	}
	format := playwright.ScreenshotType(opts.Format)
	screenshotOpts.Type = &format
	if opts.Format == "jpeg" && opts.Quality > 0 {
		screenshotOpts.Quality = &opts.Quality
	}
	return p.page.Screenshot(screenshotOpts)
}

func (p *playwrightPage) Close() error {
	if err := p.page.Close(); err != nil {
		return err
	}
	return p.context.Close()
}

type playwrightElement struct {
	handle playwright.ElementHandle
	page   playwright.Page
}

func (e *playwrightElement) Click(timeout time.Duration) error {
	timeoutMs := float64(timeout.Milliseconds())
	return e.handle.Click(playwright.ElementHandleClickOptions{Timeout: &timeoutMs})
}

func (e *playwrightElement) Fill(value string, timeout time.Duration) error {
	timeoutMs := float64(timeout.Milliseconds())
	return e.handle.Fill(value, playwright.ElementHandleFillOptions{Timeout: &timeoutMs})
}

func (e *playwrightElement) Clear(timeout time.Duration) error {
	// Playwright clears an input by filling the empty string.
	return e.Fill("", timeout)
}

func (e *playwrightElement) IsEnabled() (bool, error) {
	return e.handle.IsEnabled()
}

func (e *playwrightElement) InputValue() (string, error) {
	return e.handle.InputValue()
}

func (e *playwrightElement) TextContent() (string, error) {
	return e.handle.TextContent()
}

func (e *playwrightElement) InnerText() (string, error) {
	return e.handle.InnerText()
}

func (e *playwrightElement) InnerHTML() (string, error) {
	return e.handle.InnerHTML()
}

func (e *playwrightElement) OuterHTML() (string, error) {
	result, err := e.page.Evaluate("el => el.outerHTML", e.handle)
	if err != nil {
		return "", fmt.Errorf("outerHTML evaluation failed: %w", err)
	}
	markup, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("outerHTML evaluation returned %T, expected string", result)
	}
	return markup, nil
}

func (e *playwrightElement) GetAttribute(name string) (string, error) {
	return e.handle.GetAttribute(name)
}

func (e *playwrightElement) TagName() (string, error) {
	result, err := e.page.Evaluate("el => el.tagName.toLowerCase()", e.handle)
	if err != nil {
		return "", fmt.Errorf("tagName evaluation failed: %w", err)
	}
	tag, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("tagName evaluation returned %T, expected string", result)
	}
	return tag, nil
}
