package dispatch

import (
	"errors"
	"time"

	"github.com/entrhq/replay/pkg/driver"
)

var errTimedOut = errors.New("timed out waiting for selector")

// The fake driver is fully scripted: each session gets one fakePage whose
// selector and content behavior tests configure directly.

type fakeFactory struct {
	pages []*fakePage
}

func (f *fakeFactory) Launch(driver.LaunchOptions) (driver.Browser, error) {
	page := newFakePage()
	f.pages = append(f.pages, page)
	return &fakeBrowser{page: page}, nil
}

type fakeBrowser struct {
	page *fakePage
}

func (b *fakeBrowser) NewPage() (driver.Page, error) { return b.page, nil }
func (b *fakeBrowser) Close() error                  { return nil }
func (b *fakeBrowser) IsConnected() bool             { return true }

type fakePage struct {
	url        string
	content    string
	contentErr error

	navErr       error
	loadStateErr map[driver.LoadState]error
	idleWaits    int

	elements  map[string]*fakeElement
	queryErr  error
	selectErr map[string]error

	screenshot    []byte
	screenshotErr error
}

func newFakePage() *fakePage {
	return &fakePage{
		url:          "about:blank",
		loadStateErr: make(map[driver.LoadState]error),
		elements:     make(map[string]*fakeElement),
		selectErr:    make(map[string]error),
		screenshot:   []byte("fake-png"),
	}
}

func (p *fakePage) Navigate(url string, _ time.Duration) error {
	if p.navErr != nil {
		return p.navErr
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitForLoadState(state driver.LoadState, _ time.Duration) error {
	if state == driver.LoadStateNetworkIdle {
		p.idleWaits++
	}
	return p.loadStateErr[state]
}

func (p *fakePage) WaitForSelector(selector string, _ driver.WaitState, _ time.Duration) (driver.Element, error) {
	if err := p.selectErr[selector]; err != nil {
		return nil, err
	}
	if el, ok := p.elements[selector]; ok {
		return el, nil
	}
	return nil, errTimedOut
}

func (p *fakePage) QuerySelectorAll(selector string) ([]driver.Element, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if el, ok := p.elements[selector]; ok {
		matches := []driver.Element{el}
		for _, sibling := range el.siblings {
			matches = append(matches, sibling)
		}
		return matches, nil
	}
	return nil, nil
}

func (p *fakePage) Content() (string, error) {
	return p.content, p.contentErr
}

func (p *fakePage) Title() (string, error) { return "", nil }
func (p *fakePage) URL() string            { return p.url }

func (p *fakePage) Screenshot(driver.ScreenshotOptions) ([]byte, error) {
	if p.screenshotErr != nil {
		return nil, p.screenshotErr
	}
	return p.screenshot, nil
}

func (p *fakePage) Close() error { return nil }

type fakeElement struct {
	tag        string
	enabled    bool
	enabledErr error

	value      string
	text       string
	rawText    string
	outerHTML  string
	attributes map[string]string

	clickErr error
	clearErr error
	fillErr  error
	htmlErr  error

	clicked bool
	cleared bool
	filled  string

	siblings []*fakeElement
}

func newFakeElement(tag string) *fakeElement {
	return &fakeElement{tag: tag, enabled: true, attributes: make(map[string]string)}
}

func (e *fakeElement) Click(time.Duration) error {
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicked = true
	return nil
}

func (e *fakeElement) Fill(value string, _ time.Duration) error {
	if e.fillErr != nil {
		return e.fillErr
	}
	e.filled = value
	e.value = value
	return nil
}

func (e *fakeElement) Clear(time.Duration) error {
	if e.clearErr != nil {
		return e.clearErr
	}
	e.cleared = true
	e.value = ""
	return nil
}

func (e *fakeElement) IsEnabled() (bool, error) {
	return e.enabled, e.enabledErr
}

func (e *fakeElement) InputValue() (string, error)  { return e.value, nil }
func (e *fakeElement) TextContent() (string, error) { return e.rawText, nil }
func (e *fakeElement) InnerText() (string, error)   { return e.text, nil }
func (e *fakeElement) InnerHTML() (string, error)   { return e.outerHTML, nil }

func (e *fakeElement) OuterHTML() (string, error) {
	if e.htmlErr != nil {
		return "", e.htmlErr
	}
	return e.outerHTML, nil
}

func (e *fakeElement) GetAttribute(name string) (string, error) {
	return e.attributes[name], nil
}

func (e *fakeElement) TagName() (string, error) { return e.tag, nil }
