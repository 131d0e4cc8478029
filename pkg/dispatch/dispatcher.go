// Package dispatch executes the closed vocabulary of DOM-interaction
// commands against live sessions. Every action validates its parameters,
// resolves ${name} templates against the session's scope, drives the
// browser under configured timeouts, optionally waits for network idle, and
// captures screenshot evidence.
//
// Two failure conventions coexist by contract: ExecuteCommand never returns
// an error (failures become success=false responses), while the per-action
// methods return the structured error directly. Both carry identical error
// content for the same root cause.
package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/replay/pkg/config"
	"github.com/entrhq/replay/pkg/driver"
	"github.com/entrhq/replay/pkg/errdef"
	"github.com/entrhq/replay/pkg/evidence"
	"github.com/entrhq/replay/pkg/logging"
	"github.com/entrhq/replay/pkg/session"
	"github.com/entrhq/replay/pkg/tokenizer"
	"github.com/entrhq/replay/pkg/variables"
)

// formControlTags are the elements whose value is read via the input value
// rather than rendered text.
var formControlTags = map[string]bool{
	"input":    true,
	"textarea": true,
	"select":   true,
}

// Dispatcher executes commands. The caller must serialize commands per
// session; the dispatcher does not guard against concurrent commands
// interleaving driver operations on the same page.
type Dispatcher struct {
	sessions *session.Manager
	vars     *variables.Resolver
	evidence *evidence.Store
	cfg      *config.Config
	log      logging.Logger
	tokens   *tokenizer.Counter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTokenCounter enables token counts on extraction payload metadata.
func WithTokenCounter(counter *tokenizer.Counter) Option {
	return func(d *Dispatcher) {
		d.tokens = counter
	}
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(
	sessions *session.Manager,
	vars *variables.Resolver,
	store *evidence.Store,
	cfg *config.Config,
	log logging.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		sessions: sessions,
		vars:     vars,
		evidence: store,
		cfg:      cfg,
		log:      log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExecuteCommand is the unified entry point. It never returns an error:
// every failure is classified and reported as a success=false response.
func (d *Dispatcher) ExecuteCommand(cmd Command) *Response {
	start := time.Now()
	result, err := d.run(cmd)
	d.sessions.RecordActivity(cmd.ScopeKey)

	resp := &Response{Duration: time.Since(start)}
	if err != nil {
		resp.Error = errdef.From(err)
		d.log.Warnf("command %s (%s) failed for scope %s: %v",
			cmd.CommandID, cmd.Action, cmd.ScopeKey, err)
		return resp
	}
	resp.Success = true
	resp.Content = result.Content
	resp.EvidenceID = result.EvidenceID
	resp.Metadata = result.Metadata
	d.log.Debugf("command %s (%s) completed for scope %s in %s",
		cmd.CommandID, cmd.Action, cmd.ScopeKey, resp.Duration)
	return resp
}

// run dispatches exhaustively over the closed action set.
func (d *Dispatcher) run(cmd Command) (*Result, error) {
	if !cmd.Action.Valid() {
		return nil, errdef.Newf(errdef.CodeInvalidCommand, "unknown action %q", cmd.Action).
			WithDetail("action", string(cmd.Action))
	}
	sess, err := d.sessions.Get(cmd.ScopeKey)
	if err != nil {
		return nil, err
	}

	switch cmd.Action {
	case ActionOpenPage:
		return d.OpenPage(sess, cmd.Parameters)
	case ActionClickElement:
		return d.ClickElement(sess, cmd.Parameters)
	case ActionInputText:
		return d.InputText(sess, cmd.Parameters)
	case ActionSaveVariable:
		return d.SaveVariable(sess, cmd.Parameters)
	case ActionGetDOM:
		return d.CaptureDOM(sess, cmd.Parameters)
	case ActionGetContent:
		return d.ExtractContent(sess, cmd.Parameters)
	case ActionGetSubDOM:
		return d.ExtractSubDOM(sess, cmd.Parameters)
	case ActionGetText:
		return d.ExtractText(sess, cmd.Parameters)
	default:
		return nil, errdef.Newf(errdef.CodeInvalidCommand, "unknown action %q", cmd.Action)
	}
}

// OpenPage navigates to the resolved URL, waits for DOM-ready, then waits
// for network idle (advisory).
func (d *Dispatcher) OpenPage(sess *session.Session, params Parameters) (*Result, error) {
	url, err := d.requireParam(sess.ScopeKey, ActionOpenPage, "url", params.URL)
	if err != nil {
		return nil, err
	}

	if err := sess.Page.Navigate(url, d.cfg.Timeouts.Navigation()); err != nil {
		return nil, errdef.Wrap(errdef.CodePageLoadTimeout, err,
			fmt.Sprintf("navigation to %s did not complete", url)).
			WithDetail("url", url)
	}
	if err := sess.Page.WaitForLoadState(driver.LoadStateDOMContentLoaded, d.cfg.Timeouts.LoadState()); err != nil {
		return nil, errdef.Wrap(errdef.CodePageLoadTimeout, err,
			fmt.Sprintf("page %s did not reach DOM-ready", url)).
			WithDetail("url", url)
	}
	d.waitNetworkIdle(sess, ActionOpenPage)

	result := newResult()
	result.Metadata["url"] = sess.Page.URL()
	if err := d.capture(sess, ActionOpenPage, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ClickElement waits for the selector to become visible, requires the
// element to be enabled, and clicks it.
func (d *Dispatcher) ClickElement(sess *session.Session, params Parameters) (*Result, error) {
	selector, err := d.requireParam(sess.ScopeKey, ActionClickElement, "selector", params.Selector)
	if err != nil {
		return nil, err
	}

	element, err := sess.Page.WaitForSelector(selector, driver.WaitStateVisible, d.cfg.Timeouts.Selector())
	if err != nil {
		return nil, notInteractable(err, selector, "selector did not become visible")
	}
	if err := d.requireEnabled(element, selector); err != nil {
		return nil, err
	}
	if err := element.Click(d.cfg.Timeouts.Selector()); err != nil {
		return nil, notInteractable(err, selector, "click failed")
	}
	d.waitNetworkIdle(sess, ActionClickElement)

	result := newResult()
	result.Metadata["selector"] = selector
	result.Metadata["url"] = sess.Page.URL()
	if err := d.capture(sess, ActionClickElement, result); err != nil {
		return nil, err
	}
	return result, nil
}

// InputText waits for the selector, requires the element enabled, clears
// it, and fills the resolved text.
func (d *Dispatcher) InputText(sess *session.Session, params Parameters) (*Result, error) {
	selector, err := d.requireParam(sess.ScopeKey, ActionInputText, "selector", params.Selector)
	if err != nil {
		return nil, err
	}
	text, err := d.requireParam(sess.ScopeKey, ActionInputText, "text", params.Text)
	if err != nil {
		return nil, err
	}

	element, err := sess.Page.WaitForSelector(selector, driver.WaitStateVisible, d.cfg.Timeouts.Selector())
	if err != nil {
		return nil, notInteractable(err, selector, "selector did not become visible")
	}
	if err := d.requireEnabled(element, selector); err != nil {
		return nil, err
	}
	if err := element.Clear(d.cfg.Timeouts.Selector()); err != nil {
		return nil, notInteractable(err, selector, "clear failed")
	}
	if err := element.Fill(text, d.cfg.Timeouts.Selector()); err != nil {
		return nil, notInteractable(err, selector, "fill failed")
	}
	d.waitNetworkIdle(sess, ActionInputText)

	result := newResult()
	result.Metadata["selector"] = selector
	if err := d.capture(sess, ActionInputText, result); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveVariable reads the element's value (form controls) or rendered text
// (anything else) and stores it into the session's variable scope.
func (d *Dispatcher) SaveVariable(sess *session.Session, params Parameters) (*Result, error) {
	selector, err := d.requireParam(sess.ScopeKey, ActionSaveVariable, "selector", params.Selector)
	if err != nil {
		return nil, err
	}
	name, err := d.requireParam(sess.ScopeKey, ActionSaveVariable, "variableName", params.VariableName)
	if err != nil {
		return nil, err
	}

	element, err := sess.Page.WaitForSelector(selector, driver.WaitStateAttached, d.cfg.Timeouts.Selector())
	if err != nil {
		return nil, notInteractable(err, selector, "selector did not attach")
	}
	value, err := readElementValue(element)
	if err != nil {
		return nil, notInteractable(err, selector, "value read failed")
	}
	if err := d.vars.Set(sess.ScopeKey, name, value); err != nil {
		return nil, err
	}

	result := newResult()
	result.Content = value
	result.Metadata["variableName"] = name
	if err := d.capture(sess, ActionSaveVariable, result); err != nil {
		return nil, err
	}
	return result, nil
}

// CaptureDOM returns the full document markup.
func (d *Dispatcher) CaptureDOM(sess *session.Session, params Parameters) (*Result, error) {
	markup, err := sess.Page.Content()
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDOMCaptureFailed, err, "failed to capture document markup")
	}

	result := newResult()
	result.Content = markup
	d.annotateContent(result)
	if err := d.capture(sess, ActionGetDOM, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractContent returns attribute values or text for the matched elements.
// With Multiple unset only the first match is read; zero matches fail.
func (d *Dispatcher) ExtractContent(sess *session.Session, params Parameters) (*Result, error) {
	selector, err := d.requireParam(sess.ScopeKey, ActionGetContent, "selector", params.Selector)
	if err != nil {
		return nil, err
	}
	attribute, err := d.resolveParam(sess.ScopeKey, params.Attribute)
	if err != nil {
		return nil, err
	}

	elements, err := sess.Page.QuerySelectorAll(selector)
	if err != nil {
		return nil, notInteractable(err, selector, "selector query failed")
	}
	if len(elements) == 0 {
		return nil, notInteractable(nil, selector, "no elements matched")
	}
	if !params.Multiple {
		elements = elements[:1]
	}

	values := make([]string, 0, len(elements))
	for _, element := range elements {
		var value string
		if attribute != "" {
			value, err = element.GetAttribute(attribute)
			if err != nil {
				return nil, notInteractable(err, selector,
					fmt.Sprintf("attribute %q read failed", attribute))
			}
		} else {
			value, err = readElementValue(element)
			if err != nil {
				return nil, notInteractable(err, selector, "value read failed")
			}
		}
		values = append(values, value)
	}

	result := newResult()
	result.Content = strings.Join(values, "\n")
	result.Metadata["matches"] = len(values)
	d.annotateContent(result)
	if err := d.capture(sess, ActionGetContent, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractSubDOM accumulates the outer markup of every match under a running
// size budget. The budget aborts the command; no partial content is
// returned.
func (d *Dispatcher) ExtractSubDOM(sess *session.Session, params Parameters) (*Result, error) {
	selector, err := d.requireParam(sess.ScopeKey, ActionGetSubDOM, "selector", params.Selector)
	if err != nil {
		return nil, err
	}
	maxSize := params.MaxDOMSize
	if maxSize <= 0 {
		maxSize = DefaultMaxDOMSize
	}

	elements, err := sess.Page.QuerySelectorAll(selector)
	if err != nil {
		return nil, notInteractable(err, selector, "selector query failed")
	}
	if len(elements) == 0 {
		return nil, notInteractable(nil, selector, "no elements matched")
	}

	var builder strings.Builder
	total := 0
	for i, element := range elements {
		markup, err := element.OuterHTML()
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeDOMCaptureFailed, err,
				fmt.Sprintf("failed to read markup for match %d of %q", i, selector))
		}
		// Separators count against the budget too: the returned content
		// can never exceed maxSize.
		addition := len(markup)
		if total > 0 {
			addition++
		}
		if total+addition > maxSize {
			return nil, errdef.Newf(errdef.CodeSubDOMSizeExceeded,
				"sub-DOM for %q exceeds the %d character budget", selector, maxSize).
				WithDetail("selector", selector).
				WithDetail("maxDomSize", maxSize).
				WithDetail("accumulated", total)
		}
		if total > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(markup)
		total += addition
	}

	result := newResult()
	result.Content = builder.String()
	result.Metadata["matches"] = len(elements)
	d.annotateContent(result)
	if err := d.capture(sess, ActionGetSubDOM, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractText harvests visible text. For a whole-document selector it
// collects every visible text node across the page, de-duplicated; for
// anything else it attempts readability-style main-content extraction with
// a raw visible-text fallback. Whitespace is normalized either way.
func (d *Dispatcher) ExtractText(sess *session.Session, params Parameters) (*Result, error) {
	selector, err := d.requireParam(sess.ScopeKey, ActionGetText, "selector", params.Selector)
	if err != nil {
		return nil, err
	}

	var text string
	if isDocumentSelector(selector) {
		markup, err := sess.Page.Content()
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeDOMCaptureFailed, err, "failed to capture document markup")
		}
		text, err = extractVisibleText(markup, true)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeDOMCaptureFailed, err, "failed to parse document markup")
		}
	} else {
		element, err := sess.Page.WaitForSelector(selector, driver.WaitStateAttached, d.cfg.Timeouts.Selector())
		if err != nil {
			return nil, notInteractable(err, selector, "selector did not attach")
		}
		markup, err := element.OuterHTML()
		if err != nil {
			return nil, notInteractable(err, selector, "markup read failed")
		}
		text, err = extractMainContent(markup)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeDOMCaptureFailed, err, "failed to parse element markup")
		}
		if text == "" {
			text, err = extractVisibleText(markup, false)
			if err != nil {
				return nil, errdef.Wrap(errdef.CodeDOMCaptureFailed, err, "failed to parse element markup")
			}
		}
	}

	result := newResult()
	result.Content = text
	result.Metadata["selector"] = selector
	d.annotateContent(result)
	if err := d.capture(sess, ActionGetText, result); err != nil {
		return nil, err
	}
	return result, nil
}

// requireParam validates presence and resolves variables in one step. The
// missing-parameter error names the field.
func (d *Dispatcher) requireParam(scopeKey string, action Action, field, value string) (string, error) {
	if value == "" {
		return "", errdef.Newf(errdef.CodeInvalidCommand,
			"%s requires parameter %q", action, field).
			WithDetail("action", string(action)).
			WithDetail("field", field)
	}
	return d.vars.Resolve(scopeKey, value)
}

// resolveParam resolves variables in an optional parameter.
func (d *Dispatcher) resolveParam(scopeKey, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return d.vars.Resolve(scopeKey, value)
}

// requireEnabled fails when the element is disabled or the check itself
// fails.
func (d *Dispatcher) requireEnabled(element driver.Element, selector string) error {
	enabled, err := element.IsEnabled()
	if err != nil {
		return notInteractable(err, selector, "enabled check failed")
	}
	if !enabled {
		return notInteractable(nil, selector, "element is disabled")
	}
	return nil
}

// waitNetworkIdle is the only advisory wait: a timeout is logged and
// execution continues.
func (d *Dispatcher) waitNetworkIdle(sess *session.Session, action Action) {
	if !d.cfg.NetworkIdle.AppliesTo(string(action)) {
		return
	}
	if err := sess.Page.WaitForLoadState(driver.LoadStateNetworkIdle, d.cfg.NetworkIdle.Timeout()); err != nil {
		d.log.Debugf("network idle wait after %s timed out for scope %s: %v",
			action, sess.ScopeKey, err)
	}
}

// capture records screenshot evidence for the action when configured.
func (d *Dispatcher) capture(sess *session.Session, action Action, result *Result) error {
	id, err := d.evidence.Capture(sess.ScopeKey, string(action), sess.Page, nil)
	if err != nil {
		return err
	}
	result.EvidenceID = id
	return nil
}

// annotateContent records payload size metadata for extraction actions.
func (d *Dispatcher) annotateContent(result *Result) {
	result.Metadata["contentLength"] = len(result.Content)
	if d.tokens != nil {
		result.Metadata["tokens"] = d.tokens.Count(result.Content)
	}
}

// readElementValue reads a form control's value or any other element's
// rendered text. A null rendered text reads as empty, not as an error.
func readElementValue(element driver.Element) (string, error) {
	tag, err := element.TagName()
	if err != nil {
		return "", err
	}
	if formControlTags[tag] {
		return element.InputValue()
	}
	text, err := element.InnerText()
	if err != nil || text == "" {
		content, fallbackErr := element.TextContent()
		if fallbackErr != nil {
			if err != nil {
				return "", err
			}
			return "", fallbackErr
		}
		return content, nil
	}
	return text, nil
}

// notInteractable is the single collapse point for click/input/read
// failures. The distinguishing reason travels in the details bag.
func notInteractable(cause error, selector, reason string) error {
	message := fmt.Sprintf("element %q is not interactable: %s", selector, reason)
	var e *errdef.Error
	if cause != nil {
		e = errdef.Wrap(errdef.CodeElementNotInteractable, cause, message)
	} else {
		e = errdef.New(errdef.CodeElementNotInteractable, message)
	}
	return e.WithDetail("selector", selector).WithDetail("reason", reason)
}

// isDocumentSelector reports whether the selector targets the whole page.
func isDocumentSelector(selector string) bool {
	switch strings.ToLower(strings.TrimSpace(selector)) {
	case "html", "body", ":root", "document", "*":
		return true
	}
	return false
}
