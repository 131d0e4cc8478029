package dispatch

import (
	"time"

	"github.com/entrhq/replay/pkg/errdef"
)

// Action is one of the eight DOM-interaction commands. The set is closed:
// the dispatcher matches exhaustively and rejects anything else with
// INVALID_COMMAND.
type Action string

const (
	ActionOpenPage     Action = "OPEN_PAGE"
	ActionClickElement Action = "CLICK_ELEMENT"
	ActionInputText    Action = "INPUT_TEXT"
	ActionSaveVariable Action = "SAVE_VARIABLE"
	ActionGetDOM       Action = "GET_DOM"
	ActionGetContent   Action = "GET_CONTENT"
	ActionGetSubDOM    Action = "GET_SUBDOM"
	ActionGetText      Action = "GET_TEXT"
)

// Actions lists every supported action.
func Actions() []Action {
	return []Action{
		ActionOpenPage,
		ActionClickElement,
		ActionInputText,
		ActionSaveVariable,
		ActionGetDOM,
		ActionGetContent,
		ActionGetSubDOM,
		ActionGetText,
	}
}

// Valid reports whether a is a supported action.
func (a Action) Valid() bool {
	switch a {
	case ActionOpenPage, ActionClickElement, ActionInputText, ActionSaveVariable,
		ActionGetDOM, ActionGetContent, ActionGetSubDOM, ActionGetText:
		return true
	}
	return false
}

// DefaultMaxDOMSize is the GET_SUBDOM size budget when none is supplied.
const DefaultMaxDOMSize = 100000

// Parameters carries the action-specific inputs. String fields are subject
// to variable resolution against the command's scope before use.
type Parameters struct {
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
	Selector     string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text         string `json:"text,omitempty" yaml:"text,omitempty"`
	VariableName string `json:"variableName,omitempty" yaml:"variable_name,omitempty"`
	Attribute    string `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Multiple     bool   `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	MaxDOMSize   int    `json:"maxDomSize,omitempty" yaml:"max_dom_size,omitempty"`
}

// Command is one submitted unit of work, immutable once submitted.
type Command struct {
	ScopeKey   string     `json:"scopeKey" yaml:"scope_key"`
	Action     Action     `json:"action" yaml:"action"`
	Parameters Parameters `json:"parameters" yaml:"parameters"`
	CommandID  string     `json:"commandId,omitempty" yaml:"command_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Response is the caller-facing result of one command.
type Response struct {
	Success    bool           `json:"success"`
	Content    string         `json:"content,omitempty"`
	EvidenceID string         `json:"evidenceId,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Error      *errdef.Error  `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result is what the per-action methods produce on success.
type Result struct {
	Content    string
	EvidenceID string
	Metadata   map[string]any
}

func newResult() *Result {
	return &Result{Metadata: make(map[string]any)}
}
