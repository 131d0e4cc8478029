package errdef

// Code is the symbolic identifier for a failure mode.
type Code string

// Session lifecycle codes.
const (
	CodeSessionAlreadyExists Code = "SESSION_ALREADY_EXISTS"
	CodeMaxSessionsExceeded  Code = "MAX_SESSIONS_EXCEEDED"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeBrowserLaunchFailed  Code = "BROWSER_LAUNCH_FAILED"
)

// Command execution codes.
const (
	CodeInvalidCommand         Code = "INVALID_COMMAND"
	CodePageLoadTimeout        Code = "PAGE_LOAD_TIMEOUT"
	CodeElementNotInteractable Code = "ELEMENT_NOT_INTERACTABLE"
	CodeDOMCaptureFailed       Code = "DOM_CAPTURE_FAILED"
	CodeSubDOMSizeExceeded     Code = "SUBDOM_SIZE_EXCEEDED"
)

// Evidence codes.
const (
	CodeScreenshotFailed Code = "SCREENSHOT_FAILED"
	CodeEvidenceNotFound Code = "EVIDENCE_NOT_FOUND"
)

// Variable codes.
const (
	CodeInvalidVariableName     Code = "INVALID_VARIABLE_NAME"
	CodeResolutionDepthExceeded Code = "VARIABLE_RESOLUTION_DEPTH_EXCEEDED"
)

// CodeUnexpected deliberately has no table entry so it resolves to the
// default classification.
const CodeUnexpected Code = "UNEXPECTED_ERROR"

// Classification is the set of attributes derived from a code.
type Classification struct {
	Category        Category
	Severity        Severity
	Recoverable     bool
	Retryable       bool
	SuggestedAction string
}

// classifications is the static code table. Attributes here are contractual:
// the same code always yields the same classification.
var classifications = map[Code]Classification{
	CodeSessionAlreadyExists: {
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Recoverable:     true,
		Retryable:       false,
		SuggestedAction: "Use a different workflow scope key or destroy the existing session first",
	},
	CodeMaxSessionsExceeded: {
		Category:        CategorySystem,
		Severity:        SeverityHigh,
		Recoverable:     true,
		Retryable:       true,
		SuggestedAction: "Destroy an idle session or raise the max_sessions limit",
	},
	CodeSessionNotFound: {
		Category:        CategorySystem,
		Severity:        SeverityMedium,
		Recoverable:     false,
		Retryable:       false,
		SuggestedAction: "Create a session for this workflow scope key before sending commands",
	},
	CodeBrowserLaunchFailed: {
		Category:        CategorySystem,
		Severity:        SeverityCritical,
		Recoverable:     false,
		Retryable:       false,
		SuggestedAction: "Check the browser installation and launch configuration",
	},
	CodeInvalidCommand: {
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Recoverable:     false,
		Retryable:       false,
		SuggestedAction: "Fix the command action or its required parameters",
	},
	CodePageLoadTimeout: {
		Category:        CategoryTimeout,
		Severity:        SeverityMedium,
		Recoverable:     true,
		Retryable:       true,
		SuggestedAction: "Retry the navigation or raise the navigation timeout",
	},
	CodeElementNotInteractable: {
		Category:        CategoryExecution,
		Severity:        SeverityMedium,
		Recoverable:     true,
		Retryable:       true,
		SuggestedAction: "Verify the selector and wait for the page to settle before retrying",
	},
	CodeDOMCaptureFailed: {
		Category:        CategoryExecution,
		Severity:        SeverityMedium,
		Recoverable:     true,
		Retryable:       false,
		SuggestedAction: "Reload the page and capture again",
	},
	CodeSubDOMSizeExceeded: {
		Category:        CategoryExecution,
		Severity:        SeverityMedium,
		Recoverable:     true,
		Retryable:       false,
		SuggestedAction: "Narrow the selector or raise maxDomSize",
	},
	CodeScreenshotFailed: {
		Category:        CategoryExecution,
		Severity:        SeverityMedium,
		Recoverable:     true,
		Retryable:       true,
		SuggestedAction: "Retry the capture; check the evidence directory is writable",
	},
	CodeEvidenceNotFound: {
		Category:        CategoryExecution,
		Severity:        SeverityLow,
		Recoverable:     false,
		Retryable:       false,
		SuggestedAction: "The evidence record or its backing file no longer exists",
	},
	CodeInvalidVariableName: {
		Category:        CategoryValidation,
		Severity:        SeverityLow,
		Recoverable:     false,
		Retryable:       false,
		SuggestedAction: "Variable names must match [A-Za-z_][A-Za-z0-9_-]*",
	},
	CodeResolutionDepthExceeded: {
		Category:        CategoryValidation,
		Severity:        SeverityMedium,
		Recoverable:     false,
		Retryable:       false,
		SuggestedAction: "Break the variable reference cycle or raise the resolution depth limit",
	},
}

// defaultClassification is applied to any code absent from the table.
var defaultClassification = Classification{
	Category:        CategoryIntegration,
	Severity:        SeverityMedium,
	Recoverable:     true,
	Retryable:       false,
	SuggestedAction: "Inspect the wrapped cause; this failure mode is not classified",
}

// Classify returns the classification for code, falling back to the safe
// default for unknown codes.
func Classify(code Code) Classification {
	if c, ok := classifications[code]; ok {
		return c
	}
	return defaultClassification
}
