// Package variables implements per-scope template substitution for workflow
// parameters. Templates use ${name} tokens; each workflow-scope key owns an
// isolated map of variables, created lazily on first write.
package variables

import (
	"regexp"
	"sync"

	"github.com/entrhq/replay/pkg/errdef"
)

const (
	// DefaultMaxDepth bounds resolution passes. Indirect references are
	// resolved pass by pass; hitting the bound rejects the input, which
	// catches mutual-reference cycles and also caps legitimately deep
	// nesting.
	DefaultMaxDepth = 10
)

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	tokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_-]*)\}`)
)

// Stats summarizes resolver state across all scopes.
type Stats struct {
	Scopes          int     `json:"scopes"`
	Variables       int     `json:"variables"`
	AveragePerScope float64 `json:"averagePerScope"`
}

// Resolver stores variable scopes and performs template resolution.
// All methods are safe for concurrent use.
type Resolver struct {
	mu       sync.RWMutex
	scopes   map[string]map[string]string
	maxDepth int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxDepth overrides the resolution depth bound.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// NewResolver creates an empty resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		scopes:   make(map[string]map[string]string),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Set stores a variable in the given scope, creating the scope if needed.
// The name must match [A-Za-z_][A-Za-z0-9_-]*.
func (r *Resolver) Set(scopeKey, name, value string) error {
	if !namePattern.MatchString(name) {
		return errdef.Newf(errdef.CodeInvalidVariableName, "invalid variable name %q", name).
			WithDetail("name", name).
			WithDetail("scopeKey", scopeKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	scope, ok := r.scopes[scopeKey]
	if !ok {
		scope = make(map[string]string)
		r.scopes[scopeKey] = scope
	}
	scope[name] = value
	return nil
}

// Get returns the stored value for name in the scope.
func (r *Resolver) Get(scopeKey, name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.scopes[scopeKey][name]
	return value, ok
}

// Resolve substitutes every ${name} token with a stored value in the scope.
// Tokens without a stored value stay literally in place. Substitution
// repeats while a pass changes the text (indirect references); any token
// with a stored value still present once the text settles or the depth
// bound runs out means a reference cycle, and fails with
// VARIABLE_RESOLUTION_DEPTH_EXCEEDED.
func (r *Resolver) Resolve(scopeKey, text string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scope := r.scopes[scopeKey]
	current := text
	for i := 0; i < r.maxDepth; i++ {
		next := tokenPattern.ReplaceAllStringFunc(current, func(token string) string {
			name := token[2 : len(token)-1]
			if value, ok := scope[name]; ok {
				return value
			}
			return token
		})
		if next == current {
			// A settled text may still hold a token with a stored value:
			// a variable whose value is exactly its own token. That is a
			// cycle, not a resolution.
			break
		}
		current = next
	}

	if r.hasResolvableToken(scope, current) {
		return "", errdef.Newf(errdef.CodeResolutionDepthExceeded,
			"variable resolution did not settle within %d passes", r.maxDepth).
			WithDetail("scopeKey", scopeKey).
			WithDetail("maxDepth", r.maxDepth)
	}
	return current, nil
}

func (r *Resolver) hasResolvableToken(scope map[string]string, text string) bool {
	for _, match := range tokenPattern.FindAllStringSubmatch(text, -1) {
		if _, ok := scope[match[1]]; ok {
			return true
		}
	}
	return false
}

// Import bulk-loads variables into the scope. All names are validated
// before any value is stored.
func (r *Resolver) Import(scopeKey string, vars map[string]string) error {
	for name := range vars {
		if !namePattern.MatchString(name) {
			return errdef.Newf(errdef.CodeInvalidVariableName, "invalid variable name %q", name).
				WithDetail("name", name).
				WithDetail("scopeKey", scopeKey)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	scope, ok := r.scopes[scopeKey]
	if !ok {
		scope = make(map[string]string, len(vars))
		r.scopes[scopeKey] = scope
	}
	for name, value := range vars {
		scope[name] = value
	}
	return nil
}

// Export returns a copy of the scope's variables. An unknown scope exports
// an empty map.
func (r *Resolver) Export(scopeKey string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scope := r.scopes[scopeKey]
	out := make(map[string]string, len(scope))
	for name, value := range scope {
		out[name] = value
	}
	return out
}

// ClearScope removes all variables for the scope. Scopes are never cleared
// implicitly; callers own their lifetime.
func (r *Resolver) ClearScope(scopeKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scopes, scopeKey)
}

// Count returns the number of variables stored in the scope.
func (r *Resolver) Count(scopeKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes[scopeKey])
}

// Statistics aggregates variable counts across all scopes.
func (r *Resolver) Statistics() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{Scopes: len(r.scopes)}
	for _, scope := range r.scopes {
		stats.Variables += len(scope)
	}
	if stats.Scopes > 0 {
		stats.AveragePerScope = float64(stats.Variables) / float64(stats.Scopes)
	}
	return stats
}
