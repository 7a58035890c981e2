package requestlog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrInvalidFilter is returned by CompileFilter for expressions that do not
// compile to a boolean.
var ErrInvalidFilter = errors.New("invalid filter expression")

// Filter selects entries with a boolean expr-lang expression, e.g.
//
//	status >= 500 && method == "POST"
//	path startsWith "/api/bonus" && durationMs > 250
//	requestHeaders["User-Agent"] contains "UnityPlayer"
//
// A nil *Filter matches every entry.
type Filter struct {
	source  string
	program *vm.Program
}

// filterEnv is the variable set visible to filter expressions.
type filterEnv struct {
	ID              string            `expr:"id"`
	Method          string            `expr:"method"`
	Path            string            `expr:"path"`
	Query           string            `expr:"query"`
	Status          int               `expr:"status"`
	DurationMs      float64           `expr:"durationMs"`
	RemoteAddr      string            `expr:"remoteAddr"`
	RequestHeaders  map[string]string `expr:"requestHeaders"`
	ResponseHeaders map[string]string `expr:"responseHeaders"`
	RequestBody     string            `expr:"requestBody"`
	ResponseBody    string            `expr:"responseBody"`
	Error           string            `expr:"error"`
}

// CompileFilter compiles expression. An empty expression yields a nil
// Filter, which matches everything.
func CompileFilter(expression string) (*Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}

	program, err := expr.Compile(expression, expr.Env(filterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return &Filter{source: expression, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match reports whether entry satisfies the filter. Evaluation errors count
// as a non-match.
func (f *Filter) Match(entry *Entry) bool {
	if f == nil {
		return true
	}
	if entry == nil {
		return false
	}

	out, err := expr.Run(f.program, newFilterEnv(entry))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// Apply returns the entries that match, preserving order.
func (f *Filter) Apply(entries []*Entry) []*Entry {
	if f == nil {
		return entries
	}
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

func newFilterEnv(e *Entry) filterEnv {
	env := filterEnv{
		ID:              e.ID,
		Method:          e.Method,
		Path:            e.Path,
		Query:           e.QueryString,
		Status:          e.ResponseStatusCode,
		DurationMs:      e.DurationMs,
		RemoteAddr:      e.RemoteAddr,
		RequestHeaders:  e.RequestHeaders,
		ResponseHeaders: e.ResponseHeaders,
		Error:           e.Error,
	}
	if e.RequestBody != nil {
		env.RequestBody = *e.RequestBody
	}
	if e.ResponseBody != nil {
		env.ResponseBody = *e.ResponseBody
	}
	return env
}
