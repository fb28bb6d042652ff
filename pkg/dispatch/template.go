package dispatch

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/kadirpekel/voxgate/pkg/extract"
	"github.com/kadirpekel/voxgate/pkg/tenant"
)

var paramPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// binder substitutes {param} placeholders. {response.*} placeholders and
// ${VAR} references are left for later stages. A placeholder naming a
// declared parameter that was not supplied renders empty; one naming
// nothing known is kept as written.
type binder struct {
	params   map[string]any
	declared map[string]tenant.Parameter
}

func newBinder(tool *tenant.ToolDefinition, params map[string]any) *binder {
	return &binder{params: params, declared: tool.Parameters.Properties}
}

// lookup returns the value for name. keep reports that the placeholder must
// stay untouched.
func (b *binder) lookup(name string) (value any, keep bool) {
	if strings.HasPrefix(name, "response.") {
		return nil, true
	}
	if v, ok := b.params[name]; ok {
		return v, false
	}
	if _, ok := b.declared[name]; ok {
		return nil, false
	}
	return nil, true
}

func (b *binder) replace(s string, escape func(string) string) string {
	matches := paramPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var out strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 && s[start-1] == '$' {
			continue
		}
		value, keep := b.lookup(s[m[2]:m[3]])
		if keep {
			continue
		}
		out.WriteString(s[last:start])
		text := extract.Stringify(value)
		if escape != nil {
			text = escape(text)
		}
		out.WriteString(text)
		last = end
	}
	out.WriteString(s[last:])
	return out.String()
}

// text substitutes into free text such as a header value.
func (b *binder) text(s string) string {
	return b.replace(s, nil)
}

// url substitutes into a URL, path-escaping values before the query and
// query-escaping them after it.
func (b *binder) url(raw string) string {
	path, query, hasQuery := strings.Cut(raw, "?")
	path = b.replace(path, url.PathEscape)
	if !hasQuery {
		return path
	}
	return path + "?" + b.replace(query, url.QueryEscape)
}

// body substitutes into a JSON body template. A string that is exactly one
// placeholder takes the parameter's value with its JSON type; object keys
// bound to an absent optional parameter are dropped.
func (b *binder) body(tmpl any) any {
	switch t := tmpl.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			if name, ok := wholePlaceholder(v); ok {
				value, keep := b.lookup(name)
				switch {
				case keep:
					out[k] = v
				case value != nil:
					out[k] = value
				}
				continue
			}
			out[k] = b.body(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = b.body(v)
		}
		return out
	case string:
		if name, ok := wholePlaceholder(t); ok {
			if value, keep := b.lookup(name); !keep {
				return value
			}
			return t
		}
		return b.text(t)
	default:
		return tmpl
	}
}

func wholePlaceholder(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	m := paramPattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return "", false
	}
	return m[1], true
}
