// Package extract turns an upstream response body into the single value
// spoken back to the caller.
package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

// SnippetLength bounds the body excerpt carried by an extraction error.
const SnippetLength = 200

// Strategy names an extraction rule.
type Strategy string

const (
	ByTemplate   Strategy = "by-template"
	ByPath       Strategy = "by-path"
	ByKnownField Strategy = "by-known-field"
	ByScalar     Strategy = "by-scalar"
	ByRawText    Strategy = "by-raw-text"
)

// KnownFields are tried in order on JSON object bodies.
var KnownFields = []string{"result", "summary", "content"}

// Spec configures extraction for one tool.
type Spec struct {
	ResponsePath     string
	ResponseTemplate string

	// Params fill template placeholders that the body does not provide.
	Params map[string]any
}

// Result is an extracted value.
type Result struct {
	Value    any
	Strategy Strategy
}

// Text renders the value for speech: strings as is, everything else as
// compact JSON.
func (r Result) Text() string {
	return Stringify(r.Value)
}

type body struct {
	raw    []byte
	value  any
	isJSON bool
}

type strategy struct {
	kind  Strategy
	apply func(b *body, spec Spec) (any, bool)
}

var strategies = []strategy{
	{kind: ByTemplate, apply: fromTemplate},
	{kind: ByPath, apply: fromPath},
	{kind: ByKnownField, apply: fromKnownField},
	{kind: ByScalar, apply: fromScalar},
	{kind: ByRawText, apply: fromRawText},
}

// Extract runs the strategies in order and returns the first success. When
// none applies it returns an extraction error carrying a body snippet; the
// caller is expected to fall back to the raw text.
func Extract(raw []byte, spec Spec) (Result, error) {
	b := &body{raw: raw}
	b.value, b.isJSON = Decode(raw)

	for _, s := range strategies {
		if v, ok := s.apply(b, spec); ok {
			return Result{Value: v, Strategy: s.kind}, nil
		}
	}
	return Result{}, toolerr.Extraction(Snippet(raw, SnippetLength))
}

// Decode parses raw as a single JSON document, keeping numbers as
// json.Number. It reports false for empty or non-JSON bodies.
func Decode(raw []byte) (any, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return nil, false
	}
	return v, true
}

func fromTemplate(b *body, spec Spec) (any, bool) {
	if spec.ResponseTemplate == "" {
		return nil, false
	}
	out, ok := Render(spec.ResponseTemplate, b.value, spec.Params)
	if !ok {
		return nil, false
	}
	return out, true
}

func fromPath(b *body, spec Spec) (any, bool) {
	if spec.ResponsePath == "" || !b.isJSON {
		return nil, false
	}
	v, ok := Lookup(b.value, spec.ResponsePath)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func fromKnownField(b *body, _ Spec) (any, bool) {
	obj, ok := b.value.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, field := range KnownFields {
		if v, ok := obj[field]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func fromScalar(b *body, _ Spec) (any, bool) {
	switch v := b.value.(type) {
	case string:
		return v, v != ""
	case json.Number, bool:
		return v, true
	}
	return nil, false
}

func fromRawText(b *body, _ Spec) (any, bool) {
	if b.isJSON {
		return nil, false
	}
	text := strings.TrimSpace(string(b.raw))
	return text, text != ""
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.\[\]'"-]*)\}`)

// Render fills {response.path} from the body and {name} from the body's top
// level, then from params. It reports false if any placeholder stays
// unresolved.
func Render(template string, value any, params map[string]any) (string, bool) {
	complete := true
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if rest, ok := strings.CutPrefix(name, "response."); ok {
			if v, found := Lookup(value, rest); found && v != nil {
				return Stringify(v)
			}
			complete = false
			return match
		}
		if v, found := Lookup(value, name); found && v != nil {
			return Stringify(v)
		}
		if v, found := params[name]; found && v != nil {
			return Stringify(v)
		}
		complete = false
		return match
	})
	return out, complete
}

// Stringify renders v for speech.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Snippet returns at most n runes of raw.
func Snippet(raw []byte, n int) string {
	s := string(raw)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
