package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		spec         Spec
		wantText     string
		wantStrategy Strategy
	}{
		{
			name:         "response path",
			body:         `{"result": {"summary": "ok"}}`,
			spec:         Spec{ResponsePath: "result.summary"},
			wantText:     "ok",
			wantStrategy: ByPath,
		},
		{
			name:         "bracket index path",
			body:         `{"items": [{"title": "first"}, {"title": "second"}]}`,
			spec:         Spec{ResponsePath: "items[1].title"},
			wantText:     "second",
			wantStrategy: ByPath,
		},
		{
			name:         "quoted key path",
			body:         `{"data": {"a.b": 7}}`,
			spec:         Spec{ResponsePath: "data['a.b']"},
			wantText:     "7",
			wantStrategy: ByPath,
		},
		{
			name:         "missing path falls through to known field",
			body:         `{"summary": "from summary"}`,
			spec:         Spec{ResponsePath: "result.summary"},
			wantText:     "from summary",
			wantStrategy: ByKnownField,
		},
		{
			name:         "content field fallback",
			body:         `{"content": "hello"}`,
			wantText:     "hello",
			wantStrategy: ByKnownField,
		},
		{
			name:         "result wins over content",
			body:         `{"content": "c", "result": "r"}`,
			wantText:     "r",
			wantStrategy: ByKnownField,
		},
		{
			name:         "object value is rendered as json",
			body:         `{"result": {"temp": 21.5}}`,
			wantText:     `{"temp":21.5}`,
			wantStrategy: ByKnownField,
		},
		{
			name:         "bare json string",
			body:         `"just text"`,
			wantText:     "just text",
			wantStrategy: ByScalar,
		},
		{
			name:         "bare number keeps precision",
			body:         `12345678901234567890`,
			wantText:     "12345678901234567890",
			wantStrategy: ByScalar,
		},
		{
			name:         "plain text body",
			body:         "  The weather is sunny.\n",
			wantText:     "The weather is sunny.",
			wantStrategy: ByRawText,
		},
		{
			name:         "template with response and param placeholders",
			body:         `{"job_id": "j-1", "meta": {"eta": 30}}`,
			spec:         Spec{ResponseTemplate: "Research started for {query}. Job {job_id}, ready in {response.meta.eta}s", Params: map[string]any{"query": "go"}},
			wantText:     "Research started for go. Job j-1, ready in 30s",
			wantStrategy: ByTemplate,
		},
		{
			name:         "incomplete template falls back to path",
			body:         `{"answer": "42"}`,
			spec:         Spec{ResponseTemplate: "Job {job_id}", ResponsePath: "answer"},
			wantText:     "42",
			wantStrategy: ByPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Extract([]byte(tt.body), tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, res.Text())
			assert.Equal(t, tt.wantStrategy, res.Strategy)
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "whitespace body", body: "   \n"},
		{name: "json null", body: "null"},
		{name: "object without known field", body: `{"other": 1}`},
		{name: "empty json string", body: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract([]byte(tt.body), Spec{})
			require.Error(t, err)
			assert.Equal(t, toolerr.KindExtraction, toolerr.KindOf(err))

			var te *toolerr.Error
			require.ErrorAs(t, err, &te)
			assert.True(t, te.Recoverable())
		})
	}
}

func TestExtract_ErrorSnippetIsTruncated(t *testing.T) {
	body := `{"padding": "` + strings.Repeat("x", 1000) + `"}`
	_, err := Extract([]byte(body), Spec{})
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 300)
}

func TestLookup(t *testing.T) {
	var doc any
	require.NoError(t, json.Unmarshal([]byte(`{"a": [{"b": 1}, {"b": 2}], "m": {"0": "zero"}}`), &doc))

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{path: "a[0].b", want: float64(1), found: true},
		{path: "a.1.b", want: float64(2), found: true},
		{path: "a[-1].b", want: float64(2), found: true},
		{path: "m[0]", want: "zero", found: true},
		{path: "a[5].b"},
		{path: "a[x]"},
		{path: "missing"},
		{path: "a[0].b.c"},
		{path: ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := Lookup(doc, tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRender(t *testing.T) {
	out, ok := Render("Hi {name}", nil, map[string]any{"name": "Ada"})
	assert.True(t, ok)
	assert.Equal(t, "Hi Ada", out)

	out, ok = Render("Hi {response.name}", map[string]any{}, nil)
	assert.False(t, ok)
	assert.Equal(t, "Hi {response.name}", out)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "abc", Snippet([]byte("abc"), 5))
	assert.Equal(t, "ééé...", Snippet([]byte("éééé"), 3))
}
