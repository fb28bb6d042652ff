package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/voxgate/pkg/tenant"
	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

func testTool() *tenant.ToolDefinition {
	tool := &tenant.ToolDefinition{
		Name: "book",
		Parameters: tenant.ParameterSchema{
			Properties: map[string]tenant.Parameter{
				"city":   {Type: tenant.TypeString},
				"nights": {Type: tenant.TypeInteger},
				"budget": {Type: tenant.TypeNumber},
				"vip":    {Type: tenant.TypeBoolean},
				"tags":   {Type: tenant.TypeArray},
				"prefs":  {Type: tenant.TypeObject},
				"room":   {Type: tenant.TypeString, Enum: []any{"single", "double"}},
				"floor":  {Type: tenant.TypeInteger, Enum: []any{1, 2, 3}},
			},
			Required: []string{"city"},
		},
		Action: tenant.Action{URL: "https://example.com"},
	}
	tool.SetDefaults()
	return tool
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{name: "minimal", params: map[string]any{"city": "Oslo"}},
		{name: "all types", params: map[string]any{
			"city": "Oslo", "nights": json.Number("3"), "budget": 120.5, "vip": true,
			"tags": []any{"a"}, "prefs": map[string]any{"view": "sea"}, "room": "double", "floor": 2.0,
		}},
		{name: "undeclared passes through", params: map[string]any{"city": "Oslo", "extra": 1}},
		{name: "missing required", params: map[string]any{}, wantErr: "missing required parameter city"},
		{name: "null required", params: map[string]any{"city": nil}, wantErr: "missing required parameter city"},
		{name: "wrong type", params: map[string]any{"city": "Oslo", "vip": "yes"}, wantErr: "parameter vip must be boolean, got string"},
		{name: "fractional integer", params: map[string]any{"city": "Oslo", "nights": 1.5}, wantErr: "parameter nights must be integer"},
		{name: "string enum", params: map[string]any{"city": "Oslo", "room": "suite"}, wantErr: `parameter room must be one of ["single", "double"]`},
		{name: "numeric enum", params: map[string]any{"city": "Oslo", "floor": json.Number("9")}, wantErr: "parameter floor must be one of [1, 2, 3]"},
		{name: "reports every problem", params: map[string]any{"vip": 1}, wantErr: "missing required parameter city; parameter vip must be boolean"},
	}

	tool := testTool()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tool, tt.params)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, toolerr.Is(err, toolerr.KindValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const searchDoc = `
tools:
  - name: search
    parameters:
      properties:
        q: {type: string, minLength: 3, pattern: "^[a-z]+$"}
        filter:
          type: object
          properties:
            n: {type: integer}
          required: [n]
        tags:
          type: array
          items: {type: string}
          maxItems: 3
        lang: {}
      required: [q]
    action: {url: https://example.com/search}
`

func TestValidate_FullSchema(t *testing.T) {
	doc, err := tenant.ParseDocument([]byte(searchDoc), "acme")
	require.NoError(t, err)
	tool := doc.Tools[0]

	tests := []struct {
		name    string
		params  map[string]any
		wantErr []string
	}{
		{name: "valid", params: map[string]any{
			"q": "weather", "filter": map[string]any{"n": 2.0}, "tags": []any{"a", "b"}, "lang": "en",
		}},
		{name: "too short", params: map[string]any{"q": "ab"}, wantErr: []string{"parameter q:"}},
		{name: "pattern", params: map[string]any{"q": "Weather!"}, wantErr: []string{"parameter q:"}},
		{name: "nested required", params: map[string]any{"q": "abc", "filter": map[string]any{}},
			wantErr: []string{"missing required parameter filter.n"}},
		{name: "nested type", params: map[string]any{"q": "abc", "filter": map[string]any{"n": "x"}},
			wantErr: []string{"parameter filter.n must be integer, got string"}},
		{name: "array items", params: map[string]any{"q": "abc", "tags": []any{42, true}},
			wantErr: []string{"parameter tags.0 must be string", "parameter tags.1 must be string"}},
		{name: "array length", params: map[string]any{"q": "abc", "tags": []any{"a", "b", "c", "d"}},
			wantErr: []string{"parameter tags:"}},
		{name: "untyped property defaults to string", params: map[string]any{"q": "abc", "lang": 7},
			wantErr: []string{"parameter lang must be string"}},
		{name: "all at once", params: map[string]any{"q": "1", "filter": map[string]any{"n": "x"}, "tags": []any{42, true}},
			wantErr: []string{"parameter q:", "parameter filter.n must be integer", "parameter tags.0 must be string"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tool, tt.params)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, toolerr.Is(err, toolerr.KindValidation))
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestBinder_Text(t *testing.T) {
	b := newBinder(testTool(), map[string]any{"city": "Oslo", "nights": json.Number("3")})

	tests := []struct {
		in   string
		want string
	}{
		{in: "{city} for {nights} nights", want: "Oslo for 3 nights"},
		{in: "budget: {budget}", want: "budget: "},
		{in: "{unknown} stays", want: "{unknown} stays"},
		{in: "{response.total} stays", want: "{response.total} stays"},
		{in: "${TOKEN} stays", want: "${TOKEN} stays"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, b.text(tt.in))
		})
	}
}

func TestBinder_URL(t *testing.T) {
	b := newBinder(testTool(), map[string]any{"city": "São Paulo/Centro", "room": "a&b"})
	got := b.url("https://example.com/cities/{city}/rooms?type={room}&q={city}")
	assert.Equal(t, "https://example.com/cities/S%C3%A3o%20Paulo%2FCentro/rooms?type=a%26b&q=S%C3%A3o+Paulo%2FCentro", got)
}

func TestBinder_Body(t *testing.T) {
	b := newBinder(testTool(), map[string]any{
		"city":   "Oslo",
		"nights": json.Number("3"),
		"vip":    true,
		"tags":   []any{"quiet"},
	})

	got := b.body(map[string]any{
		"city":     "{city}",
		"nights":   "{nights}",
		"vip":      "{vip}",
		"budget":   "{budget}",
		"summary":  "{city} x{nights}",
		"template": "{response.id}",
		"nested":   []any{"{tags}", map[string]any{"c": "{city}"}, 7},
	})

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"city": "Oslo",
		"nights": 3,
		"vip": true,
		"summary": "Oslo x3",
		"template": "{response.id}",
		"nested": [["quiet"], {"c": "Oslo"}, 7]
	}`, string(data))
}
