package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kadirpekel/voxgate/pkg/tenant"
	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

const rootField = "(root)"

// Validate checks params against the tool's parameter schema. Every problem
// is reported in one validation error. A null value counts as absent.
// Parameters the schema does not declare are passed through unchecked
// unless the schema forbids additional properties.
func Validate(tool *tenant.ToolDefinition, params map[string]any) error {
	schema, err := tool.Schema()
	if err != nil {
		return toolerr.Configuration(tool.Name, "%v", err)
	}

	present := make(map[string]any, len(params))
	for name, v := range params {
		if v != nil {
			present[name] = v
		}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(present))
	if err != nil {
		return toolerr.Validation(tool.Name, "parameters are not valid JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]problem, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, describe(e))
	}
	sort.SliceStable(problems, func(i, j int) bool {
		if problems[i].missing != problems[j].missing {
			return problems[i].missing
		}
		return problems[i].field < problems[j].field
	})

	msgs := make([]string, len(problems))
	for i, p := range problems {
		msgs[i] = p.text
	}
	return toolerr.Validation(tool.Name, "%s", strings.Join(msgs, "; "))
}

type problem struct {
	field   string
	missing bool
	text    string
}

func describe(e gojsonschema.ResultError) problem {
	field := e.Field()
	details := e.Details()

	switch e.Type() {
	case "required":
		name := fmt.Sprint(details["property"])
		if field != rootField {
			name = field + "." + name
		}
		return problem{field: name, missing: true, text: "missing required parameter " + name}
	case "invalid_type":
		return problem{field: field, text: fmt.Sprintf("parameter %s must be %v, got %v", field, details["expected"], details["given"])}
	case "enum":
		return problem{field: field, text: fmt.Sprintf("parameter %s must be one of [%v]", field, details["allowed"])}
	}
	if field == rootField {
		return problem{field: field, text: "parameters: " + e.Description()}
	}
	return problem{field: field, text: fmt.Sprintf("parameter %s: %s", field, e.Description())}
}
