// Package tenant loads tenant tool documents and publishes them as
// immutable tool sets.
package tenant

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/registry"
)

// Parameter types accepted in a tool schema.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// DefaultJobIDPath is where async tools find the job id in the response.
const DefaultJobIDPath = "job_id"

// Document is one tenant's declarative configuration.
type Document struct {
	Tenant    string            `yaml:"tenant" json:"tenant" jsonschema:"title=Tenant,description=Tenant id; defaults to the document file name"`
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty" jsonschema:"title=Variables,description=Values for ${VAR} placeholders; shadow process environment variables"`
	Services  []ServiceSpec     `yaml:"services,omitempty" json:"services,omitempty" jsonschema:"title=Services,description=Logical backends referenced as service://name/path; a map of name to URL is also accepted"`
	Tools     []*ToolDefinition `yaml:"tools" json:"tools" jsonschema:"title=Tools,description=Operations the voice agent can invoke"`
}

// ServiceSpec declares a tenant service inside the document.
type ServiceSpec struct {
	Name       string        `yaml:"name" json:"name" jsonschema:"required,minLength=1"`
	URL        string        `yaml:"url" json:"url" jsonschema:"required,description=Absolute http(s) base URL"`
	HealthPath string        `yaml:"health_path,omitempty" json:"health_path,omitempty" jsonschema:"default=/health"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"type=string,description=Request timeout such as 5s"`
	Required   *bool         `yaml:"required,omitempty" json:"required,omitempty" jsonschema:"default=true"`
}

// ToolDefinition is a named operation bound to an HTTP action.
type ToolDefinition struct {
	Name        string          `yaml:"name" json:"name" jsonschema:"required,pattern=^[A-Za-z0-9_-]+$"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  ParameterSchema `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Action      Action          `yaml:"action" json:"action" jsonschema:"required"`

	schema *gojsonschema.Schema
}

// ParameterSchema is the typed view of a tool's JSON Schema. Keywords it
// does not model, such as minLength or items, still apply at validation.
type ParameterSchema struct {
	Type       string               `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=object,default=object"`
	Properties map[string]Parameter `yaml:"properties,omitempty" json:"properties,omitempty"`
	Required   []string             `yaml:"required,omitempty" json:"required,omitempty"`
}

// Parameter describes one argument.
type Parameter struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=string,enum=number,enum=integer,enum=boolean,enum=object,enum=array"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []any  `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// Action is the HTTP request a tool performs.
type Action struct {
	Method  string            `yaml:"method,omitempty" json:"method,omitempty" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=PATCH,enum=DELETE"`
	URL     string            `yaml:"url" json:"url" jsonschema:"required,description=Absolute URL or service://name/path or a URL with ${VAR} placeholders"`
	Service string            `yaml:"service,omitempty" json:"service,omitempty" jsonschema:"description=Service used to resolve a relative url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// JSONBody is a template; strings may hold {param} placeholders.
	JSONBody any `yaml:"json_body,omitempty" json:"json_body,omitempty"`

	ResponsePath     string        `yaml:"response_path,omitempty" json:"response_path,omitempty" jsonschema:"description=Dotted or bracket path into the JSON response"`
	ResponseTemplate string        `yaml:"response_template,omitempty" json:"response_template,omitempty" jsonschema:"description=Text with {response.path} and {param} placeholders"`
	Timeout          time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"type=string"`

	Async       bool   `yaml:"async,omitempty" json:"async,omitempty" jsonschema:"description=The response carries a job id instead of a final answer"`
	JobIDPath   string `yaml:"job_id_path,omitempty" json:"job_id_path,omitempty" jsonschema:"default=job_id"`
	RequestType string `yaml:"request_type,omitempty" json:"request_type,omitempty"`
	StatusURL   string `yaml:"status_url,omitempty" json:"status_url,omitempty" jsonschema:"description=Polled for async job status; may use {job_id}"`
}

// SetDefaults fills omitted tool fields.
func (t *ToolDefinition) SetDefaults() {
	if t.Parameters.Type == "" {
		t.Parameters.Type = TypeObject
	}
	for name, p := range t.Parameters.Properties {
		if p.Type == "" {
			p.Type = TypeString
			t.Parameters.Properties[name] = p
		}
	}

	a := &t.Action
	a.Method = strings.ToUpper(strings.TrimSpace(a.Method))
	if a.Method == "" {
		if a.JSONBody != nil {
			a.Method = http.MethodPost
		} else {
			a.Method = http.MethodGet
		}
	}
	if a.Async {
		if a.JobIDPath == "" {
			a.JobIDPath = DefaultJobIDPath
		}
		if a.RequestType == "" {
			a.RequestType = t.Name
		}
	}
}

// Validate checks a defaulted tool.
func (t *ToolDefinition) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Parameters.Type != TypeObject {
		return fmt.Errorf("tool %s: parameters type must be object", t.Name)
	}
	for name, p := range t.Parameters.Properties {
		switch p.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		default:
			return fmt.Errorf("tool %s: parameter %s has unsupported type %q", t.Name, name, p.Type)
		}
	}
	for _, name := range t.Parameters.Required {
		if _, ok := t.Parameters.Properties[name]; !ok {
			return fmt.Errorf("tool %s: required parameter %s is not declared", t.Name, name)
		}
	}
	if t.schema == nil {
		if err := t.compileParameters(nil); err != nil {
			return err
		}
	}

	switch t.Action.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("tool %s: unsupported method %s", t.Name, t.Action.Method)
	}
	if t.Action.URL == "" {
		return fmt.Errorf("tool %s: action url is required", t.Name)
	}
	if t.Action.Timeout < 0 {
		return fmt.Errorf("tool %s: timeout must be non-negative", t.Name)
	}
	if t.Action.StatusURL != "" && !t.Action.Async {
		return fmt.Errorf("tool %s: status_url requires async", t.Name)
	}
	return nil
}

// ServiceDefinitions converts the declared services for the registry.
func (d *Document) ServiceDefinitions() []*registry.Service {
	out := make([]*registry.Service, 0, len(d.Services))
	for _, s := range d.Services {
		required := true
		if s.Required != nil {
			required = *s.Required
		}
		out = append(out, &registry.Service{
			Tenant:     d.Tenant,
			Name:       s.Name,
			BaseURL:    s.URL,
			HealthPath: s.HealthPath,
			Timeout:    s.Timeout,
			Required:   required,
			Source:     registry.SourceDeclared,
		})
	}
	return out
}

// Validate checks the document and every tool in it.
func (d *Document) Validate() error {
	var errs []error
	if d.Tenant == "" {
		errs = append(errs, fmt.Errorf("tenant is required"))
	}

	seen := make(map[string]bool, len(d.Tools))
	for i, tool := range d.Tools {
		if tool == nil {
			errs = append(errs, fmt.Errorf("tools[%d] is empty", i))
			continue
		}
		if err := tool.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[tool.Name] {
			errs = append(errs, fmt.Errorf("duplicate tool %q", tool.Name))
		}
		seen[tool.Name] = true
	}

	names := make(map[string]bool, len(d.Services))
	for _, s := range d.Services {
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate service %q", s.Name))
		}
		names[s.Name] = true
	}
	for _, svc := range d.ServiceDefinitions() {
		svc.SetDefaults()
		if err := svc.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseDocument decodes a YAML or JSON document. Placeholders are kept as
// written; they are resolved per dispatch against the tenant snapshot.
// When the document names no tenant, fallback is used.
func ParseDocument(data []byte, fallback string) (*Document, error) {
	raw, err := config.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	if err := normalizeServices(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := config.Decode(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Tenant == "" {
		doc.Tenant = fallback
	}
	if fallback != "" && doc.Tenant != fallback {
		return nil, fmt.Errorf("document declares tenant %q but is stored as %q", doc.Tenant, fallback)
	}

	var errs []error
	for i, tool := range doc.Tools {
		if tool == nil {
			continue
		}
		tool.SetDefaults()
		if err := tool.compileParameters(rawParameters(raw, i)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid document for tenant %s: %w", doc.Tenant, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document for tenant %s: %w", doc.Tenant, err)
	}
	return &doc, nil
}

// normalizeServices rewrites the map form of services, where each name maps
// to a URL or to a service body, into the list form.
func normalizeServices(raw map[string]any) error {
	byName, ok := raw["services"].(map[string]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]any, 0, len(byName))
	for _, name := range names {
		switch v := byName[name].(type) {
		case string:
			list = append(list, map[string]any{"name": name, "url": v})
		case map[string]any:
			entry := make(map[string]any, len(v)+1)
			for k, val := range v {
				entry[k] = val
			}
			entry["name"] = name
			list = append(list, entry)
		default:
			return fmt.Errorf("service %s: expected a URL or a mapping, got %T", name, v)
		}
	}
	raw["services"] = list
	return nil
}
