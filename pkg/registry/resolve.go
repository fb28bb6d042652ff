package registry

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

const serviceScheme = "service://"

// ResolutionSource names the precedence rule that produced a URL.
type ResolutionSource string

const (
	FromAbsolute ResolutionSource = "absolute"
	FromService  ResolutionSource = "service"
	FromVariable ResolutionSource = "variable"
	FromLiteral  ResolutionSource = "literal"
)

// Target is a resolved action URL.
type Target struct {
	URL    string
	Source ResolutionSource

	// Service is set when the URL was resolved through a service reference.
	Service *Service
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// IsAbsolute reports an http or https URL.
func IsAbsolute(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ResolveURL applies the resolution rules in order, first match wins:
//
//  1. an absolute http(s) URL is used verbatim
//  2. service://name/path, or a relative path with a service hint, is
//     joined onto the service base URL
//  3. ${VAR} placeholders are expanded from tenant variables, then the
//     environment snapshot
//  4. anything else is a literal
func (s *Snapshot) ResolveURL(raw, hint string) (Target, error) {
	switch {
	case IsAbsolute(raw):
		return Target{URL: raw, Source: FromAbsolute}, nil

	case strings.HasPrefix(raw, serviceScheme):
		name, path, _ := strings.Cut(strings.TrimPrefix(raw, serviceScheme), "/")
		return s.resolveService(name, path)

	case hint != "":
		return s.resolveService(hint, raw)

	case strings.Contains(raw, "${"):
		expanded, err := s.ExpandVariables(raw)
		if err != nil {
			return Target{}, err
		}
		return Target{URL: expanded, Source: FromVariable}, nil

	default:
		return Target{URL: raw, Source: FromLiteral}, nil
	}
}

func (s *Snapshot) resolveService(name, path string) (Target, error) {
	if name == "" {
		return Target{}, toolerr.Configuration("", "service reference has no service name")
	}
	svc, ok := s.Service(name)
	if !ok {
		return Target{}, toolerr.Configuration("", "service not configured: %s", name)
	}
	path, err := s.ExpandVariables(path)
	if err != nil {
		return Target{}, err
	}
	return Target{URL: JoinURL(svc.BaseURL, path), Source: FromService, Service: svc}, nil
}

// ExpandVariables substitutes every ${VAR} in s. Unresolved names fail with
// a configuration error listing all of them.
func (s *Snapshot) ExpandVariables(in string) (string, error) {
	if !strings.Contains(in, "${") {
		return in, nil
	}

	missing := make(map[string]struct{})
	out := varPattern.ReplaceAllStringFunc(in, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := s.Lookup(name); ok {
			return v
		}
		missing[name] = struct{}{}
		return match
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", toolerr.Configuration("", "unresolved variable: %s", strings.Join(names, ", "))
	}
	return out, nil
}
