package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, and $VAR
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvString expands variables in s using lookup.
func expandEnvString(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]
			if idx := strings.Index(inner, ":-"); idx != -1 {
				if val, ok := lookup(inner[:idx]); ok && val != "" {
					return val
				}
				return inner[idx+2:]
			}
			val, _ := lookup(inner)
			return val
		}
		val, _ := lookup(match[1:])
		return val
	})
}

// LoadEnvFiles loads .env.local and .env from the working directory.
// Missing files are ignored; already-set variables are not overridden.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Environment is an immutable snapshot of process variables, taken once at
// startup and handed to the components that resolve ${VAR} placeholders.
type Environment map[string]string

// SnapshotEnvironment captures os.Environ.
func SnapshotEnvironment() Environment {
	env := make(Environment)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// Lookup returns the value of key.
func (e Environment) Lookup(key string) (string, bool) {
	v, ok := e[key]
	return v, ok
}
