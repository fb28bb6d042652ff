// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the process configuration of the voxgate server:
// listener settings, storage backends, dispatch defaults and observability.
//
// Tenant tool documents are not part of this configuration; they are loaded
// separately by the tenant package so they can be reloaded per tenant.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/voxgate/pkg/observability"
)

// Backend selects a storage implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQL    Backend = "sql"
	BackendRedis  Backend = "redis"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server" json:"server"`
	Database      *DatabaseConfig      `yaml:"database,omitempty" json:"database,omitempty"`
	Tenants       TenantsConfig        `yaml:"tenants" json:"tenants"`
	Dispatch      DispatchConfig       `yaml:"dispatch" json:"dispatch"`
	Health        HealthConfig         `yaml:"health" json:"health"`
	Jobs          JobsConfig           `yaml:"jobs" json:"jobs"`
	Interactions  InteractionsConfig   `yaml:"interactions" json:"interactions"`
	Observability observability.Config `yaml:"observability" json:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host,omitempty" json:"host,omitempty"`
	Port         int           `yaml:"port,omitempty" json:"port,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// WebhookWorkers bounds concurrent tool calls from one webhook message.
	WebhookWorkers int `yaml:"webhook_workers,omitempty" json:"webhook_workers,omitempty"`
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TenantsConfig locates tenant tool documents.
type TenantsConfig struct {
	// Dir holds one document per tenant, named <tenant>.yaml (or .yml/.json).
	Dir string `yaml:"dir" json:"dir"`

	// Watch reloads a tenant when its document changes on disk.
	Watch bool `yaml:"watch,omitempty" json:"watch,omitempty"`

	// ServiceStore persists services registered through the admin API.
	ServiceStore Backend `yaml:"service_store,omitempty" json:"service_store,omitempty"`
}

// DispatchConfig holds dispatch defaults.
type DispatchConfig struct {
	// DefaultTimeout applies when neither the tool nor its service sets one.
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty"`

	// MaxResponseBytes caps how much of an upstream body is read.
	MaxResponseBytes int64 `yaml:"max_response_bytes,omitempty" json:"max_response_bytes,omitempty"`

	// RawSnippetBytes caps the raw response kept on a dispatch result.
	RawSnippetBytes int `yaml:"raw_snippet_bytes,omitempty" json:"raw_snippet_bytes,omitempty"`

	// UserAgent is sent on every upstream request.
	UserAgent string `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`

	TLS UpstreamTLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// UpstreamTLSConfig configures certificate verification of tenant services.
type UpstreamTLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
	CACertificate      string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty" jsonschema:"description=Path to a PEM bundle"`
}

// HealthConfig configures background service health sweeps.
type HealthConfig struct {
	Enabled  *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Workers  int           `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// IsEnabled reports whether periodic sweeps should run.
func (c *HealthConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// JobsConfig configures the job tracker.
type JobsConfig struct {
	Backend         Backend       `yaml:"backend,omitempty" json:"backend,omitempty"`
	PollInterval    time.Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	PollWorkers     int           `yaml:"poll_workers,omitempty" json:"poll_workers,omitempty"`
	PollMaxAge      time.Duration `yaml:"poll_max_age,omitempty" json:"poll_max_age,omitempty"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty" json:"cleanup_interval,omitempty"`
	RetentionDays   int           `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`
}

// InteractionsConfig configures the interaction log.
type InteractionsConfig struct {
	Backend        Backend       `yaml:"backend,omitempty" json:"backend,omitempty"`
	Buffer         int           `yaml:"buffer,omitempty" json:"buffer,omitempty"`
	MemoryCapacity int           `yaml:"memory_capacity,omitempty" json:"memory_capacity,omitempty"`
	Retention      time.Duration `yaml:"retention,omitempty" json:"retention,omitempty"`
	Redis          RedisConfig   `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the redis interaction stream.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	Stream   string `yaml:"stream,omitempty" json:"stream,omitempty"`
	MaxLen   int64  `yaml:"max_len,omitempty" json:"max_len,omitempty"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.WebhookWorkers == 0 {
		c.Server.WebhookWorkers = 8
	}

	if c.Tenants.Dir == "" {
		c.Tenants.Dir = "tenants"
	}
	if c.Tenants.ServiceStore == "" {
		c.Tenants.ServiceStore = BackendMemory
	}

	if c.Dispatch.DefaultTimeout == 0 {
		c.Dispatch.DefaultTimeout = 10 * time.Second
	}
	if c.Dispatch.MaxResponseBytes == 0 {
		c.Dispatch.MaxResponseBytes = 1 << 20
	}
	if c.Dispatch.RawSnippetBytes == 0 {
		c.Dispatch.RawSnippetBytes = 2048
	}
	if c.Dispatch.UserAgent == "" {
		c.Dispatch.UserAgent = "voxgate"
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = time.Minute
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = 5 * time.Second
	}
	if c.Health.Workers == 0 {
		c.Health.Workers = 4
	}

	if c.Jobs.Backend == "" {
		c.Jobs.Backend = BackendMemory
	}
	if c.Jobs.PollInterval == 0 {
		c.Jobs.PollInterval = 5 * time.Second
	}
	if c.Jobs.PollWorkers == 0 {
		c.Jobs.PollWorkers = 4
	}
	if c.Jobs.PollMaxAge == 0 {
		c.Jobs.PollMaxAge = time.Hour
	}
	if c.Jobs.CleanupInterval == 0 {
		c.Jobs.CleanupInterval = 24 * time.Hour
	}
	if c.Jobs.RetentionDays == 0 {
		c.Jobs.RetentionDays = 30
	}

	if c.Interactions.Backend == "" {
		c.Interactions.Backend = BackendMemory
	}
	if c.Interactions.Buffer == 0 {
		c.Interactions.Buffer = 1024
	}
	if c.Interactions.MemoryCapacity == 0 {
		c.Interactions.MemoryCapacity = 10000
	}
	if c.Interactions.Retention == 0 {
		c.Interactions.Retention = 7 * 24 * time.Hour
	}
	if c.Interactions.Redis.Addr == "" {
		c.Interactions.Redis.Addr = "localhost:6379"
	}
	if c.Interactions.Redis.Stream == "" {
		c.Interactions.Redis.Stream = "voxgate:interactions"
	}
	if c.Interactions.Redis.MaxLen == 0 {
		c.Interactions.Redis.MaxLen = 100000
	}

	if c.Database != nil {
		c.Database.SetDefaults()
	}

	c.Observability.SetDefaults()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Dispatch.DefaultTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.default_timeout must be positive"))
	}
	if c.Health.Workers < 1 {
		errs = append(errs, fmt.Errorf("health.workers must be at least 1"))
	}
	if c.Jobs.PollWorkers < 1 {
		errs = append(errs, fmt.Errorf("jobs.poll_workers must be at least 1"))
	}
	if c.Jobs.PollMaxAge < 0 {
		errs = append(errs, fmt.Errorf("jobs.poll_max_age must be positive"))
	}

	needsSQL := false
	for field, b := range map[string]Backend{
		"tenants.service_store": c.Tenants.ServiceStore,
		"jobs.backend":          c.Jobs.Backend,
	} {
		switch b {
		case BackendMemory:
		case BackendSQL:
			needsSQL = true
		default:
			errs = append(errs, fmt.Errorf("%s: unsupported backend %q (valid: memory, sql)", field, b))
		}
	}
	switch c.Interactions.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQL:
		needsSQL = true
	default:
		errs = append(errs, fmt.Errorf("interactions.backend: unsupported backend %q (valid: memory, sql, redis)", c.Interactions.Backend))
	}

	if needsSQL && c.Database == nil {
		errs = append(errs, fmt.Errorf("database is required when a sql backend is selected"))
	}
	if c.Database != nil {
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}

	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	return errors.Join(errs...)
}
