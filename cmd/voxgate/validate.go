// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/config/provider"
	"github.com/kadirpekel/voxgate/pkg/tenant"
)

// ValidateCmd checks the process configuration and every tenant document
// without starting the server.
type ValidateCmd struct {
	Tenants     string `help:"Directory of tenant documents (overrides config)." type:"path"`
	Format      string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the configuration with defaults applied and env vars resolved."`
}

// validationReport is the result of a validate run.
type validationReport struct {
	Config  string            `json:"config"`
	Valid   bool              `json:"valid"`
	Errors  []validationError `json:"errors,omitempty"`
	Tenants []tenantReport    `json:"tenants"`
}

type validationError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

type tenantReport struct {
	Tenant   string `json:"tenant"`
	Tools    int    `json:"tools"`
	Services int    `json:"services"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	report := &validationReport{Config: cli.Config, Valid: true}

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		report.add("config", err)
		return c.print(os.Stdout, report, nil)
	}
	if loader != nil {
		defer loader.Close()
	}
	if c.Tenants != "" {
		cfg.Tenants.Dir = c.Tenants
	}

	validateTenants(cfg.Tenants.Dir, report)
	return c.print(os.Stdout, report, cfg)
}

func validateTenants(dir string, report *validationReport) {
	docs, err := provider.NewDirProvider(dir)
	if err != nil {
		report.add("tenants", err)
		return
	}
	defer docs.Close()

	names, err := docs.List()
	if err != nil {
		report.add("tenants", err)
		return
	}
	for _, name := range names {
		data, err := docs.Load(context.Background(), name)
		if err != nil {
			report.add(name, err)
			continue
		}
		doc, err := tenant.ParseDocument(data, name)
		if err != nil {
			report.add(name, err)
			continue
		}
		report.Tenants = append(report.Tenants, tenantReport{Tenant: name, Tools: len(doc.Tools), Services: len(doc.Services)})
	}
}

func (r *validationReport) add(source string, err error) {
	r.Valid = false
	r.Errors = append(r.Errors, validationError{Source: source, Message: err.Error()})
}

func (c *ValidateCmd) print(w io.Writer, report *validationReport, cfg *config.Config) error {
	if c.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, e := range report.Errors {
			fmt.Fprintf(w, "✗ %s: %s\n", e.Source, e.Message)
		}
		for _, t := range report.Tenants {
			fmt.Fprintf(w, "✓ %s: %d tools, %d services\n", t.Tenant, t.Tools, t.Services)
		}
	}

	if c.PrintConfig && cfg != nil {
		fmt.Fprintln(w, "---")
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to print config: %w", err)
		}
	}

	if !report.Valid {
		return fmt.Errorf("validation failed with %d error(s)", len(report.Errors))
	}
	if c.Format != "json" {
		fmt.Fprintln(w, "Configuration is valid")
	}
	return nil
}
