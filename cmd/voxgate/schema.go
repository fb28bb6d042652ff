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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/tenant"
)

// SchemaCmd writes a JSON Schema to stdout. The tenant schema is what
// editors use to validate tool documents as they are written.
type SchemaCmd struct {
	Target  string `help:"Schema to generate: tenant or config." default:"tenant" enum:"tenant,config"`
	Compact bool   `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var schema *jsonschema.Schema
	switch c.Target {
	case "config":
		schema = reflector.Reflect(&config.Config{})
		schema.ID = "https://voxgate.dev/schemas/config.json"
		schema.Title = "voxgate Configuration"
		schema.Description = "Process configuration of the voxgate server"
	default:
		schema = reflector.Reflect(&tenant.Document{})
		schema.ID = "https://voxgate.dev/schemas/tenant.json"
		schema.Title = "voxgate Tenant Document"
		schema.Description = "Services, variables and tools of one tenant"
		schema.Examples = []any{
			map[string]any{
				"tenant": "acme",
				"services": []any{
					map[string]any{"name": "research", "url": "https://api.acme.com/research"},
				},
				"tools": []any{
					map[string]any{
						"name": "search",
						"parameters": map[string]any{
							"properties": map[string]any{"query": map[string]any{"type": "string"}},
							"required":   []string{"query"},
						},
						"action": map[string]any{
							"url":           "service://research/search?q={query}",
							"response_path": "result.summary",
						},
					},
				},
			},
		}
	}
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
