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

// Command voxgate runs the voice tool gateway.
//
// Usage:
//
//	voxgate serve --config voxgate.yaml
//	voxgate validate --config voxgate.yaml --tenants ./tenants
//	voxgate schema --target tenant
//	voxgate cleanup --config voxgate.yaml --days-old 7
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/voxgate"
	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/config/provider"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the gateway."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration and tenant documents."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for configuration or tenant documents."`
	Cleanup  CleanupCmd  `cmd:"" help:"Delete old terminal jobs once and exit."`

	Config          string   `short:"c" help:"Config path: a file, or a key for remote sources." env:"VOXGATE_CONFIG"`
	ConfigProvider  string   `name:"config-provider" help:"Config source (file, consul, etcd, zookeeper)." default:"file" env:"VOXGATE_CONFIG_PROVIDER"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of a remote config source." env:"VOXGATE_CONFIG_ENDPOINTS"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"VOXGATE_LOG_LEVEL"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"VOXGATE_LOG_FILE"`
	LogFormat string `help:"Log format (simple, verbose, json)." default:"simple" env:"VOXGATE_LOG_FORMAT"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(voxgate.Build())
	return nil
}

// loadConfig loads the process configuration from the selected source.
// Without --config the defaults are used.
func (cli *CLI) loadConfig(ctx context.Context, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		slog.Info("No config given, using defaults")
		return config.Default(), nil, nil
	}

	typ, err := provider.ParseType(cli.ConfigProvider)
	if err != nil {
		return nil, nil, err
	}
	cfg, loader, err := config.LoadConfig(ctx, provider.ProviderConfig{
		Type:      typ,
		Path:      cli.Config,
		Endpoints: splitEndpoints(cli.ConfigEndpoints),
	}, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "source", typ, "path", cli.Config)
	return cfg, loader, nil
}

func splitEndpoints(in []string) []string {
	var out []string
	for _, e := range in {
		for _, part := range strings.Split(e, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("voxgate"),
		kong.Description("Multi-tenant tool dispatch gateway for voice agents"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
