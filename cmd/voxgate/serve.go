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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/voxgate"
	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/config/provider"
	"github.com/kadirpekel/voxgate/pkg/dispatch"
	"github.com/kadirpekel/voxgate/pkg/logger"
	"github.com/kadirpekel/voxgate/pkg/registry"
	"github.com/kadirpekel/voxgate/pkg/server"
	"github.com/kadirpekel/voxgate/pkg/tenant"
)

// interactionRetentionInterval is how often expired interactions are pruned.
const interactionRetentionInterval = time.Hour

// ServeCmd starts the gateway.
type ServeCmd struct {
	Port    int    `help:"Port to listen on (overrides config)."`
	Tenants string `help:"Directory of tenant documents (overrides config)." type:"path"`
	Watch   *bool  `help:"Reload tenants when their documents change (overrides config)." negatable:""`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		dispatcher *dispatch.Dispatcher
		monitor    *registry.HealthMonitor
	)
	cfg, loader, err := cli.loadConfig(ctx, config.WithOnChange(func(next *config.Config) {
		applyLive(next, dispatcher, monitor)
	}))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.Tenants != "" {
		cfg.Tenants.Dir = c.Tenants
	}
	if c.Watch != nil {
		cfg.Tenants.Watch = *c.Watch
	}

	s, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Close(shutdownCtx)
	}()

	docs, err := provider.NewDirProvider(cfg.Tenants.Dir)
	if err != nil {
		return err
	}
	defer docs.Close()

	manager := tenant.NewManager(docs, s.registry,
		tenant.WithMetrics(s.obs.Metrics()),
		tenant.WithLogger(logger.Component("tenant")),
	)
	if err := manager.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}
	if err := s.registry.LoadRegistered(ctx); err != nil {
		return fmt.Errorf("failed to restore registered services: %w", err)
	}

	tracer := s.obs.Tracer()
	poller := dispatch.NewPoller(s.tracker, cfg.Jobs.PollInterval, cfg.Jobs.PollWorkers,
		dispatch.WithPollerHTTPClient(s.client),
		dispatch.WithPollerTracer(tracer),
		dispatch.WithPollerLogger(logger.Component("poller")),
		dispatch.WithPollerMaxAge(cfg.Jobs.PollMaxAge),
	)
	dispatcher = dispatch.New(manager.Catalog(), s.registry,
		dispatch.WithHTTPClient(s.client),
		dispatch.WithTracker(s.tracker),
		dispatch.WithPoller(poller),
		dispatch.WithInteractions(s.interactions),
		dispatch.WithMetrics(s.obs.Metrics()),
		dispatch.WithTracer(tracer),
		dispatch.WithLogger(logger.Component("dispatch")),
		dispatch.WithDefaultTimeout(cfg.Dispatch.DefaultTimeout),
		dispatch.WithRawSnippetBytes(cfg.Dispatch.RawSnippetBytes),
	)

	if cfg.Tenants.Watch {
		go func() {
			if err := manager.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Tenant watch stopped", "error", err)
			}
		}()
	}
	monitor = registry.NewHealthMonitor(s.registry, healthSettings(cfg.Health), logger.Component("health"))
	go monitor.Run(ctx)
	if loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch stopped", "error", err)
			}
		}()
	}
	go poller.Run(ctx)
	go s.tracker.RunCleanup(ctx, cfg.Jobs.CleanupInterval, time.Duration(cfg.Jobs.RetentionDays)*24*time.Hour)
	go s.interactions.RunRetention(ctx, interactionRetentionInterval, cfg.Interactions.Retention)

	srv := server.NewHTTPServer(&cfg.Server, dispatcher, s.registry,
		server.WithTenantManager(manager),
		server.WithJobTracker(s.tracker),
		server.WithInteractions(s.interactions),
		server.WithObservability(s.obs),
		server.WithWebhookWorkers(cfg.Server.WebhookWorkers),
		server.WithBackends(backends(cfg)),
		server.WithLogger(logger.Component("server")),
	)

	printStartup(srv, s, len(manager.Catalog().Tenants()))
	return srv.Start(ctx)
}

func healthSettings(cfg config.HealthConfig) registry.MonitorSettings {
	settings := registry.MonitorSettings{Timeout: cfg.Timeout, Workers: cfg.Workers}
	if cfg.IsEnabled() {
		settings.Interval = cfg.Interval
	}
	return settings
}

// applyLive applies the settings that can change without a restart.
func applyLive(next *config.Config, d *dispatch.Dispatcher, m *registry.HealthMonitor) {
	if d == nil || m == nil {
		return
	}
	d.SetDefaults(next.Dispatch.DefaultTimeout, next.Dispatch.RawSnippetBytes)
	m.Update(healthSettings(next.Health))
	slog.Info("Applied dispatch and health settings; other changes take effect on restart",
		"default_timeout", next.Dispatch.DefaultTimeout, "health_interval", next.Health.Interval)
}

func printStartup(srv *server.HTTPServer, s *stack, tenants int) {
	if fi, err := os.Stdout.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return
	}
	cfg := s.cfg
	fmt.Printf("\nvoxgate %s ready\n", voxgate.Build().Version)
	fmt.Printf("   Health:       http://%s/health\n", srv.Address())
	fmt.Printf("   Webhook:      http://%s/webhook/{tenant}\n", srv.Address())
	fmt.Printf("   Tenants:      %s (%d loaded, watch=%t)\n", cfg.Tenants.Dir, tenants, cfg.Tenants.Watch)
	fmt.Printf("   Jobs:         %s\n", cfg.Jobs.Backend)
	fmt.Printf("   Interactions: %s\n", cfg.Interactions.Backend)
	if endpoint := s.obs.MetricsEndpoint(); endpoint != "" {
		fmt.Printf("   Metrics:      http://%s%s\n", srv.Address(), endpoint)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
