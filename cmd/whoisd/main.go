// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"

	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/dn42"
	"github.com/akaere-networks/whois-server/patch"
	"github.com/akaere-networks/whois-server/plugins"
	"github.com/akaere-networks/whois-server/processor"
	"github.com/akaere-networks/whois-server/server"
	"github.com/akaere-networks/whois-server/services"
	"github.com/akaere-networks/whois-server/sshd"
	"github.com/akaere-networks/whois-server/storage"
	"github.com/akaere-networks/whois-server/whois"
)

func main() {
	cfg := config.Default()
	var timeoutSecs int

	root := &cobra.Command{
		Use:   "whoisd",
		Short: "Extended WHOIS server with DN42, suffix services and plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Timeout = time.Duration(timeoutSecs) * time.Second
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "address to listen on")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "whois port")
	flags.IntVar(&cfg.WebPort, "web-port", cfg.WebPort, "dashboard port")
	flags.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "concurrent connection limit")
	flags.IntVar(&timeoutSecs, "timeout", 10, "per-connection timeout in seconds")
	flags.BoolVar(&cfg.DumpTraffic, "dump-traffic", false, "write raw queries and responses to disk")
	flags.StringVar(&cfg.DumpDir, "dump-dir", cfg.DumpDir, "traffic dump directory")
	flags.BoolVar(&cfg.Debug, "debug", false, "debug logging")
	flags.BoolVar(&cfg.Trace, "trace", false, "trace logging")
	flags.BoolVar(&cfg.UseBlocking, "use-blocking", false, "accepted for compatibility; both modes share one accept loop")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	if cfg.Trace {
		level = slog.Level(-8)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(cfg *config.Config) error {
	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ianaStore, err := storage.Open(config.IANACachePath)
	if err != nil {
		return fmt.Errorf("failed to open the IANA cache: %v", err)
	}
	defer ianaStore.Close()

	dn42Store, err := storage.Open(config.DN42StorePath)
	if err != nil {
		return fmt.Errorf("failed to open the DN42 store: %v", err)
	}
	defer dn42Store.Close()

	pluginStore, err := storage.Open(config.PluginCachePath)
	if err != nil {
		return fmt.Errorf("failed to open the plugin cache: %v", err)
	}
	defer pluginStore.Close()

	pdbStore, err := storage.Open(config.PeeringDBCachePath)
	if err != nil {
		return fmt.Errorf("failed to open the PeeringDB cache: %v", err)
	}
	defer pdbStore.Close()

	icpStore, err := storage.Open(config.ICPCachePath)
	if err != nil {
		return fmt.Errorf("failed to open the ICP cache: %v", err)
	}
	defer icpStore.Close()

	historyStore, err := storage.Open(config.SSHHistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open the SSH history store: %v", err)
	}
	defer historyStore.Close()

	ianaCache := whois.NewIANACache(ianaStore, logger)
	referral := whois.NewEngine(ianaCache, logger)

	cleanup := cron.New()
	_ = cleanup.AddFunc("@daily", func() { ianaCache.ClearExpired() })
	cleanup.Start()
	defer cleanup.Stop()

	manager := dn42.NewManager(dn42Store, logger)
	manager.Start()
	defer manager.Stop()

	svcClient := services.New(manager, pdbStore, icpStore, logger)

	registry := plugins.NewRegistry(pluginStore, logger)
	registry.Load(cfg.PluginsDir, cfg.PluginsEnvFile)
	defer registry.Close()

	patchManager := patch.NewManager(logger)
	if _, err := patchManager.Load(cfg.PatchesDir); err != nil {
		logger.Warn("failed to load patches", "err", err)
	}

	proc := processor.New(manager, referral, svcClient, registry, patchManager, logger)

	var dump *server.DumpWriter
	if cfg.DumpTraffic {
		dump, err = server.NewDumpWriter(cfg.DumpDir, logger)
		if err != nil {
			return err
		}
		defer dump.Stop()
	}

	sshServer, err := sshd.New(cfg, proc, historyStore, logger)
	if err != nil {
		return fmt.Errorf("failed to start the SSH front-end: %v", err)
	}
	go func() {
		if err := sshServer.ListenAndServe(ctx); err != nil {
			logger.Error("ssh front-end failed", "err", err)
		}
	}()

	return server.New(cfg, proc, dump, logger).ListenAndServe(ctx)
}
