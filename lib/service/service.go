/*
 * ConfPlane
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/approval"
	"github.com/gravitational/confplane/lib/authz"
	"github.com/gravitational/confplane/lib/backend"
	"github.com/gravitational/confplane/lib/backend/memory"
	"github.com/gravitational/confplane/lib/backend/pgbk"
	"github.com/gravitational/confplane/lib/bus"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/configsource"
	"github.com/gravitational/confplane/lib/idp"
	"github.com/gravitational/confplane/lib/inventory"
	"github.com/gravitational/confplane/lib/services/local"
	"github.com/gravitational/confplane/lib/web"
)

// shutdownGrace bounds the drain of in-flight requests on shutdown.
const shutdownGrace = 10 * time.Second

// workerLockTTL is the advisory lock TTL guarding the periodic workers.
// The lock is refreshed at half the TTL while the worker runs.
const workerLockTTL = 30 * time.Second

// Process is a fully assembled control plane instance.
type Process struct {
	cfg    Config
	logger *slog.Logger

	backend backend.Backend
	rdb     *redis.Client
	bus     bus.Bus
	fabric  *cache.Fabric

	reaper      *inventory.Reaper
	prewarmer   *cache.PreWarmer
	compensator *approval.Compensator
	pruner      *approval.Pruner

	handler *web.Handler
	server  *http.Server
}

// NewProcess builds a process from the configuration. Nothing is
// listening or running until Run is called.
func NewProcess(ctx context.Context, cfg Config) (*Process, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	logger := cfg.Logger
	if logger == nil {
		level, err := ParseLogLevel(cfg.Log.Level)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if cfg.Log.Format == "json" {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(os.Stderr, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	}
	logger = logger.With(confplane.ComponentKey, confplane.ComponentProcess)

	p := &Process{cfg: cfg, logger: logger}
	if err := p.init(ctx); err != nil {
		p.Close()
		return nil, trace.Wrap(err)
	}
	return p, nil
}

func (p *Process) init(ctx context.Context) error {
	cfg := p.cfg

	switch cfg.Storage.Type {
	case "postgres":
		bk, err := pgbk.New(ctx, pgbk.Config{
			ConnString: cfg.Storage.ConnString,
			Clock:      cfg.Clock,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		p.backend = bk
	default:
		bk, err := memory.New(memory.Config{Clock: cfg.Clock})
		if err != nil {
			return trace.Wrap(err)
		}
		p.backend = bk
	}

	if cfg.Redis.Enabled() {
		p.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		p.bus = bus.NewRedis(p.rdb)
	} else {
		p.bus = bus.NewMemory()
	}

	var l2 redis.UniversalClient
	if p.rdb != nil {
		l2 = p.rdb
	}
	fabric, err := cache.NewFabric(ctx, cache.FabricConfig{
		Redis: l2,
		Bus:   p.bus,
		Clock: cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	p.fabric = fabric

	registry := local.NewRegistryService(p.backend)
	presence := local.NewPresenceService(p.backend)
	journal := local.NewDriftJournalService(p.backend)
	shares := local.NewSharesService(p.backend)
	approvals := local.NewApprovalsService(p.backend)

	evaluator, err := authz.NewEvaluator(authz.EvaluatorConfig{
		Shares: shares,
		Fabric: fabric,
		Clock:  cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	shareService, err := authz.NewShareService(authz.ShareServiceConfig{
		Registry:  registry,
		Shares:    shares,
		Evaluator: evaluator,
		Clock:     cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	csot, err := configsource.NewHTTPClient(configsource.HTTPClientConfig{
		Addr: cfg.ConfigSourceAddr,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	resolver, err := configsource.NewResolver(configsource.ResolverConfig{
		Fabric: fabric,
		Client: csot,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	provider, err := idp.NewHTTPClient(idp.HTTPClientConfig{
		Addr: cfg.IdentityProviderAddr,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	identity, err := idp.NewFallback(idp.FallbackConfig{
		Provider: provider,
		Fabric:   fabric,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	refresh, err := bus.NewRefreshPublisher(bus.RefreshPublisherConfig{
		Publisher: p.bus,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	ingestor, err := inventory.NewIngestor(inventory.IngestorConfig{
		Registry:        registry,
		Presence:        presence,
		Drift:           journal,
		Hashes:          resolver,
		Refresh:         refresh,
		Fabric:          fabric,
		AutoRegister:    cfg.Ingest.AutoRegister,
		DedupWindow:     cfg.Ingest.DedupWindow,
		Concurrency:     cfg.Ingest.Concurrency,
		Severities:      cfg.Ingest.Severities,
		DefaultSeverity: cfg.Ingest.DefaultSeverity,
		Clock:           cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	driftService, err := inventory.NewDriftService(inventory.DriftServiceConfig{
		Journal:   journal,
		Registry:  registry,
		Evaluator: evaluator,
		Clock:     cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	approvalService, err := approval.NewService(approval.ServiceConfig{
		Approvals: approvals,
		Registry:  registry,
		Evaluator: evaluator,
		Clock:     cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	p.reaper, err = inventory.NewReaper(inventory.ReaperConfig{
		Presence:    presence,
		Drift:       journal,
		StaleAfter:  cfg.Reap.StaleAfter,
		DeleteAfter: cfg.Reap.DeleteAfter,
		Interval:    cfg.Reap.Interval,
		Clock:       cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	p.prewarmer, err = cache.NewPreWarmer(cache.PreWarmerConfig{
		Fabric:   fabric,
		Services: registry,
		Source:   csot,
		Delay:    cfg.PrewarmDelay,
		Clock:    cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	p.compensator, err = approval.NewCompensator(approval.CompensatorConfig{
		Service: approvalService,
		Clock:   cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	p.pruner, err = approval.NewPruner(approval.PrunerConfig{
		Approvals: approvals,
		Clock:     cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	probes := map[string]web.Probe{
		"backend": p.probeBackend,
	}
	if p.rdb != nil {
		probes["redis"] = func(ctx context.Context) error {
			return trace.Wrap(p.rdb.Ping(ctx).Err())
		}
	}

	p.handler, err = web.NewHandler(web.HandlerConfig{
		Ingestor:       ingestor,
		Drift:          driftService,
		Registry:       registry,
		Presence:       presence,
		Shares:         shareService,
		Approvals:      approvalService,
		Evaluator:      evaluator,
		Fabric:         fabric,
		Refresh:        refresh,
		Users:          identity,
		InstanceTokens: cfg.InstanceTokens,
		Probes:         probes,
		Clock:          cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	p.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           p.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// probeBackend checks storage reachability with a cheap read.
func (p *Process) probeBackend(ctx context.Context) error {
	probe := backend.NewKey("healthz", "probe")
	if _, err := p.backend.Get(ctx, probe); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}

// Handler exposes the API handler, used by tests to serve the process
// without a listener.
func (p *Process) Handler() *web.Handler {
	return p.handler
}

// Run starts the listener and the background workers and blocks until
// the context is cancelled or the listener fails.
func (p *Process) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		p.logger.InfoContext(ctx, "Operational API listening",
			"addr", p.cfg.ListenAddr,
			"storage", p.cfg.Storage.Type,
			"redis", p.cfg.Redis.Enabled(),
			"version", confplane.Version,
		)
		if err := p.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return trace.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return trace.Wrap(p.server.Shutdown(shutdownCtx))
	})

	// Sweeping workers mutate shared state, so replicas sharing a
	// backend elect one runner per worker through an advisory lock. The
	// pre-warmer stays local: every replica warms its own L1 tier.
	group.Go(func() error { return p.runExclusive(ctx, "reaper", p.reaper.Run) })
	group.Go(func() error { p.prewarmer.Run(ctx); return nil })
	group.Go(func() error { return p.runExclusive(ctx, "compensator", p.compensator.Run) })
	group.Go(func() error { return p.runExclusive(ctx, "pruner", p.pruner.Run) })

	err := group.Wait()
	p.logger.InfoContext(ctx, "Process stopped")
	return trace.Wrap(err)
}

// runExclusive runs a worker loop while holding a named backend lock so
// that only one replica sharing the backend runs it at a time. Lock
// errors caused by shutdown are not reported.
func (p *Process) runExclusive(ctx context.Context, name string, run func(context.Context)) error {
	err := backend.RunWhileLocked(ctx, p.backend, name, workerLockTTL, func(ctx context.Context) error {
		run(ctx)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return trace.Wrap(err)
	}
	return nil
}

// Close releases every resource the process holds. Safe to call on a
// partially initialized process.
func (p *Process) Close() error {
	var errs []error
	if p.fabric != nil {
		errs = append(errs, p.fabric.Close())
	}
	if p.bus != nil {
		errs = append(errs, p.bus.Close())
	}
	if p.rdb != nil {
		errs = append(errs, p.rdb.Close())
	}
	if p.backend != nil {
		errs = append(errs, p.backend.Close())
	}
	return trace.NewAggregate(errs...)
}
