package main

import (
	"context"
	"fmt"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/config"
	"github.com/fortressi/gatewaysync/gateway"
	"github.com/fortressi/gatewaysync/mirror"
	"github.com/fortressi/gatewaysync/observability"
	"github.com/fortressi/gatewaysync/operations"
	"github.com/fortressi/gatewaysync/reaper"
	"github.com/fortressi/gatewaysync/retry"
	"github.com/rs/zerolog"
)

type system struct {
	store     *mirror.Store
	plans     *mirror.PlanStore
	scheduler *retry.Scheduler
	operator  *operations.Operator
}

func wire(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*system, error) {
	db, err := mirror.Open(cfg.DBDriver, cfg.DBURL, logger)
	if err != nil {
		return nil, err
	}

	if err := mirror.AutoMigrate(ctx, db); err != nil {
		return nil, err
	}

	store := mirror.New(db)
	plans := mirror.NewPlanStore(db)

	gw := gateway.NewClient(cfg.AdminURL, cfg.GatewayTimeout,
		gateway.WithLogger(observability.Component(logger, "gateway")))

	registry := gatewaysync.NewActionRegistry()
	actions := operations.NewActions(gw, store,
		operations.WithActionLogger(observability.Component(logger, "actions")))
	if err := actions.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register compensation actions: %w", err)
	}

	scheduler := retry.NewScheduler(registry, mirror.NewJobStore(db), store,
		retry.WithBackoff(retry.Backoff{Attempts: cfg.RetryAttempts, Unit: cfg.RetryUnit}),
		retry.WithLogger(observability.Component(logger, "retry")))

	orch := gatewaysync.NewOrchestrator[*mirror.Tx](store, registry, scheduler,
		gatewaysync.WithReaper(reaper.New(db, observability.Component(logger, "reaper"))),
		gatewaysync.WithStore(plans),
		gatewaysync.WithLogger(observability.Component(logger, "orchestrator")))

	return &system{
		store:     store,
		plans:     plans,
		scheduler: scheduler,
		operator:  operations.New(gw, store, orch, actions),
	}, nil
}
