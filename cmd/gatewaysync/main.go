package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/api"
	"github.com/fortressi/gatewaysync/config"
	"github.com/fortressi/gatewaysync/mirror"
	"github.com/fortressi/gatewaysync/observability"
	"github.com/fortressi/gatewaysync/operations"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

func main() {
	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveListen := serveCmd.String("listen", "", "Listen address (overrides GATEWAYSYNC_LISTEN_ADDR)")

	jobsCmd := flag.NewFlagSet("jobs", flag.ExitOnError)
	jobsAll := jobsCmd.Bool("all", false, "Include compensated and exhausted jobs")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	cfg, dotenv, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := observability.InitLogger(cfg.AppName, cfg.LogLevel, cfg.LogFormat)
	if !dotenv {
		logger.Debug().Msg("no .env file found, using environment variables")
	}

	switch os.Args[1] {
	case "serve":
		serveCmd.Parse(os.Args[2:])
		if *serveListen != "" {
			cfg.ListenAddr = *serveListen
		}
		err = runServe(cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	case "jobs":
		jobsCmd.Parse(os.Args[2:])
		err = runJobs(ctx, cfg, logger, *jobsAll)
	case "plan":
		if len(os.Args) < 3 {
			fmt.Println("Available plans:")
			for _, name := range operations.PlanNames() {
				fmt.Printf("  %s\n", name)
			}
			return
		}
		err = runPlan(os.Args[2])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		logger.Fatal().Err(err).Msgf("%s failed", os.Args[1])
	}
}

func printUsage() {
	fmt.Println("Gateway mirror synchronizer")
	fmt.Println("\nUsage:")
	fmt.Println("  gatewaysync serve [flags]   - Run the HTTP server and the compensation scheduler")
	fmt.Println("  gatewaysync migrate         - Create or update the mirror schema")
	fmt.Println("  gatewaysync jobs [flags]    - List compensation jobs")
	fmt.Println("  gatewaysync plan [name]     - Print a plan's step graph in DOT format")
	fmt.Println("\nServe flags:")
	fmt.Println("  --listen     Listen address (default from GATEWAYSYNC_LISTEN_ADDR)")
	fmt.Println("\nJobs flags:")
	fmt.Println("  --all        Include compensated and exhausted jobs")
}

func runServe(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sys.scheduler.Close()

	resumed, err := sys.scheduler.Resume(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume compensation jobs: %w", err)
	}
	logger.Info().Int("jobs", resumed).Msg("compensation scheduler started")

	observability.RegisterMetrics()

	app := fiber.New(fiber.Config{
		AppName: cfg.AppName,
	})

	server := api.NewServer(sys.operator, sys.store, sys.plans, observability.Component(logger, "api"))
	server.SetupRoutes(app)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Str("admin_url", cfg.AdminURL).Msg("server listening")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	db, err := mirror.Open(cfg.DBDriver, cfg.DBURL, logger)
	if err != nil {
		return err
	}

	if err := mirror.AutoMigrate(ctx, db); err != nil {
		return err
	}

	logger.Info().Msg("migration completed")
	return nil
}

func runJobs(ctx context.Context, cfg *config.Config, logger zerolog.Logger, all bool) error {
	db, err := mirror.Open(cfg.DBDriver, cfg.DBURL, logger)
	if err != nil {
		return err
	}

	store := mirror.NewJobStore(db)

	var state gatewaysync.Lifecycle
	if !all {
		state = gatewaysync.LifecycleCompensating
	}

	jobs, err := store.List(ctx, state)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No compensation jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tRESOURCE\tSTATE\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
	for _, job := range jobs {
		next := "-"
		if !job.NextAttemptAt.IsZero() && !job.Done() {
			next = job.NextAttemptAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			job.ID, job.Compensation.Action, job.Compensation.Resource, job.State, job.Attempts, next, job.LastError)
	}
	return w.Flush()
}

func runPlan(name string) error {
	dot, err := operations.DOT(gatewaysync.PlanName(name))
	if err != nil {
		return err
	}
	fmt.Println(dot)
	return nil
}
