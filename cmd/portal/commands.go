package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/school-parliament/portal/internal/config"
	"github.com/school-parliament/portal/internal/evidence"
	"github.com/school-parliament/portal/internal/mock"
	"github.com/school-parliament/portal/internal/storage/sqldb"
	"github.com/school-parliament/portal/internal/ws"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(awardDueCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)

	serveCmd.Flags().Bool("mock", false, "Seed demo data before serving")
	serveCmd.Flags().IntP("port", "p", 0, "Override server port")
	serveCmd.Flags().Int("max-clients", 0, "Limit notification connections (0 = unlimited)")
}

func newGenerator(a *app) *mock.Generator {
	return mock.NewGenerator(a.store, a.tasks, a.tracker, a.log)
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, notifications and the due-award sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		a.cfg.Server.Port = port
	}
	maxClients, _ := cmd.Flags().GetInt("max-clients")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mockMode, _ := cmd.Flags().GetBool("mock"); mockMode {
		a.log.Info("starting in mock mode")
		if err := a.seed(ctx); err != nil {
			return err
		}
	}

	broadcaster := ws.NewBroadcaster(a.cfg.Notifications.Buffer, maxClients, a.engine.Registry(), a.log)
	a.bus.Subscribe(broadcaster.Handle)
	defer broadcaster.Close()

	server := ws.NewServer(a.cfg.Server, ws.Services{
		Tasks:        a.tasks,
		Ledger:       a.ledger,
		Achievements: a.engine,
		Leaderboard:  a.board,
		Activity:     a.tracker,
		Users:        a.store,
		Verifier:     evidence.NewLinkVerifier(a.store, evidence.DefaultMinWork),
	}, broadcaster, a.log)

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("server listening", "addr", httpServer.Addr, "driver", a.cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if interval := a.cfg.Awards.SweepInterval; interval > 0 {
		g.Go(func() error {
			a.tasks.RunSweeper(gctx, interval)
			return nil
		})
	}
	return g.Wait()
}

// ─── award-due ──────────────────────────────────────────────────────────────

var awardDueCmd = &cobra.Command{
	Use:   "award-due",
	Short: "Award every ranked task whose deadline has passed (for cron)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.tasks.AwardDue(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "awarded %d task(s)\n", n)
		return err
	},
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Database.Driver == config.DriverMemory {
			return errors.New("the memory driver has no schema to migrate")
		}
		db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns, nil)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := sqldb.Migrate(db); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Database.Driver)
		return nil
	},
}

// ─── seed ───────────────────────────────────────────────────────────────────

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo users, tasks and a ranked contest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.cfg.Database.Driver == config.DriverMemory && a.cfg.Database.DSN == "" {
			a.log.Warn("seeding the memory driver without a snapshot file: data is lost when the command exits")
		}
		return a.seed(cmd.Context())
	},
}
