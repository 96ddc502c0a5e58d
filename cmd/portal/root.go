package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/school-parliament/portal/internal/achievements"
	"github.com/school-parliament/portal/internal/activity"
	"github.com/school-parliament/portal/internal/config"
	"github.com/school-parliament/portal/internal/events"
	"github.com/school-parliament/portal/internal/leaderboard"
	"github.com/school-parliament/portal/internal/ledger"
	"github.com/school-parliament/portal/internal/logger"
	"github.com/school-parliament/portal/internal/storage"
	"github.com/school-parliament/portal/internal/storage/memory"
	"github.com/school-parliament/portal/internal/storage/sqldb"
	"github.com/school-parliament/portal/internal/tasks"
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "School parliament progression and rewards engine",
	Long: `portal tracks XP and EP grants, runs the task and public-instance
lifecycles, awards ranked tasks at their deadline and unlocks achievements.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional .env file loaded before PORTAL_* overrides")
}

// app is the wired engine shared by the commands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   storage.Store
	bus     *events.Bus
	ledger  *ledger.Ledger
	tasks   *tasks.Manager
	engine  *achievements.Engine
	tracker *activity.Tracker
	board   *leaderboard.Projector
	close   func() error
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config, log *logger.Logger) (storage.Store, func() error, error) {
	if cfg.Database.Driver == config.DriverMemory {
		path := cfg.Database.DSN
		if path == "" {
			return memory.NewStore(), func() error { return nil }, nil
		}
		store, err := memory.Load(path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("memory store loaded", "snapshot", path)
		return store, func() error { return store.SaveFile(path) }, nil
	}
	db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns, log)
	if err != nil {
		return nil, nil, err
	}
	if err := sqldb.Migrate(db); err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return sqldb.NewStore(db), sqlDB.Close, nil
}

// newApp loads configuration, opens the store and wires every service to
// one event bus. Events the achievement engine publishes while handling
// another are queued by the bus, so the broadcaster still sends the cause
// before the unlock it produced.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(log)
	engine := achievements.NewEngine(store,
		achievements.WithPublisher(bus),
		achievements.WithLogger(log))
	bus.Subscribe(engine.Handle)

	a := &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		bus:    bus,
		engine: engine,
		board:  leaderboard.New(store, cfg.Leagues),
	}
	a.ledger = ledger.New(store,
		ledger.WithPublisher(bus),
		ledger.WithLogger(log))
	a.tasks = tasks.NewManager(store,
		tasks.WithPublisher(bus),
		tasks.WithLazyAward(cfg.Awards.LazyTrigger),
		tasks.WithLogger(log))
	a.tracker = activity.NewTracker(store,
		activity.WithPublisher(bus),
		activity.WithLogger(log))
	a.close = func() error {
		defer log.Sync()
		return closeStore()
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.close(); err != nil {
		a.log.Warn("closing store failed", "error", err)
	}
}

// seed is shared by `seed` and `serve --mock`.
func (a *app) seed(ctx context.Context) error {
	if _, err := newGenerator(a).Seed(ctx); err != nil {
		return fmt.Errorf("seeding demo data: %w", err)
	}
	return nil
}
