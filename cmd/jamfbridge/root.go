package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/jamfbridge/jamfbridge/common/logging"
	"github.com/jamfbridge/jamfbridge/internal/config"
	"github.com/jamfbridge/jamfbridge/internal/crypto"
	"github.com/jamfbridge/jamfbridge/internal/events"
	"github.com/jamfbridge/jamfbridge/internal/jamf"
	"github.com/jamfbridge/jamfbridge/internal/processor"
	"github.com/jamfbridge/jamfbridge/internal/repository"
	"github.com/jamfbridge/jamfbridge/internal/vault"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "jamfbridge",
	Short: "Encrypted CRM to Jamf Pro change request broker",
	Long: `jamfbridge accepts encrypted device change requests from CRM
systems, stores them durably, and applies them against Jamf Pro.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(purgeCmd)
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	repo      repository.Repository
	vault     *vault.Client
	engine    *crypto.Engine
	adapter   *jamf.Client
	publisher events.Publisher
	processor *processor.Processor
}

func (a *app) close() {
	a.publisher.Close()
	a.repo.Close()
}

// buildApp loads configuration and wires the processing stack. The HTTP
// surface is assembled separately by the serve command.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("jamfbridge"))
	logging.SetDefault(logger)

	repo, err := buildRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	vaultClient, err := vault.NewClient(vault.Config{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Mount:       cfg.Vault.Mount,
		Environment: cfg.Vault.Environment,
		Timeout:     cfg.Vault.Timeout,
	})
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	encryptionSecret, err := vaultClient.EncryptionSecret(ctx)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to read encryption secret: %w", err)
	}
	engine, err := crypto.NewEngine(encryptionSecret)
	if err != nil {
		repo.Close()
		return nil, err
	}

	adapter := jamf.NewClient(jamf.Config{
		URL:      cfg.Jamf.URL,
		Username: cfg.Jamf.Username,
		Password: cfg.Jamf.Password,
		APIKey:   cfg.Jamf.APIKey,
		Timeout:  cfg.Jamf.Timeout,
	})

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATS.Enabled {
		natsPublisher, err := events.NewNATSPublisher(events.NATSConfig{URL: cfg.NATS.URL})
		if err != nil {
			// Lifecycle events are best effort; the queue must keep moving.
			slog.Warn("NATS unavailable, lifecycle events disabled", "error", err)
		} else {
			publisher = natsPublisher
		}
	}

	proc := processor.New(repo, engine, adapter, publisher, logger.Logger, processor.Config{
		BatchSize:  cfg.Processor.BatchSize,
		StaleAfter: cfg.Processor.StaleAfter,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		vault:     vaultClient,
		engine:    engine,
		adapter:   adapter,
		publisher: publisher,
		processor: proc,
	}, nil
}

func buildRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	if cfg.Database.Type != "postgres" {
		slog.Warn("Using in-memory repository (development only)")
		return repository.NewInMemoryRepository(), nil
	}

	connString := cfg.Database.Postgres.DSN()

	slog.Info("Connecting to PostgreSQL",
		slog.String("host", cfg.Database.Postgres.Host),
		slog.Int("port", cfg.Database.Postgres.Port),
		slog.String("database", cfg.Database.Postgres.Database),
	)

	repo, err := repository.NewPostgresRepository(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := runMigrations(connString); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

func runMigrations(connString string) error {
	slog.Info("Running database migrations")

	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("Could not get migration version", slog.String("error", err.Error()))
		return nil
	}
	slog.Info("Database migration complete",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}
