// File: cmd/logservice/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Cassini-chris/chroma/internal/config"
	"github.com/Cassini-chris/chroma/internal/coordinator"
	"github.com/Cassini-chris/chroma/internal/logservice"
	"github.com/Cassini-chris/chroma/internal/metrics"
	"github.com/Cassini-chris/chroma/internal/server"
	"github.com/Cassini-chris/chroma/internal/storage"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the log service process
type Application struct {
	config      *config.Config
	store       storage.Store
	logService  *logservice.LogService
	coordinator *coordinator.Coordinator
	server      *server.HTTPServer
	metrics     *metrics.Manager
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	logger := utils.GetLogger()
	logger.Info("Initializing log service components")

	app.metrics = metrics.NewManager()

	// Storage
	store, err := storage.NewStore(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run store migrations: %w", err)
	}
	app.store = store

	// Log service
	svcCfg := &logservice.ServiceConfig{
		MaxPushBatchSize: app.config.LogService.MaxPushBatchSize,
		MaxPullBatchSize: app.config.LogService.MaxPullBatchSize,
		PurgeSchedule:    app.config.LogService.PurgeSchedule,
		EnablePurge:      app.config.LogService.EnablePurge,
	}
	app.logService, err = logservice.NewLogService(svcCfg, app.store, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create log service: %w", err)
	}

	// Coordinator, so the log service API can register collections too
	coordCfg := &coordinator.Config{
		DefaultTenant:   app.config.Coordinator.DefaultTenant,
		DefaultDatabase: app.config.Coordinator.DefaultDatabase,
	}
	app.coordinator = coordinator.NewCoordinator(coordCfg, app.store, app.metrics)

	// HTTP server
	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
	}
	app.server, err = server.NewHTTPServer(serverCfg, app.store, app.logService, app.coordinator, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info("All components initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	logger := utils.GetLogger()
	logger.WithField("version", AppVersion).Info("Starting log service")

	if err := app.logService.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start log service: %w", err)
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.WithField("address", fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port)).
		Info("Log service started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	logger := utils.GetLogger()
	logger.Info("Stopping log service")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.logService != nil {
		if err := app.logService.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop log service")
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			logger.WithError(err).Error("Failed to close store")
		}
	}

	logger.Info("Log service stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "chroma-logservice",
	Short:   "Chroma record log service",
	Long:    `Append-only record log service: per-collection offset-ordered record storage with compaction tracking and scheduled purge.`,
	Version: AppVersion,
	RunE:    runLogService,
}

// runLogService is the main command to run the log service
func runLogService(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Chroma log service %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Purge schedule: %s\n", cfg.LogService.PurgeSchedule)

		return nil
	},
}

// migrateCmd runs the database migrations and exits
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		store, err := storage.NewStore(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to store: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Println("Migrations applied successfully")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
