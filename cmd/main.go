package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shockstream/internal/device"
	"shockstream/internal/handlers"
	"shockstream/internal/logger"
	"shockstream/internal/repository"
	"shockstream/internal/safety"
	"shockstream/internal/scheduler"
	"shockstream/internal/server"
	"shockstream/internal/service"

	"github.com/spf13/viper"
)

func main() {
	// load config.yml first so the log level is configurable
	if err := loadConfig(); err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	log := logger.Get(viper.GetString("log.level"))

	// open DB
	db, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// wire dependencies
	repos := repository.NewRepository(db)

	validator, err := buildValidator(ctx, repos, log)
	if err != nil {
		log.Fatalw("failed to load safety policy", "err", err)
	}

	client, err := buildDeviceClient(log)
	if err != nil {
		log.Fatalw("failed to build device client", "err", err)
	}
	defer client.Stop()

	sched := scheduler.New(schedulerConfig(), validator, service.NewDeviceSender(client), log.Named("scheduler"))
	defer sched.Stop()

	services := service.NewService(repos, validator, sched, client, log)
	apiHandler := handlers.NewHandler(services, log)

	// prune stale safety counters in the background
	go validator.RunSweeper(ctx)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "shockstream.db")
		dbPath = "shockstream.db"
	}
	return repository.InitDB(dbPath)
}

// buildValidator loads the persisted safety policy, falling back to defaults
// on first run.
func buildValidator(ctx context.Context, repos *repository.Repository, log *logger.Logger) (*safety.Validator, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	policy, err := repos.Settings.LoadPolicy(loadCtx)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		log.Infow("no stored safety policy; using defaults")
		return safety.NewValidator(safety.DefaultPolicy(), log.Named("safety")), nil
	}
	if policy.EmergencyStop.Enabled {
		log.Warnw("emergency stop was active at shutdown and remains active",
			"reason", policy.EmergencyStop.Reason)
	}
	return safety.NewValidator(*policy, log.Named("safety")), nil
}

func buildDeviceClient(log *logger.Logger) (*device.Client, error) {
	return device.NewClient(device.Config{
		BaseURL:              viper.GetString("device_api.base_url"),
		Token:                viper.GetString("device_api.token"),
		CustomName:           viper.GetString("device_api.custom_name"),
		MaxRequestsPerWindow: viper.GetInt("device_api.max_requests_per_window"),
		MaxConcurrent:        viper.GetInt64("device_api.max_concurrent"),
		MinDeviceSpacing:     time.Duration(viper.GetInt("device_api.min_device_spacing_ms")) * time.Millisecond,
	}, log.Named("device"))
}

func schedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxQueueSize:      viper.GetInt("scheduler.max_queue_size"),
		MaxRetries:        viper.GetInt("scheduler.max_retries"),
		InterCommandDelay: time.Duration(viper.GetInt("scheduler.inter_command_delay_ms")) * time.Millisecond,
		RetryDelay:        time.Duration(viper.GetInt("scheduler.retry_delay_ms")) * time.Millisecond,
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
