// Package daemon provides the stats service daemon for PixelDepot.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pixeldepot/pixeldepot/internal/cli"
	"github.com/pixeldepot/pixeldepot/internal/config"
	"github.com/pixeldepot/pixeldepot/internal/constants"
	"github.com/pixeldepot/pixeldepot/internal/metrics"
	"github.com/pixeldepot/pixeldepot/internal/stats"
	"github.com/pixeldepot/pixeldepot/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *stats.Service

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	ConfigPath      string
	RefreshInterval time.Duration

	MetricsConfig metrics.Config
	DBConfig      store.Config
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.StatsServiceCmdName,
		Short:         "PixelDepot stats service",
		Long:          "PixelDepot stats service periodically refreshes collection statistics from MongoDB and exposes them as Prometheus metrics.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.StatsServiceCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("got app config", "config", a.config)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}
	// Existing deployments provide the connection string through the environment.
	if err := a.viper.BindEnv("dbconfig.uri", constants.ConnectionStringEnv); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	// Daemon flags
	cmd.PersistentFlags().StringVar(&app.config.ConfigPath, "daemon-config", "config.json", "Path to the configuration file")
	cmd.PersistentFlags().DurationVar(&app.config.RefreshInterval, "refresh-interval", 30*time.Second, "Interval between statistics refreshes per collection")

	// Metrics server flags
	cmd.PersistentFlags().DurationVar(&app.config.MetricsConfig.ReadTimeout, "read-timeout", 5*time.Second, "Read timeout for the metrics HTTP server")
	cmd.PersistentFlags().DurationVar(&app.config.MetricsConfig.WriteTimeout, "write-timeout", 10*time.Second, "Write timeout for the metrics HTTP server")
	cmd.PersistentFlags().StringVar(&app.config.MetricsConfig.Host, "metrics-host", "", "Host for the metrics endpoint")
	cmd.PersistentFlags().IntVar(&app.config.MetricsConfig.Port, "metrics-port", 2114, "Port for the metrics endpoint")

	addDBFlags(cmd, &app.config.DBConfig)

	if err := cmd.MarkPersistentFlagFilename("daemon-config"); err != nil {
		panic(fmt.Sprintf("failed to mark daemon-config flag as filename: %v", err))
	}
}

func addDBFlags(cmd *cobra.Command, config *store.Config) {
	cmd.PersistentFlags().StringVar(&config.Host, "db-host", "localhost", "database host")
	cmd.PersistentFlags().IntVarP(&config.Port, "db-port", "p", 27017, "database port")
	cmd.PersistentFlags().StringVarP(&config.User, "db-user", "u", "", "database user")
	cmd.PersistentFlags().StringVarP(&config.Password, "db-password", "P", "", "database password")
	cmd.PersistentFlags().StringVarP(&config.Name, "db-name", "n", constants.DefaultDBName, "database name")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	a.config.ConfigPath, err = filepath.Abs(a.config.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for config file: %v", err)
	}
	cm := config.New(a.config.ConfigPath)
	if err := cm.Load(); err != nil {
		close(a.ready)
		return fmt.Errorf("failed to load configuration: %v", err)
	}

	db, err := store.New(context.Background(), a.config.DBConfig)
	if err != nil {
		close(a.ready)
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	registry := prometheus.NewRegistry()
	collector, err := stats.NewCollector(db, registry)
	if err != nil {
		close(a.ready)
		return fmt.Errorf("failed to create stats collector: %v", err)
	}

	workerPool, err := stats.NewPool(cm, collector, a.config.RefreshInterval, registry)
	if err != nil {
		close(a.ready)
		return fmt.Errorf("failed to create worker pool: %v", err)
	}

	metricsServer := metrics.New(a.config.MetricsConfig, registry)

	a.daemon = stats.New(context.Background(), workerPool, metricsServer)
	close(a.ready)

	return a.daemon.Run()
}
