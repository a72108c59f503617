// Package daemon provides the web service daemon for PixelDepot.
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
	"github.com/pixeldepot/pixeldepot/internal/store"
	"github.com/pixeldepot/pixeldepot/internal/webservice"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *webservice.Server

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	Daemon   webservice.StaticConfig
	DBConfig store.Config

	MigrationsDir string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.WebServiceCmdName,
		Short:         "PixelDepot web service",
		Long:          "PixelDepot web service stores and serves game assets and player scores over HTTP, backed by MongoDB.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.WebServiceCmdName, a.cmd, a.viper); err != nil {
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

	if err := installRootCmd(&a); err != nil {
		return nil, err
	}
	installMigrateCmd(&a)
	installImportCmd(&a)
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

func installRootCmd(app *App) error {
	cmd := app.cmd

	defaultConf := webservice.StaticConfig{
		ConfigPath:     "config.json",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 3 * time.Second,
		MaxHeaderBytes: 1 << 13, // 8 KB
		MaxUploadBytes: 1 << 17, // 128 KB

		RateLimitPS: 0.1,
		BurstLimit:  3,

		ListenPort:  8080,
		MetricsPort: 2113,
	}

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	// Daemon flags
	cmd.PersistentFlags().StringVar(&app.config.Daemon.ConfigPath, "daemon-config", defaultConf.ConfigPath, "Path to the configuration file")
	cmd.PersistentFlags().DurationVar(&app.config.Daemon.ReadTimeout, "read-timeout", defaultConf.ReadTimeout, "Read timeout for HTTP server")
	cmd.PersistentFlags().DurationVar(&app.config.Daemon.WriteTimeout, "write-timeout", defaultConf.WriteTimeout, "Write timeout for HTTP server")
	cmd.PersistentFlags().DurationVar(&app.config.Daemon.RequestTimeout, "request-timeout", defaultConf.RequestTimeout, "Request timeout for HTTP server")
	cmd.PersistentFlags().IntVar(&app.config.Daemon.MaxHeaderBytes, "max-header-bytes", defaultConf.MaxHeaderBytes, "Maximum header bytes for HTTP server")
	cmd.PersistentFlags().IntVar(&app.config.Daemon.MaxUploadBytes, "max-upload-bytes", defaultConf.MaxUploadBytes, "Maximum upload bytes for HTTP server")

	cmd.PersistentFlags().Float64Var(&app.config.Daemon.RateLimitPS, "rate-limit-ps", defaultConf.RateLimitPS, "Rate limit in requests per second for upload endpoints")
	cmd.PersistentFlags().IntVar(&app.config.Daemon.BurstLimit, "burst-limit", defaultConf.BurstLimit, "Burst limit for rate limiting")

	cmd.PersistentFlags().StringVar(&app.config.Daemon.ListenHost, "listen-host", defaultConf.ListenHost, "Host to listen on")
	cmd.PersistentFlags().IntVar(&app.config.Daemon.ListenPort, "listen-port", defaultConf.ListenPort, "Port to listen on")

	cmd.PersistentFlags().StringVar(&app.config.Daemon.MetricsHost, "metrics-host", defaultConf.MetricsHost, "Host for the metrics endpoint")
	cmd.PersistentFlags().IntVar(&app.config.Daemon.MetricsPort, "metrics-port", defaultConf.MetricsPort, "Port for the metrics endpoint")

	cmd.PersistentFlags().StringVar(&app.config.Daemon.SentryDSN, "sentry-dsn", "", "Sentry DSN for error reporting, disabled when empty")

	addDBFlags(cmd, &app.config.DBConfig)

	if err := cmd.MarkPersistentFlagFilename("daemon-config"); err != nil {
		return fmt.Errorf("failed to mark daemon-config flag as filename: %w", err)
	}

	return nil
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
	a.config.Daemon.ConfigPath, err = filepath.Abs(a.config.Daemon.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for config file: %v", err)
	}
	cm := config.New(a.config.Daemon.ConfigPath)

	db, err := store.New(context.Background(), a.config.DBConfig)
	if err != nil {
		close(a.ready)
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	a.daemon, err = webservice.New(context.Background(), cm, db, a.config.Daemon)
	close(a.ready)
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	return a.daemon.Run()
}
