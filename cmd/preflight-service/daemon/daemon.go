// Package daemon provides the preflight version service daemon.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/helix-pages/preflight/internal/cli"
	"github.com/helix-pages/preflight/internal/config"
	"github.com/helix-pages/preflight/internal/constants"
	"github.com/helix-pages/preflight/internal/webservice"
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
	Daemon    webservice.StaticConfig
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.CmdName,
		Short:         "Helix Pages preflight version service",
		Long:          "Helix Pages preflight version service answering version marker lookups for owner/repo/ref triples.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetVerbosity(a.config.Verbosity) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("got app config", "config", a.config)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
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

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	defaultConf := webservice.StaticConfig{
		ConfigPath: "",

		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxHeaderBytes: 1 << 13, // 8 KB

		ListenPort:  8080,
		MetricsPort: 2112,

		RateLimit: 0, // disabled
		RateBurst: 10,

		FetchTimeout: constants.DefaultFetchTimeout,
	}

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "emit logs in JSON format")

	// Daemon flags
	cmd.Flags().StringVar(&app.config.Daemon.ConfigPath, "daemon-config", defaultConf.ConfigPath, "path to the dynamic configuration file")

	cmd.Flags().DurationVar(&app.config.Daemon.ReadTimeout, "read-timeout", defaultConf.ReadTimeout, "read timeout for HTTP server")
	cmd.Flags().DurationVar(&app.config.Daemon.WriteTimeout, "write-timeout", defaultConf.WriteTimeout, "write timeout for HTTP server")
	cmd.Flags().DurationVar(&app.config.Daemon.RequestTimeout, "request-timeout", defaultConf.RequestTimeout, "request timeout for HTTP server")
	cmd.Flags().IntVar(&app.config.Daemon.MaxHeaderBytes, "max-header-bytes", defaultConf.MaxHeaderBytes, "maximum header bytes for HTTP server")

	cmd.Flags().StringVar(&app.config.Daemon.ListenHost, "listen-host", defaultConf.ListenHost, "host to listen on")
	cmd.Flags().IntVar(&app.config.Daemon.ListenPort, "listen-port", defaultConf.ListenPort, "port to listen on")

	cmd.Flags().StringVar(&app.config.Daemon.MetricsHost, "metrics-host", defaultConf.MetricsHost, "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.Daemon.MetricsPort, "metrics-port", defaultConf.MetricsPort, "port for the metrics endpoint, 0 disables it")

	cmd.Flags().Float64Var(&app.config.Daemon.RateLimit, "rate-limit", defaultConf.RateLimit, "requests per second allowed per client IP, 0 disables limiting")
	cmd.Flags().IntVar(&app.config.Daemon.RateBurst, "rate-burst", defaultConf.RateBurst, "burst size for the per-IP rate limit")

	cmd.Flags().DurationVar(&app.config.Daemon.FetchTimeout, "fetch-timeout", defaultConf.FetchTimeout, "timeout for the outbound version marker fetch")
	cmd.Flags().BoolVar(&app.config.Daemon.FetchDisableHTTP2, "fetch-disable-http2", defaultConf.FetchDisableHTTP2, "disable HTTP/2 on the outbound fetch client")
	cmd.Flags().StringVar(&app.config.Daemon.FetchUserAgent, "fetch-user-agent", defaultConf.FetchUserAgent, "user agent for the outbound fetch client")

	err := cmd.MarkFlagFilename("daemon-config")
	if err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to mark daemon-config flag as filename: %v", err))
	}
}

// Run executes the command and associated process, returning an error if any.
// Termination signals are handled for the duration of the run.
func (a *App) Run() error {
	defer a.installSignalHandler()()
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
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
	if a.config.Daemon.ConfigPath != "" {
		a.config.Daemon.ConfigPath, err = filepath.Abs(a.config.Daemon.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for config file: %v", err)
		}
	}
	dConf := a.config.Daemon
	cm := config.New(dConf.ConfigPath)
	a.daemon, err = webservice.New(context.Background(), cm, dConf)
	close(a.ready)
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	return a.daemon.Run()
}
