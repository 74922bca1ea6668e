package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	gateway "github.com/GriffinCanCode/sessiond/internal/api/http"
	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/config"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/logging"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
	"github.com/GriffinCanCode/sessiond/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	socketPath := flag.String("socket", "", "Unix socket path (overrides config)")
	httpAddr := flag.String("http", "", "HTTP gateway address (overrides config)")
	noHTTP := flag.Bool("no-http", false, "Disable the HTTP gateway")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		os.Exit(1)
	}
	if *socketPath != "" {
		cfg.Daemon.SocketPath = *socketPath
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
		cfg.HTTP.Enabled = true
	}
	if *noHTTP {
		cfg.HTTP.Enabled = false
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("Daemon failed", zap.Error(err))
		logger.Close()
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		logCfg.Level = cfg.Level
	}
	return logging.New(logCfg)
}

// sshBreakers returns nil when failure tracking is disabled
func sshBreakers(cfg config.SSHConfig, logger *logging.Logger) *resilience.Group {
	if cfg.FailureThreshold <= 0 {
		return nil
	}
	sshLog := logger.ForComponent("ssh")
	return resilience.NewGroup(resilience.Settings{
		Threshold: uint32(cfg.FailureThreshold),
		Cooldown:  cfg.FailureCooldown,
		Counts: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(host string, from, to resilience.State) {
			sshLog.Info("Host breaker changed",
				zap.String("host", host),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}

func run(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting sessiond",
		zap.String("version", server.Version),
		zap.String("socket", cfg.Daemon.SocketPath),
		zap.Bool("http", cfg.HTTP.Enabled),
	)

	metrics := monitoring.NewMetrics()

	spawner := terminal.NewFactory(
		&terminal.LocalLauncher{DefaultShell: cfg.Sessions.DefaultShell},
		&terminal.SSHDialer{
			KnownHostsFile: cfg.SSH.KnownHosts,
			IdentityFiles:  cfg.SSH.IdentityFiles,
			DefaultUser:    cfg.SSH.DefaultUser,
			DialTimeout:    cfg.SSH.DialTimeout,
			UseAgent:       cfg.SSH.UseAgent,
			Breakers:       sshBreakers(cfg.SSH, logger),
		},
		&terminal.SerialOpener{DefaultBaud: cfg.Serial.DefaultBaud},
	)

	manager := session.NewManager(spawner, logger.ForComponent("sessions"), session.Options{
		OutputBuffer: cfg.Sessions.OutputBuffer,
		HistoryBytes: cfg.Sessions.HistoryBytes,
	}).WithMetrics(metrics)

	defaultSize := terminal.Size{
		Cols: uint16(cfg.Sessions.DefaultCols),
		Rows: uint16(cfg.Sessions.DefaultRows),
	}

	ipc := server.New(server.Config{
		SocketPath:        cfg.Daemon.SocketPath,
		MaxConnections:    cfg.IPC.MaxConnections,
		MaxMessageSize:    cfg.IPC.MaxMessageSize,
		RequestsPerSecond: cfg.IPC.RequestsPerSecond,
		Burst:             cfg.IPC.Burst,
		ShutdownGrace:     cfg.Daemon.ShutdownGrace,
		DefaultSize:       defaultSize,
		Version:           server.Version,
	}, manager, logger).WithMetrics(metrics)

	// Binding failures are fatal before anything else starts
	if err := ipc.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ipc.Serve(ctx)
	})

	g.Go(func() error {
		return manager.RunReaper(ctx, cfg.Sessions.ReapInterval, cfg.Sessions.ReapGrace)
	})

	if cfg.HTTP.Enabled {
		gw := gateway.New(gateway.Config{
			Addr:              cfg.HTTP.Addr,
			AllowOrigins:      cfg.HTTP.AllowOrigins,
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
			Development:       cfg.Logging.Development,
			Version:           server.Version,
			DefaultSize:       defaultSize,
		}, manager, logger, metrics)

		g.Go(func() error {
			if err := gw.Run(ctx); err != nil {
				return fmt.Errorf("http gateway: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Shutting down after failure", zap.Error(err))
	} else {
		err = nil
	}

	if cfg.Daemon.TerminateOnShutdown {
		n := manager.TerminateAll(session.ReasonShutdown)
		logger.Info("Terminated sessions on shutdown", zap.Int("count", n))
	} else {
		logger.Info("Exiting with sessions open", zap.Int("sessions", manager.CountSessions()))
	}

	logger.Info("sessiond stopped")
	return err
}
