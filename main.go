package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"tcpchat/internal/admin"
	"tcpchat/internal/config"
	"tcpchat/internal/logger"
	"tcpchat/internal/server"
	"tcpchat/internal/transport"
)

const usage = "[USAGE]: ./tcpchat $port"

var errUsage = errors.New(usage)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:      "tcpchat",
		Usage:     "Multi-client TCP chat server",
		ArgsUsage: "<port>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file (yaml, toml or json)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Append activity log to this file",
			},
			&cli.IntFlag{
				Name:  "max-clients",
				Usage: "Maximum concurrent connections, 0 for unlimited",
			},
			&cli.IntFlag{
				Name:  "max-payload",
				Usage: "Largest accepted payload in bytes",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve /metrics and /healthz on this address",
			},
		},
		Action: runServer,
	}
}

func parsePort(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %q\n%s", transport.ErrInvalidPort, args[0], usage)
	}
	return port, nil
}

// loadConfig layers command line flags over the config file and env
func loadConfig(cmd *cli.Command, port int) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.Server.Port = port
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-file") {
		cfg.Log.File = cmd.String("log-file")
	}
	if cmd.IsSet("max-clients") {
		cfg.Server.MaxClients = int(cmd.Int("max-clients"))
	}
	if cmd.IsSet("max-payload") {
		cfg.Server.MaxPayloadSize = int(cmd.Int("max-payload"))
	}
	if cmd.IsSet("metrics-addr") {
		cfg.Metrics.Addr = cmd.String("metrics-addr")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	port, err := parsePort(cmd.Args().Slice())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, port)
	if err != nil {
		return err
	}

	log, closer, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(cfg.Server, log, server.WithMetrics(server.NewMetrics(reg)))
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Printf("Listening on the port :%d\n", port)

	if cfg.Metrics.Addr != "" {
		adm := admin.New(cfg.Metrics.Addr, reg, srv.Running, log)
		adm.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adm.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("admin shutdown")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
