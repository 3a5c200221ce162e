package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/clubroyale/tablecore/internal/server"
)

var CLI struct {
	Config   string `short:"c" default:"tableserver.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" help:"Address to bind, host:port (overrides config)"`
	LogLevel string `short:"l" help:"Log level (overrides config)"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("tableserver"),
		kong.Description("Real-time poker table server."))

	cfg, err := server.LoadConfig(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		kctx.Exit(1)
	}
	if CLI.Addr != "" {
		host, port, splitErr := splitHostPort(CLI.Addr)
		if splitErr != nil {
			fmt.Fprintf(os.Stderr, "invalid --addr: %v\n", splitErr)
			kctx.Exit(1)
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		kctx.Exit(1)
	}

	logger := log.New(os.Stderr)
	level, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", cfg.Server.LogLevel)
		kctx.Exit(1)
	}
	logger.SetLevel(level)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build server", "err", err)
		kctx.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", "err", err)
		kctx.Exit(1)
	}
	logger.Info("shutdown complete")
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port in %q", addr)
	}
	return host, port, nil
}
