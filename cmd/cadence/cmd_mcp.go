package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/cadence/internal/app"
	"github.com/felixgeelhaar/cadence/internal/config"
	mcpserver "github.com/felixgeelhaar/cadence/internal/mcp"
)

// cmdMCP starts the MCP server in-process, on stdio unless --http is given
func cmdMCP(args []string) error {
	httpAddr := ""
	if len(args) >= 2 && args[0] == "--http" {
		httpAddr = args[1]
	}

	cadenceDir, err := config.EnsureCadenceDir()
	if err != nil {
		return fmt.Errorf("ensure cadence dir: %w", err)
	}
	local, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Load(local)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout carries the protocol; logs go to stderr only
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rt, err := app.New(ctx, cfg, cadenceDir)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		cancel()
		rt.Close()
	}()
	if err := rt.Run(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	mcpSrv := mcpserver.NewServer(mcpserver.Config{
		Sessions: rt.Sessions,
		Lessons:  rt.Backend,
		Stats:    rt.Stats,
		Hearts:   rt.Backend,
		UserID:   cfg.UserID,
	})

	if httpAddr != "" {
		return mcpSrv.ServeHTTP(ctx, httpAddr)
	}
	return mcpSrv.ServeStdio(ctx)
}
