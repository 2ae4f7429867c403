// ABOUTME: serve command: starts every configured stream and the HTTP/WebSocket server
// ABOUTME: Accept errors are retried forever; shutdown drains streams on SIGINT/SIGTERM
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/audiorelay/internal/application/manager"
	"github.com/harper/audiorelay/internal/infrastructure/http"
	"github.com/harper/audiorelay/internal/infrastructure/ws"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Listen.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Listen.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.Streams) == 0 {
		return errors.New("no streams configured")
	}

	mgr, err := manager.NewFromConfig(cfg, manager.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start streams: %w", err)
	}

	addr := net.JoinHostPort(cfg.Listen.Host, strconv.Itoa(cfg.Listen.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	listener := ws.NewRetryListener(l, cfg.Listen.AcceptRetry.Policy(false), nil, logger)

	srv := &nethttp.Server{
		Handler:     http.NewRouter(mgr, ws.NewUpgrader(ws.DefaultOptions(), nil), logger),
		ReadTimeout: 15 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	// Graceful shutdown
	shutdown := make(chan error, 1)
	go func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		logger.Info("shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Streams first: closing hubs ends every WebSocket session, which
		// the HTTP server does not track after the upgrade.
		if err := mgr.Shutdown(sctx); err != nil {
			logger.Warn("stream shutdown incomplete", "error", err)
		}
		shutdown <- srv.Shutdown(sctx)
	}()

	logger.Info("listening", "addr", "http://"+addr, "streams", len(cfg.Streams), "try", "/streams")
	if err := srv.Serve(listener); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	if err := <-shutdown; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
