// Package main provides analyzer-sim, a local stand-in for the remote PPG
// analyzer.
//
// It serves the analyzer websocket protocol on /ws so ppgcam can be run
// end to end without network access:
//
//	analyzer-sim -port 8765 -bp-after 40
//	ppgcam measure --analyzer-url ws://localhost:8765/ws
//
// Flags:
//
//	-addr         interface to bind (default: 127.0.0.1)
//	-port         HTTP port (default: 8765)
//	-bp-after     frames before the canned BP reading, 0 = never (default: 30)
//	-history      green samples kept for heart rate (default: 300)
//	-log-level    debug, info, warn or error (default: info)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/thruflo/ppgcam/internal/logging"
	"github.com/thruflo/ppgcam/internal/simulator"
)

const defaultPort = 8765

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr     = flag.String("addr", "127.0.0.1", "interface to bind")
		port     = flag.Int("port", defaultPort, "HTTP port")
		bpAfter  = flag.Int("bp-after", simulator.DefaultBPAfterFrames, "frames before the canned BP reading (0 = never)")
		history  = flag.Int("history", simulator.DefaultHistorySize, "green samples kept for heart rate")
		logLevel = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logger := logging.Component("analyzer-sim")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := simulator.NewHandler(
		simulator.WithBPAfterFrames(*bpAfter),
		simulator.WithHistorySize(*history),
	)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok %d\n", handler.Active())
	})

	listenAddr := net.JoinHostPort(*addr, strconv.Itoa(*port))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Analyzer simulator on ws://%s/ws\n", listener.Addr())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
