package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tfgate/internal/app"
	"tfgate/internal/config"
	"tfgate/internal/server"
)

func main() {
	configPath := flag.String("config", "", "config file (default "+config.DefaultFile+" if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stdout)

	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := server.New(server.Config{
		Runner:  a.Runner,
		Runs:    a.History(),
		Ledger:  a.Ledger,
		Metrics: a.Metrics,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("tfgate server listening",
			"port", cfg.Port,
			"pipeline", pipelineName(cfg.Pipeline),
			"environments", len(a.Pipeline.Environments),
			"agent_url", cfg.AgentURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	// cancels the in-flight run; completed tasks stay as they are
	srv.Close()
}

func pipelineName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}
