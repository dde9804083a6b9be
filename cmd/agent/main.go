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

	"tfgate/internal/agent"
	"tfgate/internal/config"
	"tfgate/internal/core"
)

func main() {
	configPath := flag.String("config", "", "config file (default "+config.DefaultFile+" if present)")
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stdout)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           agent.NewHandler(core.NewExecutor(cfg.StepTimeout), cfg.AgentID, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("agent listening", "addr", *addr, "agent_id", cfg.AgentID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("agent failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StepTimeout+30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("agent shutdown", "error", err)
	}
}
