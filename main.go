package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athapong/docgraph/pkg/config"
	"github.com/athapong/docgraph/prompts"
	"github.com/athapong/docgraph/tools"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	envFile := flag.String("env", ".env", "Path to environment file")
	configFile := flag.String("config", "", "Path to YAML config file")
	metricsAddr := flag.String("metrics-addr", "", "Address for the metrics and health endpoints (overrides METRICS_ADDR)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	// stdout carries the MCP protocol
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load(config.Options{EnvFile: *envFile, ConfigFile: *configFile})
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("Invalid log level: %v", err)
	}
	logger.SetLevel(level)
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if !cfg.HasAPIKey() {
		logger.Warn("OPENROUTER_API_KEY is not set; every document will fail processing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	a.resume(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: newRouter(a)}
		go func() {
			logger.Infof("Starting metrics server on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
		go collectSystemMetrics(ctx, 15*time.Second)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("Error during metrics server shutdown: %v", err)
			}
		}()
	}

	// Create MCP server
	mcpServer := server.NewMCPServer(
		"docgraph",
		version,
		server.WithLogging(),
		server.WithPromptCapabilities(true),
	)
	tools.RegisterDocumentTools(mcpServer, a.documents())
	prompts.RegisterDocumentPrompts(mcpServer)

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Errorf("Server error: %v", err)
	}
	logger.Info("Shutting down")
}
