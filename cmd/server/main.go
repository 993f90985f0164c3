package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gostudio/orchestra/internal/hub"
	"github.com/gostudio/orchestra/internal/metrics"
	"github.com/gostudio/orchestra/internal/models"
	"github.com/gostudio/orchestra/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "orchestra")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFile, err := os.Open(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(fmt.Errorf("error opening config file: %w", err))
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		log.Fatal(fmt.Errorf("error decoding config file: %w", err))
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		log.Fatal(fmt.Errorf("invalid config: %w", err))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.logLevel(),
	}))

	providers, err := cfg.providers(logger)
	if err != nil {
		log.Fatal(err)
	}

	boltDB, err := services.NewBoltDB(filepath.Join(cfgPath, "store.db"))
	if err != nil {
		log.Fatal(fmt.Errorf("error opening store: %w", err))
	}
	defer boltDB.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := hub.NewMain(hub.Config{
		Store:            boltDB,
		Models:           models.NewRegistry(cfg.Models),
		Providers:        providers,
		Metrics:          metrics.New(reg),
		Logger:           logger,
		AutoRespondMode:  cfg.AutoRespondMode,
		IdleTimeout:      cfg.SessionIdleTimeout,
		SystemPrompt:     cfg.SystemPrompt,
		CodeSystemPrompt: cfg.CodeSystemPrompt,
		MaskedAPIKey:     maskKey(cfg.Providers.Gemini.APIKey),
	})

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go m.Registry().Run(sweepCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.HandleWS)
	mux.HandleFunc("/api/conversations", m.HandleConversations)
	mux.HandleFunc("/api/conversations/{id}", m.HandleConversation)
	mux.HandleFunc("/api/conversations/{id}/messages", m.HandleMessages)
	mux.HandleFunc("/api/status", m.HandleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sweepCancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}
