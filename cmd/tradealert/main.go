package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oicur0t/tradealert/internal/alert"
	"github.com/oicur0t/tradealert/internal/auth"
	"github.com/oicur0t/tradealert/internal/config"
	"github.com/oicur0t/tradealert/internal/kvstore"
	"github.com/oicur0t/tradealert/internal/logging"
	"github.com/oicur0t/tradealert/internal/monitor"
	"github.com/oicur0t/tradealert/internal/status"
	"github.com/oicur0t/tradealert/pkg/mtls"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default "+config.DefaultConfigPath()+")")
	flag.Parse()

	// Load configuration
	loader, err := config.NewLoader(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting tradealert",
		zap.String("config", loader.Path()),
		zap.String("log_file", cfg.LogFilePath),
		zap.String("bot_server", cfg.BotServerURL),
		zap.String("token_store", cfg.TokenStore.Backend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tlsConfig, err := mtls.LoadClientTLSConfig(mtls.ClientFiles{
		CACert:     cfg.MTLS.CACert,
		ClientCert: cfg.MTLS.ClientCert,
		ClientKey:  cfg.MTLS.ClientKey,
		ServerName: cfg.MTLS.ServerName,
	})
	if err != nil {
		logger.Fatal("Failed to load mTLS config", zap.Error(err))
	}
	httpClient := alert.NewHTTPClient(tlsConfig, cfg.Server.Timeout)

	store, err := kvstore.Open(ctx, kvstore.Options{
		Backend:    cfg.TokenStore.Backend,
		Dir:        cfg.TokenStore.Dir,
		SQLitePath: cfg.TokenStore.SQLitePath,
		Encrypt:    cfg.TokenStore.Encrypt,
		Mongo: kvstore.MongoOptions{
			URI:                cfg.MongoDB.URI,
			Database:           cfg.MongoDB.Database,
			Collection:         cfg.MongoDB.Collection,
			CertificateKeyFile: cfg.MongoDB.CertificateKeyFile,
			Timeout:            cfg.MongoDB.Timeout,
		},
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open token store", zap.Error(err))
	}

	tokens := auth.NewTokenStore(store, auth.NewHTTPRefresher(cfg.RefreshEndpoint, httpClient, logger), logger)

	dispatch := cfg.Dispatch
	mon := monitor.New(monitor.Options{
		Settings:       cfg.Settings(),
		MaxInFlight:    dispatch.MaxInFlight,
		QueueSize:      dispatch.QueueSize,
		SenderCooldown: dispatch.SenderCooldown,
		DrainTimeout:   dispatch.DrainTimeout,
	}, func(settings config.Settings) monitor.Dispatcher {
		return alert.NewDispatcherWithClient(alert.Options{
			Endpoint:      settings.NotificationEndpoint,
			RatePerMinute: dispatch.RatePerMinute,
			Burst:         dispatch.Burst,
		}, httpClient, tokens, logger)
	}, tokens, logger)

	if !tokens.IsAuthenticated(ctx) {
		logger.Warn("Not signed in, trades will be shown locally only",
			zap.String("login", cfg.BotServerURL+"/auth"))
	}

	go printEvents(mon.Events())

	if err := mon.Start(ctx); err != nil {
		logger.Fatal("Failed to start monitoring", zap.Error(err))
	}

	loader.Watch(logger, func(next *config.Config) {
		settings := next.Settings()
		if settings == mon.Settings() {
			logger.Info("Config change does not affect monitoring, restart to apply it")
			return
		}
		logger.Info("Monitoring settings changed, restarting",
			zap.String("log_file", settings.LogFilePath),
			zap.Duration("poll_interval", settings.PollInterval))
		if err := mon.Restart(ctx, settings); err != nil {
			logger.Error("Failed to restart monitoring", zap.Error(err))
		}
	})

	// Start status server
	var statusServer *http.Server
	serverErrors := make(chan error, 1)
	if cfg.Status.Enabled {
		handler := status.NewHandler(mon, tokens, logger)
		statusServer = status.NewServer(cfg.Status.ListenAddress, handler.Routes(cfg.Status.RequestsPerMinute, cfg.Status.Burst))

		go func() {
			logger.Info("Status server starting", zap.String("addr", cfg.Status.ListenAddress))
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Status server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Status server shutdown error", zap.Error(err))
			statusServer.Close()
		}
	}

	// pending deliveries finish before the store closes
	mon.Close()
	cancel()

	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close token store", zap.Error(err))
	}

	logger.Info("tradealert stopped gracefully")
}

// printEvents shows trades on the terminal, whether or not they were delivered
func printEvents(events <-chan monitor.Event) {
	for ev := range events {
		switch ev.Type {
		case monitor.EventTrade:
			outcome := alert.Kind(ev.Err)
			if errors.Is(ev.Err, monitor.ErrSuppressed) {
				outcome = "suppressed"
			}
			fmt.Printf("%s [trade] %s: %s (%s)\n", ev.Time.Format("15:04:05"), ev.Player, ev.Message, outcome)
		case monitor.EventAuthChanged:
			fmt.Printf("%s [auth] authenticated=%t\n", ev.Time.Format("15:04:05"), ev.Authenticated)
		}
	}
}
