package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/config"
	"github.com/emperorhan/wallet-runtime/internal/controller"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger/ton"
	"github.com/emperorhan/wallet-runtime/internal/store"
	"github.com/emperorhan/wallet-runtime/internal/store/memory"
	redispkg "github.com/emperorhan/wallet-runtime/internal/store/redis"
	"github.com/emperorhan/wallet-runtime/internal/subscription"
	"github.com/emperorhan/wallet-runtime/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var newRedisKV = func(url, namespace string) (store.KV, error) { return redispkg.NewKV(url, namespace) }

func resolveKV(cfg *config.Config, logger *slog.Logger) (store.KV, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendRedis:
		kv, err := newRedisKV(cfg.Storage.RedisURL, cfg.Storage.Namespace)
		if err != nil {
			return nil, fmt.Errorf("initialize redis storage: %w", err)
		}
		logger.Info("redis storage enabled", "redis_url", cfg.Storage.RedisURL, "namespace", cfg.Storage.Namespace)
		return kv, nil
	case config.StorageBackendMemory, "":
		return memory.NewKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func normalizeAccounts(raw []string) ([]model.Address, error) {
	seen := make(map[model.Address]struct{}, len(raw))
	out := make([]model.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := ton.NormalizeAddress(s)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting walletd",
		"network", cfg.Network.Params().Key(),
		"config_url", cfg.Network.ConfigURL,
		"accounts", len(cfg.Accounts),
		"storage_backend", cfg.Storage.Backend,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "walletd", tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	accounts, err := normalizeAccounts(cfg.Accounts)
	if err != nil {
		logger.Error("invalid account address", "error", err)
		os.Exit(1)
	}

	kv, err := resolveKV(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	connector := ton.NewConnector(ton.Config{
		RPS:                     float64(cfg.RPC.RPS),
		Burst:                   cfg.RPC.Burst,
		BreakerFailureThreshold: cfg.RPC.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.RPC.BreakerOpenTimeout,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl, err := controller.New(ctx, controller.Config{
		Network:  cfg.Network.Params(),
		Accounts: accounts,
		Subscription: subscription.Config{
			PollingInterval:   cfg.Polling.Interval,
			IntensiveInterval: cfg.Polling.IntensiveInterval,
			NextBlockTimeout:  cfg.Polling.NextBlockTimeout,
			LatestBlockRetry:  cfg.Polling.LatestBlockRetry,
		},
		BroadcastDebounce: cfg.UI.BroadcastDebounce,
	}, connector, kv, logger)
	if err != nil {
		logger.Error("failed to connect to network", "error", err)
		os.Exit(1)
	}
	if err := ctrl.Start(ctx); err != nil {
		logger.Error("failed to start controller", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, ctrl, logger)
	})

	g.Go(func() error {
		return ctrl.Run(gCtx)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runErr := g.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := ctrl.Close(closeCtx); err != nil {
		logger.Warn("controller shutdown error", "error", err)
	}

	if runErr != nil && runErr != context.Canceled {
		logger.Error("walletd exited with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("walletd shut down gracefully")
}

type snapshotter interface {
	Snapshot() controller.State
}

func newHealthMux(state snapshotter, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state.Snapshot()); err != nil {
			logger.Warn("failed to write state response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func runHealthServer(ctx context.Context, port int, state snapshotter, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newHealthMux(state, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
