package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"stablerisk/gateway/middleware"
	risk "stablerisk/native/comptroller"
	"stablerisk/observability/logging"
	telemetry "stablerisk/observability/otel"
	"stablerisk/services/comptroller"
	"stablerisk/services/comptroller/health"
	"stablerisk/services/comptroller/indexer"
	"stablerisk/services/comptroller/server"
	"stablerisk/services/comptrollerd/config"
	"stablerisk/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/comptrollerd/config.yaml", "path to comptrollerd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("comptrollerd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("STABLERISK_ENV"))
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service: "comptrollerd",
		Env:     env,
		Level:   cfg.Logging.Level,
		File: logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		},
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "comptrollerd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	var store comptroller.EventStore
	if cfg.IndexerDSN != "" {
		idx, err := indexer.Open(cfg.IndexerDSN)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		defer idx.Close()
		store = idx
	}

	svc, err := comptroller.New(db, comptroller.Config{
		EngineAddress:      cfg.Engine(),
		StablecoinSymbol:   cfg.StablecoinSymbol,
		OracleMaxAgeBlocks: cfg.OracleMaxAge,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RiskConfigPath != "" {
		riskCfg, err := risk.LoadConfig(cfg.RiskConfigPath)
		if err != nil {
			return fmt.Errorf("load risk config: %w", err)
		}
		if err := svc.Bootstrap(ctx, riskCfg); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	api := server.New(svc, server.Config{
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(rateLimits(cfg.RateLimits), logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true, LogRequests: true}, logger),
	}, logger)

	listener, err := listen(cfg.ListenAddress, cfg.TLS, env)
	if err != nil {
		return err
	}
	var (
		healthServer *health.Server
		grpcListener net.Listener
	)
	if cfg.GRPCListenAddress != "" {
		if grpcListener, err = listen(cfg.GRPCListenAddress, cfg.TLS, env); err != nil {
			listener.Close()
			return err
		}
		var opts []grpc.ServerOption
		if cfg.TLS.Enabled() {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertPath, cfg.TLS.KeyPath)
			if err != nil {
				grpcListener.Close()
				listener.Close()
				return fmt.Errorf("load grpc tls: %w", err)
			}
			opts = append(opts, grpc.Creds(creds))
		}
		healthServer = health.New(svc, logger, opts...)
	}

	httpServer := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("comptrollerd listening", slog.String("addr", cfg.ListenAddress), slog.Bool("tls", cfg.TLS.Enabled()))
		if cfg.TLS.Enabled() {
			httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()
	if healthServer != nil {
		go func() {
			logger.Info("comptrollerd health listening", slog.String("addr", cfg.GRPCListenAddress))
			if err := healthServer.Serve(grpcListener); err != nil {
				serverErr <- fmt.Errorf("grpc health: %w", err)
			}
		}()
		go healthServer.Watch(ctx, cfg.HealthInterval)
	}

	go advanceBlocks(ctx, svc, cfg.BlockInterval, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if healthServer != nil {
		healthServer.Stop(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", slog.String("error", err.Error()))
		_ = httpServer.Close()
	}
	return nil
}

// listen opens addr and refuses plaintext on anything but loopback outside
// the dev environment.
func listen(addr string, tlsCfg config.TLSConfig, env string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if !tlsCfg.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			listener.Close()
			return nil, fmt.Errorf("plaintext comptrollerd mode is restricted to loopback listeners or dev environment")
		}
	}
	return listener, nil
}

// advanceBlocks moves the block height forward once per interval so interest
// accrues without an external clock.
func advanceBlocks(ctx context.Context, svc *comptroller.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.AdvanceBlocks(ctx, 1); err != nil {
				logger.Warn("block advance failed", slog.String("error", err.Error()))
			}
		}
	}
}

func rateLimits(cfg config.RateLimitConfig) map[string]middleware.RateLimit {
	limits := make(map[string]middleware.RateLimit)
	for key, limit := range map[string]config.RateLimit{
		server.RateLimitWrite: cfg.Write,
		server.RateLimitAdmin: cfg.Admin,
	} {
		if limit.RatePerSecond <= 0 {
			continue
		}
		limits[key] = middleware.RateLimit{
			RatePerSecond: limit.RatePerSecond,
			Burst:         limit.Burst,
			Tokens:        limit.Tokens,
		}
	}
	return limits
}
