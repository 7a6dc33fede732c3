// Package main is the entry point for the Meridian CRM security-core server.
// It dispatches three subcommands — serve, genkey, and version — via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place
// without requiring a cobra dependency.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is NOT served on the main API listener (Gin router).

	// It only serves on a dedicated internal port when cfg.Telemetry.Profiling.Enabled=true.
	// DefaultServeMux is never passed to the Gin HTTP server.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-crm/meridian/internal/api"
	"github.com/meridian-crm/meridian/internal/config"
	"github.com/meridian-crm/meridian/internal/crypto"
	"github.com/meridian-crm/meridian/internal/gateway"
	"github.com/meridian-crm/meridian/internal/store"
	"github.com/meridian-crm/meridian/internal/telemetry"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		configPath := os.Getenv("CONFIG_PATH")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return serve(cfg)
	case "genkey":
		return generateKeyMaterial()
	case "version":
		fmt.Printf("Meridian CRM security core v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, genkey, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log
	// output uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Validate field-encryption key material before accepting traffic. The
	// cipher is constructed here once so a bad key or short salt fails the
	// boot instead of surfacing as fail-open pass-through writes later.
	if err := validateEncryptionMaterial(cfg.Encryption); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	// Pick the persistent store. Redis is the real deployment; without it the
	// server runs in demo mode on the in-memory store and nothing survives a
	// restart.
	var (
		st  store.Store
		rdb *redis.Client
	)
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		st = store.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
		log.Printf("Connected to Redis at %s (prefix %q)", cfg.Redis.Addr, cfg.Redis.KeyPrefix)
	} else {
		st = store.NewMemoryStore()
		log.Println("Redis disabled: running in demo mode on the in-memory store (data is not persisted)")
	}

	// Pick the outbound messaging gateway.
	var gw gateway.Gateway
	switch cfg.Gateway.Provider {
	case "http":
		gw = gateway.NewHTTPGateway(gateway.HTTPConfig{
			URL:     cfg.Gateway.URL,
			APIKey:  cfg.Gateway.APIKey,
			From:    cfg.Gateway.From,
			Timeout: time.Duration(cfg.Gateway.TimeoutSecs) * time.Second,
		})
		log.Printf("Messaging gateway: http provider at %s", cfg.Gateway.URL)
	default:
		gw = gateway.LogGateway{}
		log.Println("Messaging gateway: log-only (demo mode)")
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not
	// reachable through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start pprof endpoint on its own port (disabled in production by default).
	if cfg.Telemetry.Profiling.Enabled {
		pprofAddr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		go func() {
			slog.Info("starting pprof server", "addr", pprofAddr)
			// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
			srv := &http.Server{
				Addr:         pprofAddr,
				Handler:      http.DefaultServeMux, // #nosec G108 -- not the main listener; pprof-only internal port
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("pprof server error", "error", err)
			}
		}()
	}

	// Create router
	router, bgServices := api.NewRouter(cfg, st, rdb, gw)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on %s", cfg.Server.GetAddress())
		log.Printf("Base URL: %s", cfg.Server.BaseURL)
		log.Println("Server is ready to accept connections")

		var err error
		if cfg.Security.TLS.Enabled {
			log.Printf("TLS enabled: cert=%s, key=%s", cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop the notification reaper and rate limiter goroutines
	bgServices.Shutdown()

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}

	log.Println("Server stopped gracefully")
	return nil
}

// validateEncryptionMaterial constructs a throwaway field cipher from the
// configured key material so misconfiguration fails at boot. Running without
// any key is allowed for demo mode but loudly flagged, since sensitive record
// fields will then be stored in plaintext.
func validateEncryptionMaterial(cfg config.EncryptionConfig) error {
	switch {
	case cfg.Key != "":
		key, err := hex.DecodeString(cfg.Key)
		if err != nil {
			return fmt.Errorf("encryption key is not valid hex: %w", err)
		}
		if _, err := crypto.NewFieldCipher(key); err != nil {
			return err
		}
		log.Println("Field encryption enabled (master key)")
	case cfg.Passphrase != "":
		salt, err := hex.DecodeString(cfg.Salt)
		if err != nil {
			// Not hex: treat the configured value as raw salt bytes.
			salt = []byte(cfg.Salt)
		}
		if _, err := crypto.DeriveFieldCipher(cfg.Passphrase, salt, cfg.Iterations); err != nil {
			return err
		}
		log.Println("Field encryption enabled (derived key)")
	default:
		log.Println("Warning: no encryption key configured; sensitive fields will be stored in plaintext")
	}
	return nil
}

// generateKeyMaterial prints a fresh master key and PBKDF2 salt for the
// field cipher. Run once when provisioning a deployment and inject the key
// through ENCRYPTION_KEY.
func generateKeyMaterial() error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	salt, err := crypto.GenerateSalt(16)
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	fmt.Println("Generated field-encryption key material. Store these in your secret manager:")
	fmt.Println("")
	fmt.Printf("  ENCRYPTION_KEY=%s\n", hex.EncodeToString(key))
	fmt.Printf("  CRM_ENCRYPTION_SALT=%s\n", hex.EncodeToString(salt))
	fmt.Println("")
	fmt.Println("The salt is only needed when deriving the key from a passphrase instead.")
	return nil
}
