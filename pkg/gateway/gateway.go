// Package gateway provides a reusable apply-gateway library that can be
// embedded into other Go applications.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/lei/simple-apply/internal/api"
	"github.com/lei/simple-apply/internal/config"
	"github.com/lei/simple-apply/internal/remote"
	"github.com/lei/simple-apply/internal/runwatch"
	"github.com/lei/simple-apply/internal/service"
	"github.com/lei/simple-apply/pkg/logger"
)

// Gateway represents an apply-gateway instance that can be embedded in applications
type Gateway struct {
	config  *Config
	service *service.Service
	router  http.Handler
	server  *http.Server
	logger  *logger.Logger
}

// Config holds the configuration for the Gateway
type Config struct {
	// Server configuration
	Server ServerConfig

	// Authentication configuration for this gateway's own API
	Auth AuthConfig

	// Remote application-service connection
	Remote RemoteConfig

	// Run poll loop tuning
	Poller PollerConfig

	// Logger configuration
	Logging LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// APIKeys is a list of API keys for authentication
	APIKeys []APIKey
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string
	Key  string
}

// RemoteConfig holds the application-service connection settings
type RemoteConfig struct {
	URL     string
	Timeout time.Duration

	// TokenFile persists session tokens across restarts. Empty means
	// in-memory only.
	TokenFile string

	// Optional pre-seeded session
	AccessToken  string
	RefreshToken string
}

// PollerConfig tunes the run-status poll loop
type PollerConfig struct {
	Interval    time.Duration
	MaxFailures int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// New creates a new Gateway instance with the provided configuration
func New(cfg *Config) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Remote.URL == "" {
		return nil, fmt.Errorf("remote url is required")
	}

	// Initialize logger
	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	// Initialize session token storage
	var tokens remote.TokenStore
	if cfg.Remote.TokenFile != "" {
		tokens = remote.NewFileTokenStore(cfg.Remote.TokenFile)
		appLogger.Info("using file token store", "path", cfg.Remote.TokenFile)
	} else {
		tokens = remote.NewMemoryTokenStore(cfg.Remote.AccessToken, cfg.Remote.RefreshToken)
	}
	if cfg.Remote.AccessToken != "" && cfg.Remote.TokenFile != "" {
		tokens.SetTokens(cfg.Remote.AccessToken, cfg.Remote.RefreshToken)
	}

	// Initialize remote API client
	timeout := cfg.Remote.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := remote.NewClient(cfg.Remote.URL, tokens, appLogger,
		remote.WithHTTPClient(&http.Client{Timeout: timeout}),
		remote.WithSessionExpiredHandler(func() {
			appLogger.Warn("remote session expired, sign-in required")
		}),
	)
	appLogger.Info("initialized remote client", "url", cfg.Remote.URL)

	// Initialize service layer
	pollerCfg := runwatch.Config{
		Interval:    cfg.Poller.Interval,
		MaxFailures: cfg.Poller.MaxFailures,
		BackoffMin:  cfg.Poller.BackoffMin,
		BackoffMax:  cfg.Poller.BackoffMax,
	}
	svc := service.NewService(client, pollerCfg, appLogger)

	// Initialize API layer
	handlers := api.NewHandlers(svc)

	// Convert APIKeys to internal config format
	configAPIKeys := make([]config.APIKey, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		configAPIKeys[i] = config.APIKey{
			Name: key.Name,
			Key:  key.Key,
		}
	}
	authMiddleware := api.NewAuthMiddleware(configAPIKeys)
	loggingMiddleware := api.NewLoggingMiddleware(appLogger)
	router := api.NewRouter(handlers, authMiddleware, loggingMiddleware)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Gateway{
		config:  cfg,
		service: svc,
		router:  router,
		server:  srv,
		logger:  appLogger,
	}, nil
}

// Start starts the HTTP server
// This is a blocking call that will run until the context is canceled or an error occurs
func (g *Gateway) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		g.logger.Info("starting http server", "port", g.config.Server.Port)
		serverErrors <- g.server.ListenAndServe()
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-serverErrors:
		// The server is gone either way; run pollers must not outlive it
		g.service.Close()
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		g.logger.Info("shutdown signal received")

		// Graceful shutdown with 30s timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := g.server.Shutdown(shutdownCtx); err != nil {
			g.server.Close()
			g.service.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Stop run pollers after in-flight requests have drained
		g.service.Close()

		g.logger.Info("server stopped gracefully")
		return nil
	}
}

// Handler returns the http.Handler for the gateway
// Use this if you want to integrate the gateway into an existing HTTP server
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Service returns the underlying service layer
// Use this for direct programmatic access to gateway functionality
func (g *Gateway) Service() *service.Service {
	return g.service
}

// NewFromConfigFile creates a Gateway instance from a YAML configuration file.
// Environment variables referenced in the file are expanded before parsing.
func NewFromConfigFile(path string) (*Gateway, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Convert APIKeys from internal config format
	gwAPIKeys := make([]APIKey, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		gwAPIKeys[i] = APIKey{
			Name: key.Name,
			Key:  key.Key,
		}
	}

	gwConfig := &Config{
		Server: ServerConfig{
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		Auth: AuthConfig{
			APIKeys: gwAPIKeys,
		},
		Remote: RemoteConfig{
			URL:          cfg.Remote.URL,
			Timeout:      cfg.Remote.Timeout,
			TokenFile:    cfg.Remote.TokenFile,
			AccessToken:  cfg.Remote.AccessToken,
			RefreshToken: cfg.Remote.RefreshToken,
		},
		Poller: PollerConfig{
			Interval:    cfg.Poller.Interval,
			MaxFailures: cfg.Poller.MaxFailures,
			BackoffMin:  cfg.Poller.BackoffMin,
			BackoffMax:  cfg.Poller.BackoffMax,
		},
		Logging: LoggingConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		},
	}

	return New(gwConfig)
}

// NewFromEnv creates a Gateway instance from environment variables only,
// without a configuration file. APPLY_REMOTE_URL is required.
func NewFromEnv() (*Gateway, error) {
	remoteURL := os.Getenv("APPLY_REMOTE_URL")
	if remoteURL == "" {
		return nil, fmt.Errorf("APPLY_REMOTE_URL is required")
	}

	gwConfig := &Config{
		Server: ServerConfig{
			Port:         envInt("PORT", 8080),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Remote: RemoteConfig{
			URL:          remoteURL,
			TokenFile:    os.Getenv("APPLY_TOKEN_FILE"),
			AccessToken:  os.Getenv("APPLY_ACCESS_TOKEN"),
			RefreshToken: os.Getenv("APPLY_REFRESH_TOKEN"),
		},
		Logging: LoggingConfig{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
		},
	}
	if key := os.Getenv("API_KEY"); key != "" {
		gwConfig.Auth.APIKeys = []APIKey{{Name: "default", Key: key}}
	}

	return New(gwConfig)
}

func envInt(name string, fallback int) int {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
