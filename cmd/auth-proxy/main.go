package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/marcogenualdo/auth-proxy/internal/auth/oidc"
	"github.com/marcogenualdo/auth-proxy/internal/cache"
	"github.com/marcogenualdo/auth-proxy/internal/config"
	"github.com/marcogenualdo/auth-proxy/internal/login"
	"github.com/marcogenualdo/auth-proxy/internal/metrics"
	"github.com/marcogenualdo/auth-proxy/internal/server"
	"github.com/marcogenualdo/auth-proxy/internal/session"
	"github.com/marcogenualdo/auth-proxy/internal/tokens"
)

const (
	version           = "1.0.0"
	defaultConfigPath = "/etc/auth-proxy/config.yaml"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	configPathShort := flag.String("c", defaultConfigPath, "path to configuration file (short)")
	showVersion := flag.Bool("version", false, "show version and exit")
	showHelp := flag.Bool("help", false, "show help and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Auth Proxy v%s\n", version)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("Auth Proxy - OIDC login sidecar with on-behalf-of proxying")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		fmt.Println("\nThe configuration file is optional; environment variables override it.")
		os.Exit(0)
	}

	cfgPath := *configPath
	if *configPathShort != defaultConfigPath {
		cfgPath = *configPathShort
	}

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info("starting auth-proxy",
		"version", version,
		"application", cfg.Server.ApplicationName,
		"login_provider", cfg.Auth.LoginProvider,
	)

	backend, err := cache.New(cfg.SessionStorage)
	if err != nil {
		return fmt.Errorf("failed to create session storage: %w", err)
	}
	store := session.NewStore(backend)
	logger.Info("session storage initialized", "type", cfg.SessionStorage.Type)

	ctx := context.Background()
	httpClient := oidc.NewHTTPClient(cfg.Auth.ProviderTimeout)

	client, err := oidc.NewClient(ctx, cfg.Auth, oidc.CallbackURL(cfg.Server.ApplicationURL), httpClient)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create OIDC client: %w", err)
	}

	exchanger, err := oidc.NewExchanger(ctx, cfg.Auth, client)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create token exchanger: %w", err)
	}
	logger.Info("identity provider initialized",
		"token_endpoint", client.TokenEndpoint(),
		"frontchannel_logout", client.SupportsFrontchannelLogout(),
		"refresh_enabled", cfg.Auth.EnableRefresh,
	)

	m := metrics.New()

	srv := server.New(cfg, server.Deps{
		Store:   store,
		Flow:    login.NewFlow(cfg, store, client, m, logger),
		Logout:  session.NewLogoutCoordinator(store, logger),
		Tokens:  tokens.NewManager(store, client, cfg.Auth, m, logger),
		Obo:     tokens.NewOboCache(store, exchanger, cfg.Auth.ClockSkew, m, logger),
		AppIDs:  exchanger,
		Metrics: m,
	}, logger)

	return srv.Start()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
