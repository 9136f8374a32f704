package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/gateway"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/secrets"
)

// application holds all application components.
type application struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	tracing    *observability.Tracing
	gateway    *gateway.Gateway
	reloader   *serviceReloader
}

// loadConfig loads the file and applies command line overrides.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	overridden := false
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
		overridden = true
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
		overridden = true
	}
	if flags.addr != "" {
		host, port, err := splitAddr(flags.addr)
		if err != nil {
			return nil, err
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
		overridden = true
	}

	if overridden {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}
	return host, port, nil
}

// resolveSecrets replaces secret references in cfg. A Vault provider is
// registered when vault.address is set.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) error {
	opts := []secrets.ResolverOption{secrets.WithLogger(logger.Named("secrets"))}
	if reg != nil {
		opts = append(opts, secrets.WithMetrics(secrets.NewMetrics(cfg.Metrics.Namespace, reg)))
	}

	if cfg.Vault.Address != "" {
		vault, err := secrets.NewVaultProvider(secrets.VaultConfig{
			Address:   cfg.Vault.Address,
			Token:     cfg.Vault.Token,
			Namespace: cfg.Vault.Namespace,
			Timeout:   cfg.Vault.Timeout.Duration(),
		}, logger.Named("vault"))
		if err != nil {
			return err
		}
		opts = append(opts, secrets.WithProvider(vault))
	}

	return cfg.ResolveSecrets(ctx, secrets.NewResolver(opts...).Resolve)
}

// newApplication builds the logger, tracer, registry and gateway from cfg.
func newApplication(ctx context.Context, cfg *config.Config, configPath string) (*application, error) {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("starting edgegw",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.Int("services", len(cfg.Services)),
	)

	reg := observability.NewRegistry(cfg.Metrics.Namespace, version)

	if err := resolveSecrets(ctx, cfg, logger, reg); err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}
	warnUnauthenticated(cfg, logger)

	tracing, err := observability.NewTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	opts, err := cfg.GatewayOptions()
	if err != nil {
		_ = tracing.Shutdown(ctx)
		_ = logger.Sync()
		return nil, err
	}
	opts.Version = version
	opts.Logger = logger
	opts.Registry = reg
	opts.TracerProvider = tracing.Provider()

	gw, err := gateway.New(opts)
	if err != nil {
		_ = tracing.Shutdown(ctx)
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &application{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		tracing:    tracing,
		gateway:    gw,
		reloader:   newServiceReloader(gw, cfg.Services, logger.Named("reload")),
	}, nil
}

// warnUnauthenticated logs services that will answer AUTH_ERROR because no
// secret is configured.
func warnUnauthenticated(cfg *config.Config, logger *zap.Logger) {
	if cfg.Auth.Enabled() {
		return
	}
	for _, s := range cfg.Services {
		if s.Auth != nil && auth.Mode(s.Auth.Mode) == auth.ModeRequired {
			logger.Warn("service requires authentication but auth.secret is not set",
				zap.String("service", s.Name),
			)
		}
	}
}

// run starts the gateway and blocks until ctx is cancelled or the server
// fails, then shuts everything down.
func (a *application) run(ctx context.Context) error {
	defer func() { _ = a.logger.Sync() }()

	if err := a.gateway.Start(ctx); err != nil {
		a.shutdown()
		return err
	}

	watcher := a.startConfigWatcher(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case err := <-a.gateway.Errors():
		a.logger.Error("gateway server failed", zap.Error(err))
		runErr = err
	}

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			a.logger.Warn("failed to stop config watcher", zap.Error(err))
		}
	}
	a.shutdown()
	return runErr
}

// startConfigWatcher starts hot reload of the services section. A watcher
// that cannot start is logged and skipped.
func (a *application) startConfigWatcher(ctx context.Context) *config.Watcher {
	watcher, err := config.NewWatcher(a.configPath, a.reloader.Apply,
		config.WithLogger(a.logger.Named("config")),
		config.WithInitialConfig(a.cfg),
	)
	if err != nil {
		a.logger.Warn("failed to create config watcher", zap.Error(err))
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("failed to start config watcher", zap.Error(err))
		_ = watcher.Stop()
		return nil
	}
	return watcher
}

func (a *application) shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.gateway.Close(ctx); err != nil && !errors.Is(err, gateway.ErrGatewayNotRunning) {
		a.logger.Error("failed to stop gateway gracefully", zap.Error(err))
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown tracer", zap.Error(err))
	}
	a.logger.Info("edgegw stopped")
}

// tokenRequest describes a development token.
type tokenRequest struct {
	Subject     string
	Email       string
	Role        string
	Permissions []string
	TTL         time.Duration
}

// issueToken signs a token with the configured secret and writes it to w.
func issueToken(w io.Writer, cfg *config.Config, req tokenRequest) error {
	if !cfg.Auth.Enabled() {
		return errors.New("auth.secret is not configured")
	}
	if req.Subject == "" {
		return errors.New("token subject is required")
	}

	issuer, err := auth.NewIssuer(auth.Config{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return err
	}
	token, err := issuer.Issue(auth.Principal{
		ID:          req.Subject,
		Email:       req.Email,
		Role:        req.Role,
		Permissions: req.Permissions,
	}, req.TTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
