package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/trungvo-ux/windows97/internal/adapter/cache"
	"github.com/trungvo-ux/windows97/internal/adapter/genai"
	"github.com/trungvo-ux/windows97/internal/config"
	httptransport "github.com/trungvo-ux/windows97/internal/http"
	"github.com/trungvo-ux/windows97/internal/http/handler"
	httpmiddleware "github.com/trungvo-ux/windows97/internal/http/middleware"
	"github.com/trungvo-ux/windows97/internal/identity"
	apimiddleware "github.com/trungvo-ux/windows97/internal/middleware"
	"github.com/trungvo-ux/windows97/internal/ratelimit"
	"github.com/trungvo-ux/windows97/internal/repository"
	"github.com/trungvo-ux/windows97/internal/server"
	"github.com/trungvo-ux/windows97/internal/service"
	"github.com/trungvo-ux/windows97/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func runServe(*cobra.Command, []string) error {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newStore,
			newTokenRepository,
			newTokenGenerator,
			newAuthService,
			newGenerator,
			service.NewAppletService,
			service.NewChatService,
			newAppletPolicy,
			newChatPolicy,
			handler.NewAppletAIHandler,
			handler.NewChatHandler,
			handler.NewHealthHandler,
			newResolver,
			newAuthMiddleware,
			newLimiter,
			apimiddleware.NewRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(startHTTPServer),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.KeyValueStore, error) {
	store, closeFn, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closeFn()
		},
	})
	return store, nil
}

// openStore connects the configured key-value backend. The memory driver is
// process local and only meant for development.
func openStore(cfg config.Config, logger *zap.Logger) (repository.KeyValueStore, func() error, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, tokens and counters are not shared")
		return cacheadapter.NewMemoryStore(nil), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisTimeout,
		ReadTimeout:  cfg.RedisTimeout,
		WriteTimeout: cfg.RedisTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return cacheadapter.NewRedisStore(client), client.Close, nil
}

func newTokenRepository(store repository.KeyValueStore) repository.TokenRepository {
	return repository.NewKVTokenRepo(store)
}

func newTokenGenerator() service.TokenGenerator {
	return service.HexTokenGenerator{}
}

func newAuthService(tokens repository.TokenRepository, generator service.TokenGenerator, cfg config.Config, logger *zap.Logger, tel *telemetry.Provider) *service.AuthService {
	return service.NewAuthService(tokens, generator, cfg, logger).WithTracer(tel.Tracer(telemetry.ComponentAuth))
}

func newLimiter(store repository.KeyValueStore, tel *telemetry.Provider) *ratelimit.Limiter {
	return ratelimit.NewLimiter(store).WithTracer(tel.Tracer(telemetry.ComponentRateLimit))
}

func newGenerator(cfg config.Config, logger *zap.Logger, tel *telemetry.Provider) genai.Generator {
	return genai.NewGeminiClient(genai.Config{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Timeout:    cfg.GenerationTimeout,
		RPS:        cfg.GenerationRPS,
		Burst:      cfg.GenerationBurst,
		MaxRetries: cfg.GenerationRetries,
		Logger:     logger,
		Tracer:     tel.Tracer(telemetry.ComponentGenAI),
	})
}

func newAppletPolicy(cfg config.Config) ratelimit.AppletPolicy {
	return ratelimit.AppletPolicy{
		AnonText:  cfg.AppletAnonTextLimit,
		AnonImage: cfg.AppletAnonImageLimit,
		AuthText:  cfg.AppletAuthTextLimit,
		AuthImage: cfg.AppletAuthImageLimit,
		Window:    cfg.AppletWindow,
	}
}

func newChatPolicy(cfg config.Config) ratelimit.ChatPolicy {
	return ratelimit.ChatPolicy{Limit: cfg.ChatMessageLimit, Window: cfg.ChatWindow}
}

func newResolver(cfg config.Config) *identity.Resolver {
	return identity.NewResolver(cfg.PlatformIPHeader)
}

func newAuthMiddleware(resolver *identity.Resolver, authService *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Resolver: resolver, AuthService: authService}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
