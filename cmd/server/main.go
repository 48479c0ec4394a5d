package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/api"
	"github.com/troikatech/carecall/internal/api/handlers"
	"github.com/troikatech/carecall/internal/callrecord"
	"github.com/troikatech/carecall/internal/convai"
	"github.com/troikatech/carecall/internal/outbound"
	"github.com/troikatech/carecall/internal/profile"
	"github.com/troikatech/carecall/internal/session"
	"github.com/troikatech/carecall/internal/store"
	"github.com/troikatech/carecall/pkg/audit"
	"github.com/troikatech/carecall/pkg/elevenlabs"
	"github.com/troikatech/carecall/pkg/env"
	"github.com/troikatech/carecall/pkg/logger"
	"github.com/troikatech/carecall/pkg/mongo"
	"github.com/troikatech/carecall/pkg/otel"
	"github.com/troikatech/carecall/pkg/twilio"
)

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing(otel.TracingConfig{
			ServiceName:    "carecall",
			ServiceVersion: "1.0.0",
			Environment:    cfg.AppEnv,
			Endpoint:       cfg.OTELEndpoint,
		})
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer shutdown(context.Background())
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	logger.Log.Info("Starting CareCall bridge",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
		zap.String("outbound_provider", cfg.OutboundProvider),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, err := mongo.NewClient(ctx, mongo.Options{
		URI:             cfg.MongoURI,
		DBName:          cfg.DBName,
		Username:        cfg.MongoUser,
		Password:        cfg.MongoServiceKey,
		PreferSecondary: true,
	})
	cancel()
	if err != nil {
		logger.Log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
		}
	}()

	redisClient := connectRedis(cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	db := store.NewMongoStore(mongoClient)
	assembler := profile.NewAssembler(db, logger.Log)
	resolver := convai.NewResolver(assembler, logger.Log)

	agentClient := elevenlabs.NewClient(elevenlabs.Config{
		BaseURL:    cfg.ElevenLabsBaseURL,
		APIKey:     cfg.ElevenLabsAPIKey,
		Timeout:    15 * time.Second,
		RetryCount: 2,
	}, logger.Log)

	orchestrator := session.NewOrchestrator(
		session.NewAgentDialer(agentClient, cfg.ElevenLabsAgentID),
		resolver,
		session.Config{
			ConnectTimeout:  cfg.AgentConnectTimeout,
			TeardownTimeout: cfg.SessionTeardownTimeout,
		},
		logger.Log,
	)
	sessions := &sessionTracker{next: orchestrator}

	var validator *twilio.Validator
	if cfg.TwilioValidateRequests {
		validator = twilio.NewValidator(cfg.TwilioAuthToken)
	}

	health := map[string]handlers.Pinger{"database": mongoClient.Ping}
	if redisClient != nil {
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	baseCtx, stopSessions := context.WithCancel(context.Background())
	defer stopSessions()

	h := handlers.NewHandler(cfg, handlers.Dependencies{
		Callers:     db,
		Assembler:   assembler,
		Resolver:    resolver,
		Persister:   callrecord.NewPersister(db, logger.Log),
		Sessions:    sessions,
		Initiator:   outbound.NewInitiator(assembler, outboundProvider(cfg, agentClient), logger.Log),
		Validator:   validator,
		Audit:       audit.NewMongoRecorder(mongoClient),
		Health:      health,
		BaseContext: baseCtx,
	})

	router := api.NewRouter(cfg, h, redisClient)

	// No WriteTimeout: media streams are hijacked long-lived connections
	// and manage their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Log.Info("CareCall bridge listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	stopSessions()
	if err := sessions.wait(ctx); err != nil {
		logger.Log.Warn("Media sessions still open at exit", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}

func connectRedis(url string) *redis.Client {
	if url == "" {
		logger.Log.Warn("REDIS_URL not set, outbound calls rate limited per process without idempotency keys")
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		logger.Log.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	return client
}

func outboundProvider(cfg *env.Config, agentClient *elevenlabs.Client) outbound.Provider {
	if cfg.OutboundProvider == env.ProviderTwilio {
		caller := twilio.NewCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger.Log)
		return outbound.NewTwilioProvider(caller, cfg.PublicHost)
	}
	return outbound.NewAgentPlatformProvider(agentClient, cfg.ElevenLabsAgentID, cfg.ElevenLabsAgentPhoneID)
}

// sessionTracker lets shutdown wait for media sessions, which http.Server
// does not track once the connection is hijacked.
type sessionTracker struct {
	next handlers.SessionServer
	wg   sync.WaitGroup
}

func (t *sessionTracker) Serve(ctx context.Context, stream session.MediaStream) error {
	t.wg.Add(1)
	defer t.wg.Done()
	return t.next.Serve(ctx, stream)
}

func (t *sessionTracker) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
