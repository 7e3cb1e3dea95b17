package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prudhvinik1/inboxsync/internal/cache"
	"github.com/prudhvinik1/inboxsync/internal/changefeed"
	"github.com/prudhvinik1/inboxsync/internal/config"
	"github.com/prudhvinik1/inboxsync/internal/database"
	"github.com/prudhvinik1/inboxsync/internal/entitlements"
	"github.com/prudhvinik1/inboxsync/internal/events"
	"github.com/prudhvinik1/inboxsync/internal/handlers"
	"github.com/prudhvinik1/inboxsync/internal/logger"
	"github.com/prudhvinik1/inboxsync/internal/realtime"
	"github.com/prudhvinik1/inboxsync/internal/repositories"
	"github.com/prudhvinik1/inboxsync/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type stores struct {
	source        repositories.ConversationSource
	conversations repositories.ConversationRepository
	profiles      repositories.ProfileRepository
	channels      repositories.ChannelRepository
	clients       repositories.ClientRepository
	roles         repositories.RoleRepository
}

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	// A broken plan table must stop the process before it serves requests.
	evaluator, err := entitlements.NewEvaluator(entitlements.DefaultPlanLimits)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid plan limits")
	}

	// Initialize database connections
	var postgresPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		postgresPool, err = database.NewPostgresPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create postgres pool")
		}
		defer postgresPool.Close()

		if cfg.Backend == config.BackendPostgres {
			if err := database.Migrate(ctx, postgresPool); err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database")
			}
		}
	}

	var redisClient *redis.Client
	if cfg.ChangeFeed == config.FeedRedis {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create redis client")
		}
		defer redisClient.Close()
	}

	st := newStores(cfg, postgresPool)
	feed, publisher, err := newFeed(cfg, postgresPool, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create change feed")
	}

	bus := events.NewBus()
	hub := services.NewSyncHub(st.source, feed, bus, realtime.Options{
		BaseDelay:    cfg.ReconnectBaseDelay,
		MaxAttempts:  cfg.MaxReconnectAttempts,
		FetchTimeout: cfg.FetchTimeout,
	}, cfg.RefreshDebounce)

	var conversationService *services.ConversationService
	if st.conversations != nil {
		conversationService = services.NewConversationService(st.conversations, publisher, bus)
	}

	// Initialize HTTP Server
	router := handlers.NewRouter(handlers.Dependencies{
		Auth:           services.NewAuthService(cfg.JWTSecret, cfg.JWTAudience),
		Hub:            hub,
		Entitlements:   services.NewEntitlementService(st.profiles, st.channels, st.clients, evaluator),
		Conversations:  conversationService,
		Roles:          cache.NewRoleCache(st.roles, cfg.RoleCacheTTL),
		Bus:            bus,
		RefreshTimeout: cfg.FetchTimeout,
	})

	// Start Server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Info().
		Str("port", cfg.ServerPort).
		Str("backend", cfg.Backend).
		Str("change_feed", cfg.ChangeFeed).
		Msg("Starting server")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	hub.Close()
	log.Info().Msg("Server stopped gracefully")
}

func newStores(cfg *config.Config, pool *pgxpool.Pool) stores {
	if cfg.Backend == config.BackendSupabase {
		rest := repositories.NewPostgRESTClient(cfg.SupabaseURL, cfg.SupabaseKey)
		return stores{
			source:   repositories.NewPostgRESTConversationSource(rest),
			profiles: repositories.NewPostgRESTProfileRepository(rest),
			channels: repositories.NewPostgRESTChannelRepository(rest),
			clients:  repositories.NewPostgRESTClientRepository(rest),
			roles:    repositories.NewPostgRESTRoleRepository(rest),
		}
	}

	conversations := repositories.NewPostgresConversationRepository(pool)
	return stores{
		source:        conversations,
		conversations: conversations,
		profiles:      repositories.NewPostgresProfileRepository(pool),
		channels:      repositories.NewPostgresChannelRepository(pool),
		clients:       repositories.NewPostgresClientRepository(pool),
		roles:         repositories.NewPostgresRoleRepository(pool),
	}
}

// newFeed returns the change feed and, when the feed does not observe the
// table itself, the publisher writes must go through.
func newFeed(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (changefeed.Feed, changefeed.Publisher, error) {
	switch cfg.ChangeFeed {
	case config.FeedRedis:
		return changefeed.NewRedisFeed(redisClient), changefeed.NewRedisPublisher(redisClient), nil
	case config.FeedSupabase:
		feed, err := changefeed.NewSupabaseFeed(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			return nil, nil, err
		}
		return feed, nil, nil
	default:
		return changefeed.NewPostgresFeed(pool), nil, nil
	}
}
