package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/egolife/directory/config"
	"github.com/egolife/directory/internal/db"
	"github.com/egolife/directory/internal/handlers"
	"github.com/egolife/directory/internal/mq"
	"github.com/egolife/directory/internal/search"
	"github.com/egolife/directory/internal/services"
	"github.com/egolife/directory/internal/storage"
	"github.com/egolife/directory/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Server wraps the HTTP server, router and owned connections.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	rdb        *redis.Client
	broker     *mq.MQ
	log        *zap.Logger
}

// New constructs a Server with all directory dependencies wired.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	userStore := store.NewUserStore(dbConn)
	index := search.New(rdb, cfg.Redis.Namespace, log)
	accountService := services.NewAccountService(userStore, index, log)

	broker, err := newBroker(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		_ = rdb.Close()
		return nil, err
	}
	if broker != nil {
		if strings.TrimSpace(cfg.Reset.Secret) == "" {
			_ = dbConn.Close()
			_ = rdb.Close()
			_ = broker.Close()
			return nil, errors.New("RESET_TOKEN_SECRET is required when a broker is configured")
		}
		accountService.WithNotifier(broker, cfg.Reset)
	}

	avatars, err := newAvatarStore(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		_ = rdb.Close()
		if broker != nil {
			_ = broker.Close()
		}
		return nil, err
	}
	if avatars != nil {
		if err := avatars.EnsureBucket(ctx); err != nil {
			log.Warn("avatar bucket check failed", zap.Error(err))
		}
		accountService.WithAvatars(avatars)
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, accountService)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		rdb:        rdb,
		broker:     broker,
		log:        log,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.log.Info("server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown, closing owned connections.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.broker != nil {
		_ = s.broker.Close()
	}
	_ = s.log.Sync()
	return s.httpServer.Close()
}

func newBroker(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Broker.Backend)) {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.Broker.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.Broker.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
	}
}

func newAvatarStore(ctx context.Context, cfg config.Config) (*storage.AvatarStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "":
		return nil, nil
	case "minio":
		client, err := storage.NewMinioClient(cfg.Storage.Minio)
		if err != nil {
			return nil, err
		}
		return storage.NewAvatarStore(client), nil
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.Storage.GCS)
		if err != nil {
			return nil, err
		}
		return storage.NewAvatarStore(client), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
