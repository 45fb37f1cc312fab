package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/tourfolio/apiserver/config"
	"github.com/tourfolio/apiserver/internal/db"
	"github.com/tourfolio/apiserver/internal/handlers"
	"github.com/tourfolio/apiserver/internal/limiter"
	"github.com/tourfolio/apiserver/internal/logging"
	"github.com/tourfolio/apiserver/internal/mail"
	"github.com/tourfolio/apiserver/internal/mq"
	"github.com/tourfolio/apiserver/internal/services"
	"github.com/tourfolio/apiserver/internal/storage"
	"github.com/tourfolio/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
	rdb        *redis.Client
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	userService := services.NewUserService(userRepo)
	mailer := mail.NewSMTPMailer(cfg.SMTP)

	broker, err := NewBroker(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	var events *mq.Publisher
	if broker != nil {
		events = mq.NewPublisher(broker, log)
	}

	var rdb *redis.Client
	var throttle *limiter.Limiter
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		throttle = limiter.New(rdb, cfg.Redis.MaxAttempts, cfg.Redis.Window)
	}

	avatars, err := NewAvatars(ctx, cfg)
	if err != nil {
		closeAll(dbConn, broker, rdb)
		return nil, err
	}

	authHandler, err := handlers.NewAuthHandler(userService, handlers.AuthConfig{
		JWTSecret:    cfg.JWT.Secret,
		TokenTTL:     cfg.JWT.TTL,
		CookieDays:   cfg.JWT.CookieDays,
		SecureCookie: cfg.IsProduction(),
		ResetURLBase: cfg.SMTP.ResetURLBase,
	}, mailer, events, throttle, log)
	if err != nil {
		closeAll(dbConn, broker, rdb)
		return nil, err
	}

	userHandler := handlers.NewUserHandler(userService, avatars)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userHandler, authHandler.RequireAuth)
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
		broker:     broker,
		rdb:        rdb,
	}, nil
}

// NewBroker builds the configured auth-event broker, or nil when none is
// configured.
func NewBroker(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.MQ.Backend {
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.MQ.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.MQ.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.MQ.Backend)
	}
}

// NewAvatars builds the configured profile-photo store, or nil when no
// object storage is configured.
func NewAvatars(ctx context.Context, cfg config.Config) (*storage.Avatars, error) {
	var backend storage.ObjectStorage
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.Storage.GCS)
		if err != nil {
			return nil, err
		}
		backend = client
	case "minio":
		client, err := storage.NewMinioClient(cfg.Storage.Minio)
		if err != nil {
			return nil, err
		}
		backend = client
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	avatars := storage.NewAvatars(backend)
	if err := avatars.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return avatars, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	closeAll(s.db, s.broker, s.rdb)
	return s.httpServer.Close()
}

func closeAll(db *sql.DB, broker *mq.MQ, rdb *redis.Client) {
	if db != nil {
		_ = db.Close()
	}
	if broker != nil {
		_ = broker.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
