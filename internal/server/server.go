// Package server exposes the relationship subsystem over HTTP and websockets.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"fitsocial/internal/cache"
	"fitsocial/internal/config"
	"fitsocial/internal/database"
	"fitsocial/internal/featureflags"
	"fitsocial/internal/friends"
	"fitsocial/internal/middleware"
	"fitsocial/internal/models"
	"fitsocial/internal/notifications"
	"fitsocial/internal/realtime"
	"fitsocial/internal/repository"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// notifiedTTL bounds how long the durable notified-invite log and permission
// decisions live in Redis.
const notifiedTTL = 90 * 24 * time.Hour

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	friendStore  *repository.FriendshipStore
	profileStore *repository.ProfileStore
	feed         *realtime.Feed
	kv           *cache.KV
	notifier     *notifications.Notifier
	hub          *notifications.Hub
	featureFlags *featureflags.Manager
	sessions     *SessionRegistry
}

// NewServer connects the database and Redis and builds a server on them.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil, in which case change events and notifications stay in
// this process.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("server requires a config and a database")
	}
	middleware.InitMiddleware(cfg)

	feed := realtime.NewFeed(redisClient)
	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("fitsocial-api"),
		friendStore:    repository.NewFriendshipStore(db, feed),
		profileStore:   repository.NewProfileStore(db),
		feed:           feed,
		kv:             cache.NewKV(redisClient, notifiedTTL),
		hub:            notifications.NewHub(),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}
	if redisClient != nil {
		s.notifier = notifications.NewNotifier(redisClient)
	}
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())
	s.sessions = NewSessionRegistry(s.newSession)
	return s, nil
}

// userPublisher routes per-user payloads through Redis when it is available so
// every instance holding a socket for the user can deliver it.
func (s *Server) userPublisher() notifications.UserPublisher {
	if s.notifier != nil {
		return s.notifier
	}
	return s.hub
}

func (s *Server) notificationCenter(userID string) *notifications.Center {
	return notifications.NewCenter(userID, s.kv, s.featureFlags, s.userPublisher())
}

func (s *Server) newSession(userID string) *friends.Session {
	publisher := s.userPublisher()
	return friends.NewSession(friends.SessionConfig{
		UserID: userID,
		Store:  s.friendStore,
		Events: s.feed,
		KV:     s.kv,
		Center: s.notificationCenter(userID),
		Search: friends.SearchOptions{
			Debounce: time.Duration(s.config.SearchDebounceMS) * time.Millisecond,
			Limit:    s.config.SearchLimit,
			OnResult: func(state friends.SearchState) {
				pushSearchResults(s.shutdownCtx, publisher, userID, state)
			},
		},
	})
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	protected := api.Group("", middleware.AuthRequired)

	friendsGroup := protected.Group("/friends")
	friendsGroup.Get("/", s.GetRelationships)
	friendsGroup.Post("/refresh", s.RefreshRelationships)
	friendsGroup.Get("/relations/:userId", s.GetRelation)
	friendsGroup.Get("/busy", s.GetBusy)
	friendsGroup.Get("/search", s.GetSearch)
	friendsGroup.Put("/search", s.PutSearch)
	friendsGroup.Post("/invites/:userId", middleware.RateLimit(
		s.redis, 20, 5*time.Minute, "friend_invite"), s.SendInvite)
	// Specific /:friendshipId/<action> routes before the generic delete
	friendsGroup.Post("/:friendshipId/cancel", s.friendshipAction("cancel", (*friends.Session).CancelInvite))
	friendsGroup.Post("/:friendshipId/accept", s.friendshipAction("accept", (*friends.Session).AcceptInvite))
	friendsGroup.Post("/:friendshipId/decline", s.friendshipAction("decline", (*friends.Session).DeclineInvite))
	friendsGroup.Post("/:friendshipId/acknowledge", s.friendshipAction("acknowledge", (*friends.Session).AcknowledgeNotification))
	friendsGroup.Delete("/:friendshipId", s.friendshipAction("remove", (*friends.Session).RemoveFriend))

	notificationsGroup := protected.Group("/notifications")
	notificationsGroup.Get("/permission", s.GetNotificationPermission)
	notificationsGroup.Put("/permission", s.PutNotificationPermission)

	protected.Post("/session/logout", s.Logout)

	ws := api.Group("/ws", middleware.WebSocketAuthRequired, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/", s.WebsocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: without it
// the server runs single-instance and still reports ready.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"sessions": s.sessions.Len(),
		"time":     time.Now(),
	})
}

// Start builds the Fiber app, wires the hub to Redis and listens on the configured port.
func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "FitSocial Friends API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	if s.notifier != nil {
		if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
			log.Printf("failed to start %s wiring: %v", s.hub.Name(), err)
		}
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	s.sessions.CloseAll()

	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
