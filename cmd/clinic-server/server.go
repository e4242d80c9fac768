package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/notification"
)

// Identity used by DevAuthMiddleware when a request carries no X-User-* headers.
const (
	devUserID = "00000000-0000-0000-0000-000000000001"
	devRole   = auth.RoleAdministrator
)

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid time zone")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		AppName:  "clinic-server",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Notifications
	relays, closeRelays := dialRelays(ctx, cfg, logger)
	defer closeRelays()
	outbox := notification.NewOutbox(pool, notification.NewTemplateEngine(loc), logger, relays...)

	// Scheduling
	schedules := scheduling.NewScheduleStorePG(pool, loc)
	appts := scheduling.NewAppointmentStorePG(pool, outbox)
	doctors := scheduling.NewDoctorDirectoryPG(pool)
	patients := scheduling.NewPatientDirectoryPG(pool)
	tx := db.NewTransactor(pool)
	cal := scheduling.NewCalendar(loc)

	bookingSvc := scheduling.NewBookingService(schedules, appts, doctors, patients, tx, cal, logger)
	scheduleSvc := scheduling.NewScheduleService(schedules, appts, doctors, tx, cal, logger)
	handler := scheduling.NewHandler(bookingSvc, scheduleSvc)

	e := newEcho(cfg, logger, handler, pool)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newEcho builds the HTTP server: global middleware, authentication, the
// rate-limited /api/v1 group and the public health routes.
func newEcho(cfg *config.Config, logger zerolog.Logger, handler *scheduling.Handler, pinger db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.Timeout()))

	// Auth
	if cfg.IsDev() {
		logger.Warn().Msg("using development auth: X-User-ID and X-User-Role headers are trusted")
		e.Use(auth.DevAuthMiddleware(devUserID, devRole))
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pinger, db.DefaultSchema))

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	api := e.Group("/api/v1", middleware.RateLimit(rl))
	handler.RegisterRoutes(api)

	return e
}

// dialRelays connects the optional Redis and AMQP relays. A relay that cannot
// connect is skipped; notifications still land in the outbox table.
func dialRelays(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]notification.Relay, func()) {
	var relays []notification.Relay
	var closers []func() error

	if cfg.RedisURL != "" {
		client, err := notification.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, relay disabled")
		} else {
			relays = append(relays, notification.NewRedisRelay(client, cfg.NotifyRedisChannel))
			closers = append(closers, client.Close)
			logger.Info().Str("channel", cfg.NotifyRedisChannel).Msg("redis relay enabled")
		}
	}

	if cfg.AMQPURL != "" {
		relay, closeFn, err := notification.DialAMQP(cfg.AMQPURL, cfg.NotifyAMQPExchange)
		if err != nil {
			logger.Warn().Err(err).Msg("amqp unavailable, relay disabled")
		} else {
			relays = append(relays, relay)
			closers = append(closers, closeFn)
			logger.Info().Str("exchange", cfg.NotifyAMQPExchange).Msg("amqp relay enabled")
		}
	}

	return relays, func() {
		for _, fn := range closers {
			if err := fn(); err != nil {
				logger.Warn().Err(err).Msg("failed to close relay")
			}
		}
	}
}
