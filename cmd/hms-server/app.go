package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/domain/admin"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/domain/pathology"
	"github.com/hms/hms/internal/domain/radiology"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/captcha"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/notify"
	"github.com/hms/hms/internal/platform/openai"
	"github.com/hms/hms/internal/platform/queue"
	"github.com/hms/hms/internal/platform/validation"
)

const (
	apiPrefix = "/api/v1"
	version   = "0.1.0"
	// devUserID is the identity given to unauthenticated requests in development.
	devUserID = "00000000-0000-0000-0000-000000000001"
)

// externals are the clients that talk to infrastructure outside Postgres.
// Nil fields fall back to in-process implementations.
type externals struct {
	tokens    cache.TokenStore
	blobs     blobstore.Store
	ses       notify.SESAPI
	sns       notify.SNSAPI
	publisher queue.Publisher
}

type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	amqp   *queue.Connection

	issuer        *auth.TokenIssuer
	blobs         blobstore.Store
	keys          blobstore.KeyBuilder
	admin         *admin.Service
	accounts      *accounts.Service
	notifications *notification.Service
	scheduling    *scheduling.Service
	pathology     *pathology.Service
	radiology     *radiology.Service
}

func (a *app) Close() {
	if a.amqp != nil {
		_ = a.amqp.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	}
}

// resolveJWTSecret returns the configured signing secret. In development a
// random per-process secret is generated when none is set.
func resolveJWTSecret(cfg *config.Config) ([]byte, bool, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), false, nil
	}
	if !cfg.IsDev() {
		return nil, false, fmt.Errorf("JWT_SECRET is required when ENV=%q", cfg.Env)
	}
	buf := make([]byte, 32)
	if _, err := crypto_rand.Read(buf); err != nil {
		return nil, false, fmt.Errorf("generate dev JWT secret: %w", err)
	}
	return []byte(hex.EncodeToString(buf)), true, nil
}

// buildChain wires the primary providers first and the fallbacks second.
func buildChain(cfg *config.Config, ses notify.SESAPI, sms notify.SNSAPI, logger zerolog.Logger) *notify.Chain {
	chain := notify.NewChain(logger.With().Str("component", "notify").Logger())
	if ses != nil && cfg.SESFromEmail != "" {
		chain.AddEmail("ses", notify.NewSESSender(ses, cfg.SESFromEmail))
	}
	if cfg.EmailFallbackConfigured() {
		chain.AddEmail("sendgrid", notify.NewSendGridSender("", cfg.SendGridAPIKey, cfg.SendGridFromEmail))
	}
	if sms != nil {
		chain.AddSMS("sns", notify.NewSNSSender(sms, cfg.SNSSenderID))
	}
	if cfg.SMSFallbackConfigured() {
		chain.AddSMS("twilio", notify.NewTwilioSender("", cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber))
	}
	return chain
}

// bootstrap loads configuration and connects every backing service.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")

	ext := externals{}
	var (
		redisClient *redis.Client
		amqpConn    *queue.Connection
	)
	cleanup := func() {
		if amqpConn != nil {
			_ = amqpConn.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		pool.Close()
	}

	if cfg.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(ctx, cache.Config{URL: cfg.RedisURL})
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		ext.tokens = cache.NewRedisStore(redisClient, "hms:")
		logger.Info().Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set; reset tokens and lockouts are kept in memory")
	}

	if cfg.AMQPURL != "" {
		amqpConn, err = queue.Dial(queue.Config{URL: cfg.AMQPURL, Queue: cfg.NotificationQueue})
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		ext.publisher = queue.NewPublisher(amqpConn)
		logger.Info().Str("queue", cfg.NotificationQueue).Msg("connected to message broker")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Warn().Err(err).Msg("AWS configuration unavailable; S3, SES and SNS disabled")
	} else if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		logger.Warn().Err(err).Msg("no AWS credentials; S3, SES and SNS disabled")
	} else {
		attachAWS(cfg, awsCfg, &ext)
	}
	if ext.blobs == nil {
		logger.Warn().Msg("S3_BUCKET not set; uploaded files are kept in memory")
	}

	a, err := newApp(cfg, logger, pool, ext)
	if err != nil {
		cleanup()
		return nil, err
	}
	a.redis = redisClient
	a.amqp = amqpConn
	return a, nil
}

func attachAWS(cfg *config.Config, awsCfg aws.Config, ext *externals) {
	if cfg.S3Bucket != "" {
		ext.blobs = blobstore.NewS3Store(s3.NewFromConfig(awsCfg), cfg.S3Bucket)
	}
	if cfg.SESFromEmail != "" {
		ext.ses = sesv2.NewFromConfig(awsCfg)
	}
	ext.sns = sns.NewFromConfig(awsCfg)
}

// newApp builds the services. A nil pool is accepted so the router can be
// assembled without a database.
func newApp(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, ext externals) (*app, error) {
	secret, generated, err := resolveJWTSecret(cfg)
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}
	if ext.tokens == nil {
		ext.tokens = cache.NewMemoryStore()
	}
	if ext.blobs == nil {
		ext.blobs = blobstore.NewMemoryStore()
	}

	withTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		issuer: auth.NewTokenIssuer(secret, cfg.JWTTTL),
		blobs:  ext.blobs,
	}

	users := accounts.NewUserRepoPG(pool)
	people := accounts.NewResolver(users)

	a.admin = admin.NewService(admin.NewPermissionRepoPG(pool), admin.NewFeatureRepoPG(pool),
		admin.NewAccessRepoPG(pool), admin.NewStatsRepoPG(pool), people,
		logger.With().Str("component", "admin").Logger())

	chain := buildChain(cfg, ext.ses, ext.sns, logger)
	logger.Info().Int("email_providers", chain.EmailProviders()).Int("sms_providers", chain.SMSProviders()).
		Msg("notification providers configured")
	a.notifications = notification.NewService(notification.NewLogRepoPG(pool), notification.NewTemplateRepoPG(pool),
		notification.NewScheduledRepoPG(pool), notification.NewPreferenceRepoPG(pool), people, chain,
		notify.NewTemplateEngine(), logger.With().Str("component", "notification").Logger())
	if ext.publisher != nil {
		a.notifications.SetPublisher(ext.publisher)
	}

	verifier := captcha.NewVerifier("", cfg.RecaptchaSecret, cfg.RecaptchaMinScore)
	opts := accounts.Options{
		Notifier: a.notifications,
		ResetURL: cfg.PasswordResetURL,
		ResetTTL: cfg.PasswordResetTTL,
		WithTx:   withTx,
	}
	if verifier.Enabled() {
		opts.Captcha = verifier
	} else {
		logger.Warn().Msg("RECAPTCHA_SECRET not set; captcha checks disabled")
	}
	a.accounts = accounts.NewService(users, accounts.NewStaffProfileRepoPG(pool), accounts.NewPatientProfileRepoPG(pool),
		ext.tokens, a.issuer, opts, logger.With().Str("component", "accounts").Logger())

	a.scheduling = scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), people, a.notifications, withTx, logger)

	a.pathology = pathology.NewService(pathology.NewOrderRepoPG(pool), pathology.NewSpecimenRepoPG(pool),
		pathology.NewReportRepoPG(pool), people, logger)
	a.pathology.SetNotifier(a.notifications)
	a.pathology.SetStorage(ext.blobs, a.keys)
	a.pathology.SetTx(withTx)

	calc := radiology.NewCalculator(cfg.RADSJitter, radiology.RandomJitter(rand.New(rand.NewSource(time.Now().UnixNano()))))
	a.radiology = radiology.NewService(radiology.NewOrderRepoPG(pool), radiology.NewStudyRepoPG(pool),
		radiology.NewReportRepoPG(pool), people, calc, logger)
	a.radiology.SetNotifier(a.notifications)
	a.radiology.SetStorage(ext.blobs, a.keys)
	a.radiology.SetTx(withTx)
	summarizer := openai.NewClient(openai.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel})
	if summarizer.Configured() {
		a.radiology.SetSummarizer(summarizer)
	} else {
		logger.Info().Msg("OPENAI_API_KEY not set; radiology summaries are simulated")
	}

	return a, nil
}

func publicRoutes() []string {
	paths := []string{"/health", "/health/db"}
	for _, p := range accounts.PublicRoutes {
		paths = append(paths, apiPrefix+p)
	}
	return paths
}

// authRateLimit applies the stricter limiter to the /auth endpoints only.
func authRateLimit() echo.MiddlewareFunc {
	limited := middleware.RateLimit(middleware.AuthRateLimitConfig())
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		strict := limited(next)
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, apiPrefix+"/auth/") {
				return strict(c)
			}
			return next(c)
		}
	}
}

func (a *app) router() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	skip := auth.PublicPaths(publicRoutes()...)
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(a.issuer, devUserID, skip))
	} else {
		e.Use(auth.JWTMiddleware(a.issuer, skip))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}

	api := e.Group(apiPrefix)
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rl))
	api.Use(authRateLimit())

	perms := a.admin

	accounts.NewHandler(a.accounts, perms).RegisterRoutes(api)
	admin.NewHandler(a.admin).RegisterRoutes(api)
	notification.NewHandler(a.notifications, perms).RegisterRoutes(api)
	scheduling.NewHandler(a.scheduling, perms).RegisterRoutes(api)
	pathology.NewHandler(a.pathology, perms).RegisterRoutes(api)
	radiology.NewHandler(a.radiology, perms).RegisterRoutes(api)
	blobstore.NewHandler(a.blobs, a.keys).RegisterRoutes(api)

	return e
}

func runServer() error {
	ctx, stop := signalContext()
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	e := a.router()
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + a.cfg.Port
		a.logger.Info().Str("addr", addr).Str("env", a.cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
