package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/leasehub/internal/api"
	"github.com/charlesng35/leasehub/internal/app"
	"github.com/charlesng35/leasehub/internal/app/maintenance"
	iauth "github.com/charlesng35/leasehub/internal/auth"
	"github.com/charlesng35/leasehub/internal/cache"
	"github.com/charlesng35/leasehub/internal/database"
	"github.com/charlesng35/leasehub/internal/handlers"
	"github.com/charlesng35/leasehub/internal/identity"
	"github.com/charlesng35/leasehub/internal/middleware"
	"github.com/charlesng35/leasehub/internal/services"
	"github.com/charlesng35/leasehub/pkg/logger"
	"github.com/charlesng35/leasehub/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB          *gorm.DB
	Redis       *cache.RedisStore
	Cache       cache.Store
	Invitations *services.InvitationService
	Reconciler  *maintenance.Reconciler
	Router      *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services and HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore, err := cache.NewDatabaseStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise database cache: %w", err)
	}
	stack.Cache = dbStore

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed rate limiting", zap.Error(err))
		} else {
			stack.Cache = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	provider, err := identity.NewLocalProvider(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise identity provider: %w", err)
	}
	profiles, err := identity.NewProfileStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise profile store: %w", err)
	}
	repairer, err := identity.NewProfileRepairer(provider, profiles)
	if err != nil {
		return nil, fmt.Errorf("initialise profile repairer: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Info("smtp disabled; invitation links must be shared manually")
	}
	notifier, err := services.NewMailInvitationNotifier(mailer, cfg.Email.AppName)
	if err != nil {
		return nil, fmt.Errorf("initialise invitation notifier: %w", err)
	}

	audit, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	invitationOpts := append(cfg.Invitations.ServiceOptions(nil), services.WithAuditLog(audit))
	stack.Invitations, err = services.NewInvitationService(stack.DB, provider, profiles, notifier, invitationOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise invitation service: %w", err)
	}

	logins, err := iauth.NewLoginService(provider, jwtSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise login service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Reconciler = maintenance.NewReconciler(stack.Invitations, repairer,
			maintenance.WithSchedule(cfg.Maintenance.ReconcileSchedule),
			maintenance.WithBatchSize(cfg.Maintenance.BatchSize),
			maintenance.WithCounterPurger(dbStore),
			maintenance.WithAuditRetention(audit, cfg.Maintenance.AuditRetentionDays),
		)
		if err := stack.Reconciler.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	db := stack.DB
	cacheStore := stack.Cache
	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		JWT:         jwtSvc,
		Logins:      logins,
		Invitations: stack.Invitations,
		RateStore:   middleware.NewCacheRateStore(cacheStore),
		HealthChecks: []handlers.HealthCheck{
			{Name: "database", Check: func(ctx context.Context) error { return database.Ping(ctx, db) }},
			{Name: "cache", Check: cacheStore.Ping},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, runs a final reconcile pass and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Reconciler != nil {
		<-s.Reconciler.Stop().Done()
		if err := s.Reconciler.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown reconcile failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}
