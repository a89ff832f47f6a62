package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	_ "github.com/txn2/devops-bootcamp/internal/apidocs" // register swagger docs

	"github.com/txn2/devops-bootcamp/pkg/api"
	"github.com/txn2/devops-bootcamp/pkg/audit"
	auditpg "github.com/txn2/devops-bootcamp/pkg/audit/postgres"
	"github.com/txn2/devops-bootcamp/pkg/auth"
	"github.com/txn2/devops-bootcamp/pkg/database/migrate"
	"github.com/txn2/devops-bootcamp/pkg/health"
	pkghttp "github.com/txn2/devops-bootcamp/pkg/http"
	"github.com/txn2/devops-bootcamp/pkg/learning"
	learningpg "github.com/txn2/devops-bootcamp/pkg/learning/postgres"
	"github.com/txn2/devops-bootcamp/pkg/metrics"
	"github.com/txn2/devops-bootcamp/pkg/orchestrator/docker"
	"github.com/txn2/devops-bootcamp/pkg/orchestrator/ecs"
	"github.com/txn2/devops-bootcamp/pkg/orchestrator/memory"
	"github.com/txn2/devops-bootcamp/pkg/session"
	sessionpg "github.com/txn2/devops-bootcamp/pkg/session/postgres"
)

const dbPingTimeout = 5 * time.Second

// Platform is the main platform facade.
type Platform struct {
	config    *Config
	version   string
	lifecycle *Lifecycle

	// Storage
	db            *sql.DB
	ownsDB        bool
	sessionStore  session.Store
	learningStore learning.Store
	auditLogger   audit.Logger

	// Sandbox lifecycle
	orchestrator session.Orchestrator
	manager      *session.Manager
	reaper       *session.Reaper

	learning      *learning.Service
	authenticator auth.Authenticator
	metrics       *metrics.Recorder
	checker       *health.Checker
	handler       http.Handler
}

// New creates a new platform instance. version is reported by /api/health.
func New(ctx context.Context, version string, opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:    options.Config,
		version:   version,
		lifecycle: NewLifecycle(),
		checker:   health.NewChecker(),
		metrics:   metrics.NewRecorder(nil),
	}

	if err := p.initializeComponents(ctx, options); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("initializing components: %w", err)
	}
	return p, nil
}

// initializeComponents initializes all platform components.
func (p *Platform) initializeComponents(ctx context.Context, opts *Options) error {
	if err := p.initDatabase(ctx, opts); err != nil {
		return err
	}
	if err := p.initStores(ctx, opts); err != nil {
		return err
	}
	if err := p.initOrchestrator(ctx, opts); err != nil {
		return err
	}
	if err := p.initAuth(ctx, opts); err != nil {
		return err
	}
	p.initServices()
	p.registerLifecycle()
	return nil
}

// initDatabase opens PostgreSQL when a DSN is configured and applies
// migrations when auto_migrate is set.
func (p *Platform) initDatabase(ctx context.Context, opts *Options) error {
	if opts.DB != nil {
		p.db = opts.DB
	} else if p.config.Database.DSN != "" {
		db, err := openDB(ctx, p.config.Database)
		if err != nil {
			return err
		}
		p.db = db
		p.ownsDB = true
	}

	if p.db != nil && p.config.Database.AutoMigrate {
		if err := migrate.Run(p.db); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}
	return nil
}

func openDB(ctx context.Context, cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// initStores selects PostgreSQL stores when a database is available and
// in-memory stores otherwise, then seeds the challenge catalog.
func (p *Platform) initStores(ctx context.Context, opts *Options) error {
	switch {
	case opts.SessionStore != nil:
		p.sessionStore = opts.SessionStore
	case p.db != nil:
		p.sessionStore = sessionpg.New(p.db, sessionpg.Config{Retention: p.config.Database.SessionRetention})
	default:
		p.sessionStore = session.NewMemoryStore()
	}

	if p.config.Audit.Enabled {
		if p.db != nil {
			p.auditLogger = auditpg.New(p.db, auditpg.Config{RetentionDays: p.config.Audit.RetentionDays})
		} else {
			p.auditLogger = audit.NewMemoryLogger(0)
		}
	}

	switch {
	case opts.LearningStore != nil:
		p.learningStore = opts.LearningStore
	case p.db != nil:
		p.learningStore = learningpg.New(p.db)
	default:
		p.learningStore = learning.NewMemoryStore()
	}

	if !p.config.Learning.ShouldSeed() {
		return nil
	}
	challenges, err := p.loadChallenges()
	if err != nil {
		return err
	}
	if err := learning.SeedChallenges(ctx, p.learningStore, challenges); err != nil {
		return err
	}
	slog.Info("challenge catalog seeded", "count", len(challenges))
	return nil
}

func (p *Platform) loadChallenges() ([]learning.Challenge, error) {
	if path := p.config.Learning.ChallengesPath; path != "" {
		return learning.LoadChallenges(path)
	}
	return learning.DefaultChallenges()
}

// initOrchestrator creates the configured sandbox backend.
func (p *Platform) initOrchestrator(ctx context.Context, opts *Options) error {
	if opts.Orchestrator != nil {
		p.orchestrator = opts.Orchestrator
		return nil
	}

	cfg := p.config.Orchestrator
	switch cfg.Provider {
	case ProviderECS:
		orch, err := ecs.New(ctx, cfg.ECS)
		if err != nil {
			return fmt.Errorf("creating ecs orchestrator: %w", err)
		}
		p.orchestrator = orch
	case ProviderDocker:
		orch, err := docker.New(cfg.Docker)
		if err != nil {
			return fmt.Errorf("creating docker orchestrator: %w", err)
		}
		p.orchestrator = orch
	case ProviderMemory:
		p.orchestrator = memory.New(cfg.Memory)
	default:
		return fmt.Errorf("unknown orchestrator provider: %s", cfg.Provider)
	}
	slog.Info("sandbox orchestrator ready", "provider", cfg.Provider)
	return nil
}

// initAuth builds the authenticator chain. With nothing enabled every
// request is anonymous.
func (p *Platform) initAuth(ctx context.Context, opts *Options) error {
	if opts.Authenticator != nil {
		p.authenticator = opts.Authenticator
		return nil
	}

	var chain []auth.Authenticator
	cfg := p.config.Auth

	if cfg.JWT.Enabled {
		a, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:        cfg.JWT.Issuer,
			SigningKey:    []byte(cfg.JWT.SigningKey),
			RoleClaimPath: cfg.JWT.RoleClaimPath,
			RolePrefix:    cfg.JWT.RolePrefix,
		})
		if err != nil {
			return fmt.Errorf("creating jwt authenticator: %w", err)
		}
		chain = append(chain, a)
	}

	if cfg.OIDC.Enabled {
		a, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
			Issuer:        cfg.OIDC.Issuer,
			ClientID:      cfg.OIDC.ClientID,
			RoleClaimPath: cfg.OIDC.RoleClaimPath,
			RolePrefix:    cfg.OIDC.RolePrefix,
		})
		if err != nil {
			return fmt.Errorf("creating oidc authenticator: %w", err)
		}
		chain = append(chain, a)
	}

	if cfg.APIKeys.Enabled && len(cfg.APIKeys.Keys) > 0 {
		chain = append(chain, auth.NewAPIKeyAuthenticator(cfg.APIKeys.Keys...))
	}

	if len(chain) > 0 {
		p.authenticator = auth.NewChainedAuthenticator(chain...)
	}
	return nil
}

// initServices wires the session manager, the reaper, the learning service
// and the HTTP handler.
func (p *Platform) initServices() {
	p.manager = session.NewManager(p.sessionStore, p.orchestrator, session.ManagerConfig{
		TTL:             p.config.Sandbox.TTL,
		SSHUser:         p.config.Sandbox.SSHUser,
		TerminatePolicy: session.TerminatePolicy(p.config.Sandbox.TerminatePolicy),
		Metrics:         p.metrics,
	})
	p.reaper = session.NewReaper(p.manager, p.sessionStore, session.ReaperConfig{
		Interval:  p.config.Sandbox.Reaper.Interval,
		BatchSize: p.config.Sandbox.Reaper.BatchSize,
	})
	p.learning = learning.NewService(p.learningStore)

	deps := api.Deps{
		Sessions: p.manager,
		Learning: p.learning,
		Checker:  p.checker,
		Metrics:  p.metrics.Handler(),
		Service:  p.config.Server.Name,
		Version:  p.version,
		Docs:     !p.config.Server.DisableAPIDocs,

		InstructorRole: p.config.Auth.InstructorRole,
	}
	if p.db != nil {
		deps.DB = p.db
	}
	if p.auditLogger != nil {
		deps.Audit = p.auditLogger
	}
	p.handler = api.NewHandler(deps, pkghttp.OptionalAuth(p.authenticator))
}

// registerLifecycle registers background routines.
func (p *Platform) registerLifecycle() {
	if p.config.Sandbox.Reaper.Enabled {
		p.lifecycle.OnStartStop("session reaper",
			func(context.Context) error {
				p.reaper.Start()
				slog.Info("session reaper started", "interval", p.config.Sandbox.Reaper.Interval)
				return nil
			},
			func(context.Context) error { return p.reaper.Close() },
		)
	}

	if pg, ok := p.sessionStore.(*sessionpg.Store); ok && p.config.Database.SessionRetention > 0 {
		p.lifecycle.OnStartStop("session retention cleanup",
			func(context.Context) error {
				pg.StartCleanupRoutine(p.config.Database.CleanupInterval)
				return nil
			},
			func(context.Context) error { return pg.Close() },
		)
	}

	if pg, ok := p.auditLogger.(*auditpg.Store); ok {
		p.lifecycle.OnStartStop("audit retention cleanup",
			func(context.Context) error {
				pg.StartCleanupRoutine(p.config.Database.CleanupInterval)
				return nil
			},
			func(context.Context) error { return pg.Close() },
		)
	}

	p.lifecycle.OnStartStop("readiness",
		func(context.Context) error {
			p.checker.SetReady()
			return nil
		},
		func(context.Context) error {
			p.checker.SetDraining()
			return nil
		},
	)
}

// Start starts background routines and marks the platform ready.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop marks the platform draining and stops background routines.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Handler returns the HTTP API.
func (p *Platform) Handler() http.Handler {
	return p.handler
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Manager returns the session manager.
func (p *Platform) Manager() *session.Manager {
	return p.manager
}

// Reaper returns the session reaper.
func (p *Platform) Reaper() *session.Reaper {
	return p.reaper
}

// Learning returns the learning service.
func (p *Platform) Learning() *learning.Service {
	return p.learning
}

// Authenticator returns the configured authenticator, or nil.
func (p *Platform) Authenticator() auth.Authenticator {
	return p.authenticator
}

// Checker returns the health checker.
func (p *Platform) Checker() *health.Checker {
	return p.checker
}

// AuditLogger returns the audit logger, or nil when auditing is disabled.
func (p *Platform) AuditLogger() audit.Logger {
	return p.auditLogger
}

// DB returns the database connection, or nil when running on memory stores.
func (p *Platform) DB() *sql.DB {
	return p.db
}

// closeResource closes a resource and appends any error.
func closeResource(errs *[]error, c io.Closer) {
	if err := c.Close(); err != nil {
		*errs = append(*errs, err)
	}
}

// Close closes all platform resources.
func (p *Platform) Close() error {
	var errs []error

	if p.sessionStore != nil {
		closeResource(&errs, p.sessionStore)
	}
	if p.auditLogger != nil {
		closeResource(&errs, p.auditLogger)
	}
	if p.db != nil && p.ownsDB {
		closeResource(&errs, p.db)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing platform: %v", errs)
	}
	return nil
}
