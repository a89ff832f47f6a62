package platform

import (
	"database/sql"

	"github.com/txn2/devops-bootcamp/pkg/auth"
	"github.com/txn2/devops-bootcamp/pkg/learning"
	"github.com/txn2/devops-bootcamp/pkg/session"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// Database connection (optional, will be opened from database.dsn if not provided).
	DB *sql.DB

	// Orchestrator (optional, will be created from orchestrator.provider if not provided).
	Orchestrator session.Orchestrator

	// SessionStore (optional, will be created from config if not provided).
	SessionStore session.Store

	// LearningStore (optional, will be created from config if not provided).
	LearningStore learning.Store

	// Authenticator (optional, will be created from config if not provided).
	Authenticator auth.Authenticator
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithOrchestrator sets the sandbox orchestrator.
func WithOrchestrator(orch session.Orchestrator) Option {
	return func(o *Options) {
		o.Orchestrator = orch
	}
}

// WithSessionStore sets the session store.
func WithSessionStore(store session.Store) Option {
	return func(o *Options) {
		o.SessionStore = store
	}
}

// WithLearningStore sets the learning store.
func WithLearningStore(store learning.Store) Option {
	return func(o *Options) {
		o.LearningStore = store
	}
}

// WithAuthenticator sets the authenticator.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(o *Options) {
		o.Authenticator = a
	}
}
