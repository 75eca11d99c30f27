package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/migrate"
	"taskdeck/internal/repo"
	"taskdeck/internal/session"
)

// Env holds everything a command needs from a workspace: the loaded
// config, the migrated local database, and a session manager bound to
// the configured API.
type Env struct {
	Workspace string
	Config    *config.Config
	Repo      repo.Repo
	Session   session.Manager
	Log       *logrus.Logger
}

// Open loads the workspace config, opens and migrates the local
// database, and wires the session manager. baseURLOverride, when
// non-empty, wins over the configured base URL.
func Open(workspace, baseURLOverride string, log *logrus.Logger) (*Env, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if baseURLOverride != "" {
		cfg.API.BaseURL = baseURLOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := repo.Repo{DB: conn}
	return &Env{
		Workspace: workspace,
		Config:    cfg,
		Repo:      r,
		Session: session.Manager{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.Timeout(),
			Repo:    r,
		},
		Log: log,
	}, nil
}

// Close releases the workspace database.
func (e *Env) Close() error {
	if e == nil || e.Repo.DB == nil {
		return nil
	}
	return e.Repo.DB.Close()
}
