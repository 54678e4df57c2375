package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/envelopes-dev/envelopes/internal/activitylog"
	"github.com/envelopes-dev/envelopes/internal/bankfeed"
	"github.com/envelopes-dev/envelopes/internal/config"
	"github.com/envelopes-dev/envelopes/internal/engine"
	"github.com/envelopes-dev/envelopes/internal/gitops"
	"github.com/envelopes-dev/envelopes/internal/logging"
	"github.com/envelopes-dev/envelopes/internal/store"
	"github.com/envelopes-dev/envelopes/internal/store/filestore"
	"github.com/envelopes-dev/envelopes/internal/store/sqlitestore"
)

// project is an opened data directory: its config, logger, repository and
// a loaded engine.
type project struct {
	dir   string
	cfg   *config.Config
	log   *logrus.Logger
	repo  store.Repository
	close func() error
	eng   *engine.Engine

	saveMu sync.Mutex
}

// openRepo returns the repository selected by the config and a function
// that releases it.
func openRepo(cfg *config.Config, dir string) (store.Repository, func() error, error) {
	path := cfg.StoragePath(dir)
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		s, err := sqlitestore.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "", config.BackendCSV:
		return filestore.New(path), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newEngine(cfg *config.Config, dir string, log *logrus.Logger) (*engine.Engine, error) {
	opts, err := cfg.MatcherOptions()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Matcher:     opts,
		Feed:        bankfeed.NewFileFeed(cfg.FeedPath(dir)),
		Connections: cfg.BankConnections,
		Recorder:    activitylog.New(dir, "cli"),
		Logger:      log,
	}), nil
}

// openProject loads the data directory at repoDir.
func openProject(ctx context.Context, repoDir string) (*project, error) {
	dir, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	cfg, err := config.LoadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s is not an envelopes directory (run envelopes init)", dir)
		}
		return nil, err
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	repo, closeRepo, err := openRepo(cfg, dir)
	if err != nil {
		return nil, err
	}

	eng, err := newEngine(cfg, dir, log)
	if err != nil {
		closeRepo()
		return nil, err
	}
	p := &project{dir: dir, cfg: cfg, log: log, repo: repo, close: closeRepo, eng: eng}
	if err := p.eng.Load(ctx, repo); err != nil {
		closeRepo()
		return nil, err
	}
	return p, nil
}

// save persists engine state and, when enabled, commits the directory.
func (p *project) save(ctx context.Context, message string) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	if err := p.eng.Save(ctx, p.repo); err != nil {
		return err
	}
	if !p.cfg.Git.AutoCommit || !gitops.IsRepo(p.dir) {
		return nil
	}
	author := gitops.Author{Name: p.cfg.Git.AuthorName, Email: p.cfg.Git.AuthorEmail}
	hash, err := gitops.CommitAll(ctx, p.dir, message, author)
	if errors.Is(err, gitops.ErrNothingToCommit) {
		return nil
	}
	if err != nil {
		p.log.WithError(err).Warn("git commit failed")
		return nil
	}
	p.log.WithFields(logrus.Fields{"commit": hash, "message": message}).Debug("committed")
	return nil
}

// withProject opens the project, runs fn, and releases the project.
func withProject(ctx context.Context, repoDir string, fn func(p *project) error) error {
	p, err := openProject(ctx, repoDir)
	if err != nil {
		return err
	}
	defer p.close()
	return fn(p)
}
