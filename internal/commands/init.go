package commands

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/envelopes-dev/envelopes/internal/accounts"
	"github.com/envelopes-dev/envelopes/internal/config"
	"github.com/envelopes-dev/envelopes/internal/engine"
	"github.com/envelopes-dev/envelopes/internal/gitops"
	"github.com/envelopes-dev/envelopes/internal/logging"
)

// defaultEnvelopes seeds a new project.
var defaultEnvelopes = []struct {
	name     string
	budgeted string
}{
	{"Groceries", "800.00"},
	{"Fuel", "200.00"},
	{"Rent", "2000.00"},
	{"Power", "180.00"},
	{"Fun", "150.00"},
}

func newInitCommand(repoDir *string) *cobra.Command {
	var (
		userID  string
		backend string
		noGit   bool
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new envelopes data directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := *repoDir
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd, absDir, userID, backend, !noGit)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "me", "user id that owns the data")
	cmd.Flags().StringVar(&backend, "backend", config.BackendCSV, "storage backend (csv or sqlite)")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "do not create a git repository")

	return cmd
}

func runInit(cmd *cobra.Command, dir, userID, backend string, useGit bool) error {
	ctx := cmd.Context()
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil {
		return fmt.Errorf("%s already initialized", dir)
	}

	dirs := []string{
		"logs",
		"feeds",
		"import",
		filepath.Join("import", "processed"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	cfg := config.Default(userID)
	cfg.Storage.Backend = backend
	if backend == config.BackendSQLite {
		cfg.Storage.Path = "envelopes.db"
	}
	if _, err := exec.LookPath("git"); err != nil {
		useGit = false
	}
	cfg.Git.AutoCommit = useGit
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(filepath.Join(dir, config.FileName), cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepo(cfg, dir)
	if err != nil {
		return err
	}
	defer closeRepo()

	eng, err := newEngine(cfg, dir, log)
	if err != nil {
		return err
	}
	for _, a := range accounts.DefaultAccounts(userID) {
		if _, err := eng.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("creating account %s: %w", a.Name, err)
		}
	}
	for _, e := range defaultEnvelopes {
		_, err := eng.CreateEnvelope(ctx, engine.NewEnvelope{
			UserID:   userID,
			Name:     e.name,
			Budgeted: decimal.RequireFromString(e.budgeted),
		})
		if err != nil {
			return fmt.Errorf("creating envelope %s: %w", e.name, err)
		}
	}
	if err := eng.Save(ctx, repo); err != nil {
		return err
	}

	gitignore := "*.db-journal\n*.db-wal\n*.db-shm\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "import", ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "feeds", ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}

	out := cmd.OutOrStdout()
	if !useGit {
		fmt.Fprintf(out, "Initialized envelopes directory at %s\n", dir)
		return nil
	}

	if err := gitops.Init(ctx, dir); err != nil {
		return err
	}
	author := gitops.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}
	hash, err := gitops.CommitAll(ctx, dir, "init: Initialize envelopes for "+userID, author)
	if err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}

	fmt.Fprintf(out, "Initialized envelopes directory at %s (%s)\n", dir, hash)
	return nil
}
