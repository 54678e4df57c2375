package commands_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envelopes-dev/envelopes/internal/config"
	"github.com/envelopes-dev/envelopes/internal/store/filestore"
)

var binaryPath string

func TestMain(m *testing.M) {
	// Build the binary once for all tests.
	tmpDir, err := os.MkdirTemp("", "envelopes-test-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpDir)

	binaryPath = filepath.Join(tmpDir, "envelopes")
	cmd := exec.Command("go", "build", "-o", binaryPath, "../../cmd/envelopes")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		panic("failed to build binary: " + err.Error())
	}

	os.Exit(m.Run())
}

func runEnvelopes(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func TestInit_CreatesStructure(t *testing.T) {
	dir := t.TempDir()
	_, err := runEnvelopes(t, "init", dir, "--no-git")
	require.NoError(t, err)

	expectedDirs := []string{
		"logs",
		"feeds",
		"import",
		filepath.Join("import", "processed"),
		"data",
	}
	for _, d := range expectedDirs {
		info, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err, "directory %s should exist", d)
		assert.True(t, info.IsDir(), "%s should be a directory", d)
	}
}

func TestInit_Config(t *testing.T) {
	dir := t.TempDir()
	_, err := runEnvelopes(t, "init", dir, "--user", "alice", "--no-git")
	require.NoError(t, err)

	cfg, err := config.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, config.BackendCSV, cfg.Storage.Backend)
	assert.False(t, cfg.Git.AutoCommit)
}

func TestInit_SeedsAccountsAndEnvelopes(t *testing.T) {
	dir := t.TempDir()
	_, err := runEnvelopes(t, "init", dir, "--no-git")
	require.NoError(t, err)

	snap, err := filestore.New(filepath.Join(dir, "data")).Load(t.Context())
	require.NoError(t, err)
	assert.Len(t, snap.Accounts, 3)
	assert.Len(t, snap.Envelopes, 5)
	assert.Empty(t, snap.Transactions)

	out, err := runEnvelopes(t, "account", "list", "--repo", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Everyday")
	assert.Contains(t, out, "Credit Card")
}

func TestInit_AlreadyInitialized(t *testing.T) {
	dir := t.TempDir()
	_, err := runEnvelopes(t, "init", dir, "--no-git")
	require.NoError(t, err)

	out, err := runEnvelopes(t, "init", dir, "--no-git")
	require.Error(t, err)
	assert.Contains(t, out, "already initialized")
}

func TestInit_UnknownBackend(t *testing.T) {
	_, err := runEnvelopes(t, "init", t.TempDir(), "--no-git", "--backend", "postgres")
	require.Error(t, err)
}

func TestInit_GitRepo(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	_, err := runEnvelopes(t, "init", dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, ".git"))
	require.NoError(t, err, ".git should exist")

	log := exec.Command("git", "log", "--format=%s|%an <%ae>", "-1")
	log.Dir = dir
	out, err := log.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), "init:")
	assert.Contains(t, string(out), "Envelopes <envelopes@localhost>")
}

func TestNotInitialized(t *testing.T) {
	out, err := runEnvelopes(t, "summary", "--repo", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, out, "not an envelopes directory")
}
