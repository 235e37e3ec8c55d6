package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/storage/postgres"
)

type fakeMigrator struct {
	calls   []string
	upSteps int
	down    int
	state   postgres.MigrationState
	err     error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.calls = append(f.calls, "up")
	f.upSteps = steps
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.calls = append(f.calls, "down")
	f.down = steps
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	f.calls = append(f.calls, "status")
	return f.state, nil
}

func (f *fakeMigrator) SeedDemo(context.Context) error {
	f.calls = append(f.calls, "seed")
	return nil
}

func TestRun_UpWithSeed(t *testing.T) {
	store := &fakeMigrator{state: postgres.MigrationState{Version: 4, Applied: 4}}
	var out bytes.Buffer

	err := run(context.Background(), store, options{direction: "up", seed: true}, &out)
	require.NoError(t, err)
	require.Equal(t, []string{"up", "seed", "status"}, store.calls)
	require.Equal(t, "migrate up ok: version=4 applied=4 pending=0\n", out.String())
}

func TestRun_DownDefaultsToOneStep(t *testing.T) {
	store := &fakeMigrator{state: postgres.MigrationState{Version: 3, Applied: 3, Pending: 1}}
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), store, options{direction: "down"}, &out))
	require.Equal(t, 1, store.down)
	require.Contains(t, out.String(), "pending=1")
}

func TestRun_DownRejectsSeed(t *testing.T) {
	store := &fakeMigrator{}
	err := run(context.Background(), store, options{direction: "down", seed: true}, &bytes.Buffer{})
	require.Error(t, err)
	require.Empty(t, store.calls)
}

func TestRun_MigrateError(t *testing.T) {
	store := &fakeMigrator{err: errors.New("lock timeout")}
	err := run(context.Background(), store, options{direction: "up"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "migrate up failed")
}

func TestParseDirection(t *testing.T) {
	direction, err := parseDirection(" UP ")
	require.NoError(t, err)
	require.Equal(t, "up", direction)

	_, err = parseDirection("sideways")
	require.Error(t, err)
}

func withMigrateCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"migrate"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func testPostgresDSN(t *testing.T) string {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("BACKOFFICE_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("BACKOFFICE_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	_ = store.Close()
	return dsn
}

func TestMainStatusAndMigratePaths(t *testing.T) {
	dsn := testPostgresDSN(t)

	withMigrateCLIArgs(t, []string{"-direction=status", "-dsn=" + dsn}, func() { main() })
	withMigrateCLIArgs(t, []string{"-direction=up", "-dsn=" + dsn}, func() { main() })
	withMigrateCLIArgs(t, []string{"-direction=down", "-steps=1", "-dsn=" + dsn}, func() { main() })
	withMigrateCLIArgs(t, []string{"-direction=up", "-dsn=" + dsn}, func() { main() })
}

func TestMainVersionSkipsDatabase(t *testing.T) {
	t.Setenv("BACKOFFICE_POSTGRES_DSN", "")

	// Без DSN main завершился бы через os.Exit, так что возврат значит, что БД не трогали.
	withMigrateCLIArgs(t, []string{"-version"}, func() { main() })
}

func TestMainMissingDSNExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_EXIT") == "1" {
		withMigrateCLIArgs(t, []string{"-direction=status", "-dsn="}, func() {
			_ = os.Unsetenv(envPostgresDSN)
			main()
		})
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainMissingDSNExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.NotZero(t, exitErr.ExitCode())
}

func TestMainUnsupportedDirectionExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_BAD_DIRECTION") == "1" {
		withMigrateCLIArgs(t, []string{"-direction=bad", "-dsn=postgres://unused"}, func() { main() })
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainUnsupportedDirectionExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_BAD_DIRECTION=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.NotZero(t, exitErr.ExitCode())
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.NotZero(t, exitErr.ExitCode())
}
