package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/backoffice/internal/storage/postgres"
	"github.com/vladislavdragonenkov/backoffice/internal/version"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "BACKOFFICE_POSTGRES_DSN"
)

type options struct {
	direction string
	steps     int
	dsn       string
	seed      bool
}

func main() {
	_ = godotenv.Load()

	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.BoolVar(&opts.seed, "seed", false, "load demo customers, variants and inventory after migrate up")
	flag.BoolVar(&showVersion, "version", false, "print build info and exit")
	flag.Parse()

	if showVersion {
		_, _ = fmt.Fprintln(os.Stdout, "migrate", version.String())
		return
	}

	if strings.TrimSpace(opts.dsn) == "" {
		opts.dsn = strings.TrimSpace(os.Getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		fail("%s (or -dsn) is required", envPostgresDSN)
	}
	direction, err := parseDirection(opts.direction)
	if err != nil {
		fail("%v", err)
	}
	opts.direction = direction

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// migrator - операции над схемой, которые нужны утилите.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	SeedDemo(ctx context.Context) error
}

func parseDirection(raw string) (string, error) {
	direction := strings.ToLower(strings.TrimSpace(raw))
	switch direction {
	case "up", "down", "status":
		return direction, nil
	default:
		return "", fmt.Errorf("unsupported direction: %s (use up|down|status)", raw)
	}
}

func run(ctx context.Context, store migrator, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		if opts.seed {
			if err := store.SeedDemo(ctx); err != nil {
				return fmt.Errorf("seed demo catalog failed: %w", err)
			}
		}
	case "down":
		if opts.seed {
			return fmt.Errorf("-seed is only supported with -direction=up")
		}
		steps := opts.steps
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n",
		opts.direction, state.Version, state.Applied, state.Pending)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
