package postgres

import (
	"cmp"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Миграции встроены в бинарник. Файл называется NNNN_name.up.sql или
// NNNN_name.down.sql, у каждой версии должны быть оба направления.
//
//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir = "sql/migrations"
	// Ключ pg_advisory_lock, сериализующий миграции между инстансами.
	migrationLockKey = int64(0x6261636b6f666663)
	migrationTimeout = 5 * time.Second
)

var migrationFileName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState - положение схемы относительно встроенных миграций.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет steps ожидающих миграций, 0 означает все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sqlx.Conn, set []migration) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		done := 0
		for _, m := range set {
			if steps > 0 && done == steps {
				break
			}
			if slices.Contains(applied, m.Version) {
				continue
			}
			if err := runMigration(ctx, conn, m, true); err != nil {
				return err
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций. Без явного числа шагов
// откатывается одна миграция.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sqlx.Conn, set []migration) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for i := len(applied) - 1; i >= 0 && len(applied)-i <= steps; i-- {
			idx := slices.IndexFunc(set, func(m migration) bool { return m.Version == applied[i] })
			if idx < 0 {
				return fmt.Errorf("applied migration %d is not embedded in this build", applied[i])
			}
			if err := runMigration(ctx, conn, set[idx], false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus сообщает текущую версию схемы и число ожидающих миграций.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errors.New("postgres store is not initialized")
	}
	set, err := parseMigrations(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	db := s.db
	if _, err := db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("create schema_migrations: %w", err)
	}
	var applied []int64
	if err := db.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return MigrationState{}, fmt.Errorf("read schema_migrations: %w", err)
	}

	state := MigrationState{Applied: len(applied)}
	if len(applied) > 0 {
		state.Version = applied[len(applied)-1]
	}
	state.Pending = pendingCount(set, state.Version)
	return state, nil
}

func pendingCount(set []migration, current int64) int {
	n := 0
	for _, m := range set {
		if m.Version > current {
			n++
		}
	}
	return n
}

// withMigrationLock выполняет fn на выделенном соединении под advisory lock.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sqlx.Conn, set []migration) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	set, err := parseMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return fn(conn, set)
}

func appliedVersions(ctx context.Context, conn *sqlx.Conn) ([]int64, error) {
	var versions []int64
	if err := conn.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return versions, nil
}

// runMigration выполняет скрипт и запись в schema_migrations одной транзакцией.
func runMigration(ctx context.Context, conn *sqlx.Conn, m migration, up bool) (err error) {
	script, bookkeeping, args := m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	direction := "down"
	if up {
		script, bookkeeping, args = m.UpSQL, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, []any{m.Version, m.Name}
		direction = "up"
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %s %s: begin: %w", direction, m, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("migrate %s %s: %w", direction, m, err)
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("migrate %s %s: record version: %w", direction, m, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migrate %s %s: commit: %w", direction, m, err)
	}
	return nil
}

// parseMigrations собирает пары up/down из fsys и сортирует их по версии.
func parseMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := migrationFileName.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("unexpected file in migrations: %s", entry.Name())
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has two names: %s and %s", version, m.Name, parts[2])
		}

		target := &m.UpSQL
		if parts[3] == "down" {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("migration %d has duplicate %s script", version, parts[3])
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migrations embedded")
	}

	set := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s needs both up and down scripts", m)
		}
		set = append(set, *m)
	}
	slices.SortFunc(set, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return set, nil
}
