package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const (
	driverName  = "pgx"
	pingTimeout = 5 * time.Second
)

// PoolConfig задаёт параметры пула соединений. Нулевые поля означают значения по умолчанию.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

var defaultPool = PoolConfig{
	MaxOpenConns:    25,
	MaxIdleConns:    25,
	ConnMaxLifetime: 30 * time.Minute,
	ConnMaxIdleTime: 5 * time.Minute,
}

func (c PoolConfig) apply(db *sqlx.DB) {
	pick := func(v, def int) int {
		if v > 0 {
			return v
		}
		return def
	}
	pickDur := func(v, def time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return def
	}
	db.SetMaxOpenConns(pick(c.MaxOpenConns, defaultPool.MaxOpenConns))
	db.SetMaxIdleConns(pick(c.MaxIdleConns, defaultPool.MaxIdleConns))
	db.SetConnMaxLifetime(pickDur(c.ConnMaxLifetime, defaultPool.ConnMaxLifetime))
	db.SetConnMaxIdleTime(pickDur(c.ConnMaxIdleTime, defaultPool.ConnMaxIdleTime))
}

// Store владеет пулом соединений. Репозитории пакета работают через него.
type Store struct {
	db *sqlx.DB
}

// Open открывает пул с параметрами по умолчанию и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, PoolConfig{})
}

func OpenWithPool(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	pool.apply(db)

	s := &Store{db: db}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// DB отдаёт пул как *sql.DB для кода вне пакета.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
