package shop

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// OpenKV connects the backend named by driver and returns it with a close
// func. memory ignores dsn.
func OpenKV(ctx context.Context, driver, dsn string) (KV, func() error, error) {
	switch driver {
	case "", "memory":
		return NewMemKV(), func() error { return nil }, nil

	case "sqlite":
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one writer keeps sqlite from returning SQLITE_BUSY under load
		db.SetMaxOpenConns(1)
		return openSQL(ctx, db, NewSQLiteKV(db))

	case "postgres":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return openSQL(ctx, db, NewPostgresKV(db))

	case "redis":
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		kv := NewRedisKV(client)
		if err := kv.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return kv, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func openSQL(ctx context.Context, db *sql.DB, kv *SQLKV) (KV, func() error, error) {
	if err := kv.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %T: %w", db.Driver(), err)
	}
	if err := kv.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure kv schema: %w", err)
	}
	return kv, db.Close, nil
}
