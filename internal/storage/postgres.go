package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	logx "datastash/pkg/logx"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 || cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = min(5, cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}

	st, err := newSQLStore(ctx, db, postgresDialect, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("postgres store opened", logx.Int("max_open_conns", cfg.MaxOpenConns))
	return st, nil
}
