package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
)

// Dialect names the SQL flavour spoken by the remote store.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

type Database struct {
	DB      *sql.DB
	Dialect Dialect
	Config  config.RemoteConfig
}

// DSN builds the driver connection string for cfg.
func DSN(cfg config.RemoteConfig) (string, error) {
	timeout := cfg.GetTimeout()
	switch Dialect(cfg.Driver) {
	case MySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&timeout=%s&readTimeout=%s&writeTimeout=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, timeout, timeout, timeout), nil
	case Postgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:   "/" + cfg.Database,
		}
		q := u.Query()
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		q.Set("sslmode", sslMode)
		q.Set("connect_timeout", fmt.Sprintf("%d", int(timeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported remote driver %q", cfg.Driver)
}

// NewDatabase opens a pool to the remote store. The ping is bounded by the
// configured timeout so an unreachable remote does not block start-up; the
// pool reconnects lazily once the link returns.
func NewDatabase(ctx context.Context, cfg config.RemoteConfig) (*Database, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Log.Warn("Remote store not reachable yet",
			zap.String("driver", cfg.Driver),
			zap.String("host", cfg.Host),
			zap.Error(err),
		)
	} else {
		logger.Log.Info("Connected to remote store",
			zap.String("driver", cfg.Driver),
			zap.String("host", cfg.Host),
			zap.String("database", cfg.Database),
		)
	}

	return Wrap(db, Dialect(cfg.Driver), cfg), nil
}

// Wrap adopts an already opened pool.
func Wrap(db *sql.DB, dialect Dialect, cfg config.RemoteConfig) *Database {
	return &Database{DB: db, Dialect: dialect, Config: cfg}
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %w, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
