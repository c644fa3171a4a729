package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	go_ora "github.com/sijms/go-ora/v2"

	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/logger"
)

var (
	openPostgresDB = func(cfg *pgx.ConnConfig) *sql.DB {
		return stdlib.OpenDB(*cfg)
	}
	openOracleDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("oracle", dsn)
	}
	pingDB = func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	}
)

const pingTimeout = 10 * time.Second

// Open connects to the configured database, verifies the connection and
// runs Migrate when cfg.AutoMigrate is set.
func Open(ctx context.Context, dialect Dialect, cfg *config.DatabaseConfig, log logger.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case PostgreSQL:
		db, err = openPostgres(cfg)
	case Oracle:
		db, err = openOracleDB(oracleDSN(cfg))
	default:
		err = fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	if err != nil {
		return nil, err
	}

	applyPool(db, cfg.Pool)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pingDB(pingCtx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close database connection after ping failure")
		}
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	store, err := New(db, dialect, cfg.Table, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().
		Str("dialect", string(dialect)).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("table", store.table).
		Msg("Connected queue store to database")

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

func openPostgres(cfg *config.DatabaseConfig) (*sql.DB, error) {
	pgxConfig, err := pgx.ParseConfig(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}
	return openPostgresDB(pgxConfig), nil
}

func postgresDSN(cfg *config.DatabaseConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	parts := []string{
		"host=" + quoteDSN(cfg.Host),
		fmt.Sprintf("port=%d", port),
		"user=" + quoteDSN(cfg.Username),
		"password=" + quoteDSN(cfg.Password),
		"dbname=" + quoteDSN(cfg.Database),
	}
	if cfg.SSLMode != "" {
		parts = append(parts, "sslmode="+cfg.SSLMode)
	}
	return strings.Join(parts, " ")
}

// quoteDSN quotes a value according to libpq keyword/value rules.
func quoteDSN(value string) string {
	if value == "" {
		return "''"
	}

	needsQuoting := false
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '.' && r != '_' && r != '-' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return value
	}

	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "'", `\'`)
	return "'" + escaped + "'"
}

func oracleDSN(cfg *config.DatabaseConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}
	port := cfg.Port
	if port == 0 {
		port = 1521
	}
	switch {
	case cfg.ServiceName != "":
		return go_ora.BuildUrl(cfg.Host, port, cfg.ServiceName, cfg.Username, cfg.Password, nil)
	case cfg.SID != "":
		return go_ora.BuildUrl(cfg.Host, port, "", cfg.Username, cfg.Password, map[string]string{"SID": cfg.SID})
	default:
		return go_ora.BuildUrl(cfg.Host, port, cfg.Database, cfg.Username, cfg.Password, nil)
	}
}

// applyPool sets only the pool limits that are configured; zero keeps the database/sql default.
func applyPool(db *sql.DB, pool config.PoolConfig) {
	if pool.MaxConns > 0 {
		db.SetMaxOpenConns(pool.MaxConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
}
