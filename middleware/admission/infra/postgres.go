package infra

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"db-admission-gateway/middleware/admission/domain"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// Código SQLSTATE de "too_many_connections".
const pqTooManyConnections = "53300"

// PostgresConfig descreve o pool do database/sql sob o gateway.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// PostgresConnector empresta conexões de um *sql.DB com driver lib/pq.
//
// Implementa domain.Connector; é o colaborador que o gateway protege.
type PostgresConnector struct {
	db  *sql.DB
	log log.FieldLogger
}

// OpenPostgres abre o pool e verifica a conexão com um ping.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresConnector(db *sql.DB, logger log.FieldLogger) *PostgresConnector {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &PostgresConnector{db: db, log: logger}
}

// Connect retira uma conexão dedicada do pool. Erros do driver voltam sem wrap.
func (c *PostgresConnector) Connect(ctx context.Context) (domain.Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		if IsTooManyConnections(err) {
			c.log.WithError(err).Warn("postgres refused connection: too many clients")
		}
		return nil, err
	}
	return &pgConn{conn: conn, log: c.log}, nil
}

func (c *PostgresConnector) Close() error {
	return c.db.Close()
}

type pgConn struct {
	conn *sql.Conn
	log  log.FieldLogger
}

func (p *pgConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.conn.QueryContext(ctx, query, args...)
}

func (p *pgConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.conn.ExecContext(ctx, query, args...)
}

// Release devolve a conexão ao pool. Com err != nil ela é marcada como ruim e
// o database/sql a descarta em vez de reutilizar.
func (p *pgConn) Release(err error) {
	if err != nil {
		// Raw devolvendo driver.ErrBadConn faz o pool fechar a conexão.
		_ = p.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	if cerr := p.conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
		p.log.WithError(cerr).Debug("postgres conn close failed")
	}
}

// IsTooManyConnections indica que o Postgres recusou por excesso de clientes.
func IsTooManyConnections(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqTooManyConnections
	}
	return false
}
