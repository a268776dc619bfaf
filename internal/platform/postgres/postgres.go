// Package postgres opens the shared database handle, applies the schema and
// provides the dedicated LISTEN connection used by live report queries.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"aeroinsight/internal/platform/config"
)

// ChangeChannel is the notification channel fed by the reports trigger. The
// payload is the changed report id.
const ChangeChannel = "report_changes"

//go:embed schema.sql
var schema string

// Open connects to Postgres through database/sql and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the database could not be reached
// or refused work for operational reasons, as opposed to a query fault.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := string(pqErr.Code.Class())
		// 08 connection exception, 53 insufficient resources, 57 operator intervention
		return class == "08" || class == "53" || class == "57"
	}
	return strings.Contains(err.Error(), "connection refused")
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Listener holds a dedicated connection subscribed to one notification
// channel. It is not safe for concurrent use; one goroutine drains it.
type Listener struct {
	conn    *pgx.Conn
	channel string
}

// Listen opens a new connection with dsn and issues LISTEN on channel.
func Listen(ctx context.Context, dsn, channel string) (*Listener, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return &Listener{conn: conn, channel: channel}, nil
}

// Wait blocks until the next notification arrives and returns its payload.
func (l *Listener) Wait(ctx context.Context) (string, error) {
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

// Close terminates the listener connection.
func (l *Listener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}
