package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
)

const createAuditLogsSQL = `CREATE TABLE IF NOT EXISTS audit_logs (
	id         BIGSERIAL PRIMARY KEY,
	channel    TEXT        NOT NULL,
	request_id TEXT,
	record     JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

const insertAuditLogSQL = `INSERT INTO audit_logs (channel, request_id, record, created_at) VALUES ($1, $2, $3, $4)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresSink stores every record as one row of audit_logs; the channel becomes a column.
type PostgresSink struct {
	db    execer
	close func() error
	now   func() time.Time
}

// NewPostgresSink opens the pool, checks it and creates audit_logs when missing.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: database unreachable: %w", err)
	}
	if _, err := db.ExecContext(ctx, createAuditLogsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: create audit_logs: %w", err)
	}

	return &PostgresSink{db: db, close: db.Close, now: time.Now}, nil
}

func (s *PostgresSink) Send(ctx context.Context, ch Channel, key string, payload []byte) error {
	var requestID sql.NullString
	if key != "" {
		requestID = sql.NullString{String: key, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, insertAuditLogSQL, string(ch), requestID, string(payload), s.now().UTC()); err != nil {
		return fmt.Errorf("postgres: insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}
