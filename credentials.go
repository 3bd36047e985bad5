package judgewire

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// CredentialStore provides the shared secret a master must present during the
// handshake. It may be backed by a remote service, so lookups take a context.
type CredentialStore interface {
	Password(ctx context.Context) (string, error)
}

// StaticCredentials is a password fixed at startup (config file or env).
type StaticCredentials string

func (s StaticCredentials) Password(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no password configured")
	}
	return string(s), nil
}

// PostgresCredentials reads the worker secret from a judge_credentials table,
// so it can be rotated without restarting workers.
type PostgresCredentials struct {
	db   *sql.DB
	name string
}

// NewPostgresCredentials connects to the database and makes sure the table
// exists. name selects the credential row used by this worker.
func NewPostgresCredentials(dsn, name string) (*PostgresCredentials, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	p := &PostgresCredentials{db: db, name: name}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return p, nil
}

func (p *PostgresCredentials) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS judge_credentials (
		name VARCHAR(64) PRIMARY KEY,
		secret TEXT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`)
	return err
}

func (p *PostgresCredentials) Password(ctx context.Context) (string, error) {
	var secret string
	err := p.db.QueryRowContext(ctx,
		`SELECT secret FROM judge_credentials WHERE name = $1`, p.name).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no credential named %q", p.name)
	}
	if err != nil {
		return "", fmt.Errorf("querying credential: %w", err)
	}
	return secret, nil
}

// Close releases the database handle.
func (p *PostgresCredentials) Close() error {
	return p.db.Close()
}
