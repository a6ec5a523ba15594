package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/starcommander/internal/config"
)

// DB is the database interface used by [PostgresSource]. Both
// *pgxpool.Pool and *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// activeBotsQuery reads the bots table maintained by the administrative
// API. Only rows with is_active are run.
const activeBotsQuery = `
	SELECT id::text, type, token_encrypted
	FROM bots
	WHERE is_active
	ORDER BY id`

// PostgresSource reads worker credentials from the bots table. Every token
// is stored encrypted.
type PostgresSource struct {
	db        DB
	decrypter Decrypter
	close     func()
}

// NewPostgresSource returns a source reading through db.
func NewPostgresSource(db DB, dec Decrypter) *PostgresSource {
	return &PostgresSource{db: db, decrypter: dec}
}

// OpenPostgres connects a pool to dsn and returns a source using it.
func OpenPostgres(ctx context.Context, dsn string, dec Decrypter) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("credential: connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("credential: ping postgres: %w", err)
	}
	s := NewPostgresSource(pool, dec)
	s.close = pool.Close
	return s, nil
}

// Close releases the pool opened by [OpenPostgres].
func (s *PostgresSource) Close() {
	if s.close != nil {
		s.close()
	}
}

// Credentials implements [Source]. Rows of an unknown type are skipped
// with a warning.
func (s *PostgresSource) Credentials(ctx context.Context) ([]Credential, error) {
	if s.decrypter == nil {
		return nil, ErrNoDecrypter
	}
	rows, err := s.db.Query(ctx, activeBotsQuery)
	if err != nil {
		return nil, fmt.Errorf("credential: query bots: %w", err)
	}
	defer rows.Close()

	var (
		out  []Credential
		errs []error
	)
	for rows.Next() {
		var id, typ, enc string
		if err := rows.Scan(&id, &typ, &enc); err != nil {
			return nil, fmt.Errorf("credential: scan bot row: %w", err)
		}
		kind, ok := config.ParseKind(typ)
		if !ok {
			slog.Warn("credential: skipping bot of unknown type", "id", id, "type", typ)
			continue
		}
		tok, err := s.decrypter.Decrypt(enc)
		if err != nil {
			errs = append(errs, fmt.Errorf("credential: bot %s: %w", id, err))
			continue
		}
		out = append(out, Credential{WorkerID: id, Kind: kind, Token: tok})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credential: read bots: %w", err)
	}
	return out, errors.Join(errs...)
}
