package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synckit-dev/hub/internal/vectorclock"
)

// PostgresAdapter implements Adapter for PostgreSQL. Documents carry
// their vector clock in a JSONB column; deltas are an append-only log
// keyed by client-supplied ID for idempotent replay.
type PostgresAdapter struct {
	config    *Config
	pool      *pgxpool.Pool
	connected bool
}

// NewPostgresAdapter creates a PostgreSQL-backed adapter. Call Connect
// before use.
func NewPostgresAdapter(config *Config) *PostgresAdapter {
	if config == nil {
		config = DefaultConfig()
	}
	return &PostgresAdapter{config: config}
}

func (p *PostgresAdapter) Connect(ctx context.Context) error {
	poolConfig, err := pgxpool.ParseConfig(p.config.ConnectionString)
	if err != nil {
		return NewConnectionError("failed to parse connection string", err)
	}

	poolConfig.MinConns = p.config.PoolMinConns
	poolConfig.MaxConns = p.config.PoolMaxConns
	poolConfig.ConnConfig.ConnectTimeout = p.config.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return NewConnectionError("failed to connect to PostgreSQL", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return NewConnectionError("failed to ping PostgreSQL", err)
	}

	p.pool = pool
	p.connected = true
	return nil
}

func (p *PostgresAdapter) Disconnect(ctx context.Context) error {
	if p.pool != nil {
		p.pool.Close()
		p.connected = false
	}
	return nil
}

func (p *PostgresAdapter) IsConnected() bool {
	return p.connected && p.pool != nil
}

func (p *PostgresAdapter) HealthCheck(ctx context.Context) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	return p.pool.Ping(ctx)
}

// ValidateSchema confirms the expected tables and columns exist,
// catching a stale deployment before it serves traffic.
func (p *PostgresAdapter) ValidateSchema(ctx context.Context) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	checks := []struct{ table, column string }{
		{"documents", "clock"},
		{"deltas", "id"},
		{"sessions", "last_seen"},
	}

	for _, c := range checks {
		var exists bool
		err := p.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = $1 AND column_name = $2
			)`, c.table, c.column).Scan(&exists)
		if err != nil {
			return NewQueryError("failed to validate schema", err)
		}
		if !exists {
			return NewQueryError("schema mismatch: missing "+c.table+"."+c.column, nil)
		}
	}
	return nil
}

func (p *PostgresAdapter) GetOrCreateDocument(ctx context.Context, documentID string) (*DocumentState, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO documents (id, clock)
		VALUES ($1, '{}'::jsonb)
		ON CONFLICT (id) DO UPDATE SET id = documents.id
		RETURNING id, clock, created_at, updated_at
	`, documentID)

	var doc DocumentState
	if err := row.Scan(&doc.ID, &doc.Clock, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, NewQueryError("failed to get or create document", err)
	}
	return &doc, nil
}

func (p *PostgresAdapter) GetDocumentClock(ctx context.Context, documentID string) (vectorclock.Clock, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	var clock vectorclock.Clock
	err := p.pool.QueryRow(ctx, `SELECT clock FROM documents WHERE id = $1`, documentID).Scan(&clock)
	if err != nil {
		if err == pgx.ErrNoRows {
			return vectorclock.New(), nil
		}
		return nil, NewQueryError("failed to get document clock", err)
	}
	return clock, nil
}

func (p *PostgresAdapter) AppendDelta(ctx context.Context, delta *DeltaEntry) (*DeltaEntry, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, NewQueryError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO documents (id, clock)
		VALUES ($1, '{}'::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, delta.DocumentID); err != nil {
		return nil, NewQueryError("failed to ensure document row", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO deltas (id, document_id, client_id, delta, clock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET id = deltas.id
		RETURNING id, document_id, client_id, delta, clock, created_at
	`, delta.ID, delta.DocumentID, delta.ClientID, delta.Delta, delta.Clock)

	var stored DeltaEntry
	if err := row.Scan(&stored.ID, &stored.DocumentID, &stored.ClientID, &stored.Delta, &stored.Clock, &stored.CreatedAt); err != nil {
		return nil, NewQueryError("failed to append delta", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE documents
		SET clock = (
			SELECT jsonb_object_agg(key, GREATEST(
				COALESCE((clock->>key)::numeric, 0),
				COALESCE((($2::jsonb)->>key)::numeric, 0)
			))
			FROM (
				SELECT jsonb_object_keys(clock) AS key FROM documents WHERE id = $1
				UNION
				SELECT jsonb_object_keys($2::jsonb) AS key
			) keys
		), updated_at = NOW()
		WHERE id = $1
	`, delta.DocumentID, delta.Clock); err != nil {
		return nil, NewQueryError("failed to merge document clock", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, NewQueryError("failed to commit delta append", err)
	}

	return &stored, nil
}

func (p *PostgresAdapter) GetDeltasSince(ctx context.Context, documentID string, since vectorclock.Clock) ([]*DeltaEntry, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, client_id, delta, clock, created_at
		FROM deltas
		WHERE document_id = $1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, NewQueryError("failed to query deltas", err)
	}
	defer rows.Close()

	var out []*DeltaEntry
	for rows.Next() {
		var d DeltaEntry
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.ClientID, &d.Delta, &d.Clock, &d.CreatedAt); err != nil {
			return nil, NewQueryError("failed to scan delta", err)
		}
		if since.HappensBefore(d.Clock) || since.Concurrent(d.Clock) {
			out = append(out, &d)
		}
	}
	return out, nil
}

func (p *PostgresAdapter) SaveSession(ctx context.Context, session *SessionEntry) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, client_id)
		VALUES ($1, $2, $3)
		RETURNING connected_at, last_seen
	`, session.ID, session.UserID, session.ClientID)

	return row.Scan(&session.ConnectedAt, &session.LastSeen)
}

func (p *PostgresAdapter) UpdateSessionLastSeen(ctx context.Context, sessionID string, lastSeen time.Time) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	result, err := p.pool.Exec(ctx, `UPDATE sessions SET last_seen = $2 WHERE id = $1`, sessionID, lastSeen)
	if err != nil {
		return NewQueryError("failed to update session", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresAdapter) GetSessionsByUser(ctx context.Context, userID string) ([]*SessionEntry, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, client_id, connected_at, last_seen
		FROM sessions
		WHERE user_id = $1
		ORDER BY last_seen DESC
	`, userID)
	if err != nil {
		return nil, NewQueryError("failed to get sessions", err)
	}
	defer rows.Close()

	var sessions []*SessionEntry
	for rows.Next() {
		var s SessionEntry
		if err := rows.Scan(&s.ID, &s.UserID, &s.ClientID, &s.ConnectedAt, &s.LastSeen); err != nil {
			return nil, NewQueryError("failed to scan session", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

func (p *PostgresAdapter) DeleteSessionsOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if !p.IsConnected() {
		return 0, ErrNotConnected
	}

	result, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE last_seen < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, NewQueryError("failed to delete old sessions", err)
	}
	return int(result.RowsAffected()), nil
}

func (p *PostgresAdapter) Cleanup(ctx context.Context, options CleanupOptions) (*CleanupResult, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	result := &CleanupResult{}

	if options.SessionsOlderThan > 0 {
		n, err := p.DeleteSessionsOlderThan(ctx, options.SessionsOlderThan)
		if err != nil {
			return nil, err
		}
		result.SessionsDeleted = n
	}

	if options.DeltasOlderThan > 0 {
		r, err := p.pool.Exec(ctx, `DELETE FROM deltas WHERE created_at < $1`, time.Now().Add(-options.DeltasOlderThan))
		if err != nil {
			return nil, NewQueryError("failed to delete old deltas", err)
		}
		result.DeltasDeleted = int(r.RowsAffected())
	}

	return result, nil
}
