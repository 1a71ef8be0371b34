package threats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/securex-labs/securex/internal/scoring"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, t *Threat) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusOpen
	}

	terms, err := json.Marshal(t.RiskTerms)
	if err != nil {
		return fmt.Errorf("failed to marshal risk terms: %w", err)
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO threats (id, type, description, source, status, room,
			risk_score, risk_label, risk_terms, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, t.ID, t.Type, t.Description, t.Source, t.Status, t.Room,
		t.RiskScore, string(t.RiskLabel), terms, metadata, now)
	if err != nil {
		return fmt.Errorf("failed to create threat: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Threat, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, type, description, source, status, room,
			risk_score, risk_label, risk_terms, metadata, created_at, updated_at
		FROM threats WHERE id = $1
	`, id)
	return scanThreat(row)
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Threat, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, type, description, source, status, room,
			risk_score, risk_label, risk_terms, metadata, created_at, updated_at
		FROM threats WHERE 1=1`
	args := []interface{}{}

	if q.Type != "" {
		args = append(args, q.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if q.Status != "" {
		args = append(args, q.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if q.Label != "" {
		args = append(args, q.Label)
		query += fmt.Sprintf(" AND risk_label = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, q.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list threats: %w", err)
	}
	defer rows.Close()

	out := []*Threat{}
	for rows.Next() {
		t, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id, status string) (*Threat, error) {
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE threats SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update threat status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrThreatNotFound
	}

	return p.Get(ctx, id)
}

func (p *PostgresStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		BySeverity: make(map[string]int64),
		ByType:     make(map[string]int64),
		UpdatedAt:  time.Now(),
	}

	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'open') FROM threats
	`).Scan(&stats.Total, &stats.Open)
	if err != nil {
		return nil, fmt.Errorf("failed to count threats: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT risk_label, COUNT(*) FROM threats GROUP BY risk_label
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate severities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		stats.BySeverity[label] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := p.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM threats GROUP BY type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate types: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var typ string
		var n int64
		if err := typeRows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		stats.ByType[typ] = n
	}
	return stats, typeRows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanThreat(row scannable) (*Threat, error) {
	var t Threat
	var label string
	var terms, metadata []byte

	err := row.Scan(&t.ID, &t.Type, &t.Description, &t.Source, &t.Status, &t.Room,
		&t.RiskScore, &label, &terms, &metadata, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrThreatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan threat: %w", err)
	}

	t.RiskLabel = scoring.Label(label)
	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &t.RiskTerms); err != nil {
			slog.Warn("failed to unmarshal risk terms", "threat_id", t.ID, "error", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			slog.Warn("failed to unmarshal threat metadata", "threat_id", t.ID, "error", err)
		}
	}
	return &t, nil
}
