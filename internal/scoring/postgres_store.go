package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_scores table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_scores (
			id            VARCHAR(36) PRIMARY KEY,
			event_type    VARCHAR(50) NOT NULL,
			score         NUMERIC(4,3) NOT NULL CHECK (score >= 0 AND score <= 1),
			label         VARCHAR(10) NOT NULL CHECK (label IN ('low', 'medium', 'high', 'critical')),
			terms         JSONB NOT NULL DEFAULT '{}',
			evaluated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_scores_evaluated_at
			ON risk_scores (evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_scores_severe
			ON risk_scores (evaluated_at DESC) WHERE label IN ('high', 'critical');
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	termsJSON, err := json.Marshal(a.Terms)
	if err != nil {
		return fmt.Errorf("failed to marshal terms: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_scores (id, event_type, score, label, terms, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		a.ID,
		a.EventType,
		a.Value,
		string(a.Label),
		termsJSON,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, score, label, terms, evaluated_at
		FROM risk_scores
		ORDER BY evaluated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var termsJSON []byte
		var evaluatedAt time.Time

		if err := rows.Scan(&a.ID, &a.EventType, &a.Value, &a.Label, &termsJSON, &evaluatedAt); err != nil {
			continue
		}
		a.EvaluatedAt = evaluatedAt
		a.Terms = make(map[string]float64)
		_ = json.Unmarshal(termsJSON, &a.Terms)
		result = append(result, &a)
	}
	return result, nil
}
