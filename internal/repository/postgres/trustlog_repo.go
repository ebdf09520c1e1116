package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/trustgate/internal/domain"
)

// TrustLogRepo archives audit entries. The audit.Archiver writes batches
// here off the hot path; the in-process log stays authoritative for reads.
type TrustLogRepo struct {
	db *sql.DB
}

func NewTrustLogRepo(db *sql.DB) *TrustLogRepo {
	return &TrustLogRepo{db: db}
}

func (r *TrustLogRepo) WriteBatch(ctx context.Context, entries []domain.TrustLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const numFields = 6
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6)

		result, err := json.Marshal(e.Result)
		if err != nil {
			return fmt.Errorf("postgres: marshal verdict: %w", err)
		}
		policies, err := json.Marshal(e.PoliciesApplied)
		if err != nil {
			return fmt.Errorf("postgres: marshal policies: %w", err)
		}

		vals = append(vals,
			e.ID, e.Timestamp, e.SourceAgentID, e.TargetAgentID, result, policies)
	}

	// No conflict clause: the id sequence is seeded past MaxID at startup,
	// so a collision is corruption and must surface, not be swallowed.
	query := fmt.Sprintf(
		`INSERT INTO trust_logs (id, timestamp, source_agent_id, target_agent_id, trust_result, policies_applied)
		VALUES %s`,
		strings.TrimSuffix(placeholderStr, ","))

	_, err := r.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: write trust log batch: %w", err)
	}
	return nil
}

// MaxID returns the highest archived entry id, 0 when the archive is empty.
// The in-process log seeds its sequence past it so restarts never reissue
// ids already on disk.
func (r *TrustLogRepo) MaxID(ctx context.Context) (uint64, error) {
	var max uint64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM trust_logs`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("postgres: trust log max id: %w", err)
	}
	return max, nil
}

// Recent returns the latest archived entries, newest last. Operational
// tooling reads here; the API serves from the in-process log.
func (r *TrustLogRepo) Recent(ctx context.Context, limit int) ([]domain.TrustLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, timestamp, source_agent_id, target_agent_id, trust_result, policies_applied
		FROM (
			SELECT * FROM trust_logs ORDER BY id DESC LIMIT $1
		) t ORDER BY id`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent trust logs: %w", err)
	}
	defer rows.Close()

	var out []domain.TrustLogEntry
	for rows.Next() {
		var e domain.TrustLogEntry
		var result, policies []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SourceAgentID, &e.TargetAgentID, &result, &policies); err != nil {
			return nil, fmt.Errorf("postgres: recent trust logs: %w", err)
		}
		if err := decodeJSON(result, &e.Result); err != nil {
			return nil, fmt.Errorf("postgres: decode verdict: %w", err)
		}
		if err := decodeJSON(policies, &e.PoliciesApplied); err != nil {
			return nil, fmt.Errorf("postgres: decode policies: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
