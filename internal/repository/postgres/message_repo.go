package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/trustgate/internal/domain"
)

// MessageRepo persists delivered messages for history queries. The gateway's
// MessageStore.
type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Save(ctx context.Context, msg domain.Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	query := `INSERT INTO messages
		(id, from_agent_id, to_agent_id, content, kind, timestamp, trust_verified, processed, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.ExecContext(ctx, query,
		msg.ID, msg.FromAgentID, msg.ToAgentID, msg.Content, msg.Kind,
		msg.Timestamp, msg.TrustVerified, msg.Processed, metadata)
	if err != nil {
		return fmt.Errorf("postgres: save message: %w", err)
	}
	return nil
}

func (r *MessageRepo) ListByAgent(ctx context.Context, agentID string) ([]domain.Message, error) {
	query := `SELECT id, from_agent_id, to_agent_id, content, kind, timestamp,
			trust_verified, processed, metadata
		FROM messages
		WHERE from_agent_id = $1 OR to_agent_id = $1
		ORDER BY timestamp, id`

	rows, err := r.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var msg domain.Message
		var metadata []byte
		err := rows.Scan(&msg.ID, &msg.FromAgentID, &msg.ToAgentID, &msg.Content,
			&msg.Kind, &msg.Timestamp, &msg.TrustVerified, &msg.Processed, &metadata)
		if err != nil {
			return nil, fmt.Errorf("postgres: list messages: %w", err)
		}
		if err := decodeJSON(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: decode metadata: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
