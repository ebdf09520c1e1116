package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/registry"
)

const pgUniqueViolation = "23505"

// AgentRepo is the durable registry.Registry. Policy sets, attributes and
// credentials live as JSONB; Get/List deserialize fresh copies, so the
// copy-on-read contract holds for free.
type AgentRepo struct {
	db *sql.DB
}

func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

const agentColumns = `id, name, organization, description, status, credential,
	verified, verification_details, policies, attributes, api_key_hash,
	created_at, last_active`

func (r *AgentRepo) Create(ctx context.Context, agent *domain.Agent) error {
	if agent.Status == "" {
		agent.Status = domain.StatusInactive
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	credential, err := json.Marshal(agent.Credential)
	if err != nil {
		return fmt.Errorf("postgres: marshal credential: %w", err)
	}
	details, err := json.Marshal(agent.VerificationDetails)
	if err != nil {
		return fmt.Errorf("postgres: marshal verification details: %w", err)
	}
	policies, err := json.Marshal(agent.Policies)
	if err != nil {
		return fmt.Errorf("postgres: marshal policies: %w", err)
	}
	attributes, err := json.Marshal(agent.Attributes)
	if err != nil {
		return fmt.Errorf("postgres: marshal attributes: %w", err)
	}

	query := `INSERT INTO agents (` + agentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	var lastActive interface{}
	if !agent.LastActive.IsZero() {
		lastActive = agent.LastActive
	}

	_, err = r.db.ExecContext(ctx, query,
		agent.ID, agent.Name, agent.Organization, agent.Description, agent.Status,
		credential, agent.Verified, details, policies, attributes, agent.APIKeyHash,
		agent.CreatedAt, lastActive)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return registry.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create agent: %w", err)
	}
	return nil
}

func (r *AgentRepo) Get(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	agent, err := scanAgent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get agent: %w", err)
	}
	return agent, nil
}

func (r *AgentRepo) List(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list agents: %w", err)
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (r *AgentRepo) SetStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	var current domain.AgentStatus
	var verified bool
	err = tx.QueryRowContext(ctx,
		`SELECT status, verified FROM agents WHERE id = $1 FOR UPDATE`, id).
		Scan(&current, &verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.ErrNotFound
		}
		return fmt.Errorf("postgres: set status: %w", err)
	}

	if current == status {
		return tx.Commit()
	}
	if !domain.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", registry.ErrInvalidTransition, current, status)
	}
	if status == domain.StatusActive && !verified {
		return registry.ErrNotVerified
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE agents SET status = $1 WHERE id = $2`, status, id); err != nil {
		return fmt.Errorf("postgres: set status: %w", err)
	}
	return tx.Commit()
}

func (r *AgentRepo) SetVerification(ctx context.Context, id string, verified bool, details map[string]interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("postgres: marshal verification details: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET verified = $1, verification_details = $2 WHERE id = $3`,
		verified, payload, id)
	if err != nil {
		return fmt.Errorf("postgres: set verification: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (r *AgentRepo) TouchLastActive(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(
		`UPDATE agents SET last_active = NOW() WHERE id IN (%s)`,
		strings.Join(placeholders, ", "))
	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: touch last active: %w", err)
	}
	return nil
}

func (r *AgentRepo) SuspendedAgents(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM agents WHERE status = $1`, domain.StatusSuspended)
	if err != nil {
		return nil, fmt.Errorf("postgres: suspended agents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: suspended agents: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var (
		agent      domain.Agent
		credential []byte
		details    []byte
		policies   []byte
		attributes []byte
		lastActive sql.NullTime
	)

	err := row.Scan(
		&agent.ID, &agent.Name, &agent.Organization, &agent.Description, &agent.Status,
		&credential, &agent.Verified, &details, &policies, &attributes, &agent.APIKeyHash,
		&agent.CreatedAt, &lastActive)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(credential, &agent.Credential); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	if err := decodeJSON(details, &agent.VerificationDetails); err != nil {
		return nil, fmt.Errorf("decode verification details: %w", err)
	}
	if err := decodeJSON(policies, &agent.Policies); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}
	if err := decodeJSON(attributes, &agent.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if lastActive.Valid {
		agent.LastActive = lastActive.Time
	}
	return &agent, nil
}

// decodeJSON tolerates NULL columns.
func decodeJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
