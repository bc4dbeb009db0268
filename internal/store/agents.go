package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateAgent inserts a new agent with a pre-hashed token. The caller
// (internal/agentcoord) is responsible for generating the raw token and
// hashing it; Store never sees the plaintext.
func (s *Store) CreateAgent(name, clusterID, description, prometheusURL, tokenHash string) (InspectionAgent, error) {
	now := time.Now().UTC()
	a := InspectionAgent{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(name),
		ClusterID:     clusterID,
		Description:   description,
		IsEnabled:     true,
		PrometheusURL: prometheusURL,
		TokenHash:     tokenHash,
		CreatedAt:     now,
	}
	_, err := s.db.Exec(
		`INSERT INTO inspection_agents (id, name, cluster_id, description, is_enabled, prometheus_url, token_hash, created_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		a.ID, a.Name, a.ClusterID, a.Description, a.PrometheusURL, a.TokenHash, formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return InspectionAgent{}, ErrNameConflict
		}
		return InspectionAgent{}, fmt.Errorf("insert agent: %w", err)
	}
	return a, nil
}

// RotateAgentToken replaces an agent's stored token hash in place, used both
// by explicit rotation and by idempotent re-registration under the same
// name.
func (s *Store) RotateAgentToken(id, tokenHash string) error {
	res, err := s.db.Exec(`UPDATE inspection_agents SET token_hash=? WHERE id=?`, tokenHash, id)
	if err != nil {
		return fmt.Errorf("rotate agent token: %w", err)
	}
	return requireRowsAffected(res)
}

// GetAgent returns an agent by id.
func (s *Store) GetAgent(id string) (InspectionAgent, error) {
	row := s.db.QueryRow(agentSelect+` WHERE id=?`, id)
	return scanAgent(row)
}

// FindAgentByName returns an agent by its unique name, or ErrNotFound.
func (s *Store) FindAgentByName(name string) (InspectionAgent, error) {
	row := s.db.QueryRow(agentSelect+` WHERE name=?`, name)
	return scanAgent(row)
}

// ListAgents returns all agents ordered by name.
func (s *Store) ListAgents() ([]InspectionAgent, error) {
	rows, err := s.db.Query(agentSelect + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []InspectionAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// There is no lookup by token hash: agentcoord's Authenticate and
// AuthenticateByID load an agent by name or id and compare the presented
// token against its stored hash.

// TouchAgentLastSeen updates last_seen_at to now, called on every
// authenticated agent call.
func (s *Store) TouchAgentLastSeen(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`UPDATE inspection_agents SET last_seen_at=? WHERE id=?`, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("touch agent last seen: %w", err)
	}
	return nil
}

// SetAgentEnabled toggles whether an agent may be selected as a cluster's
// default agent or pull tasks.
func (s *Store) SetAgentEnabled(id string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.Exec(`UPDATE inspection_agents SET is_enabled=? WHERE id=?`, v, id)
	if err != nil {
		return fmt.Errorf("set agent enabled: %w", err)
	}
	return requireRowsAffected(res)
}

// DeleteAgent removes an agent. Historic runs that reference it by
// agent_id are left untouched, per the data model's independent-ownership
// note.
func (s *Store) DeleteAgent(id string) error {
	res, err := s.db.Exec(`DELETE FROM inspection_agents WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return requireRowsAffected(res)
}

const agentSelect = `SELECT id, name, cluster_id, description, is_enabled, prometheus_url, token_hash, last_seen_at, created_at FROM inspection_agents`

func scanAgent(row scanner) (InspectionAgent, error) {
	var a InspectionAgent
	var enabled int
	var lastSeen sql.NullString
	var createdAt string
	err := row.Scan(&a.ID, &a.Name, &a.ClusterID, &a.Description, &enabled, &a.PrometheusURL, &a.TokenHash, &lastSeen, &createdAt)
	if err == sql.ErrNoRows {
		return InspectionAgent{}, ErrNotFound
	}
	if err != nil {
		return InspectionAgent{}, fmt.Errorf("scan agent: %w", err)
	}
	a.IsEnabled = enabled != 0
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		a.LastSeenAt = &t
	}
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}
