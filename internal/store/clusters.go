package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateCluster inserts a new cluster in execution_mode=server with
// connection_status=unknown. The caller is expected to invoke the Cluster
// Probe afterwards to populate connection fields.
func (s *Store) CreateCluster(name, kubeconfigPath, prometheusURL string, contexts []string) (Cluster, error) {
	now := time.Now().UTC()
	c := Cluster{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(name),
		KubeconfigPath:   kubeconfigPath,
		PrometheusURL:    prometheusURL,
		Contexts:         contexts,
		ConnectionStatus: ConnectionUnknown,
		ExecutionMode:    ExecutorServer,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ctxJSON, err := json.Marshal(contexts)
	if err != nil {
		return Cluster{}, fmt.Errorf("marshal contexts: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO clusters (id, name, kubeconfig_path, prometheus_url, contexts, connection_status, execution_mode, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.KubeconfigPath, c.PrometheusURL, string(ctxJSON), c.ConnectionStatus, c.ExecutionMode,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Cluster{}, ErrNameConflict
		}
		return Cluster{}, fmt.Errorf("insert cluster: %w", err)
	}
	return c, nil
}

// SetClusterKubeconfigPath updates where a cluster's kubeconfig blob is
// staged on disk, used once the HTTP layer has written an uploaded file
// under a path keyed by the cluster's freshly minted id.
func (s *Store) SetClusterKubeconfigPath(id, path string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE clusters SET kubeconfig_path=?, updated_at=? WHERE id=?`,
		path, formatTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("set cluster kubeconfig path: %w", err)
	}
	return requireRowsAffected(res)
}

// SetClusterContexts replaces the context names recorded for a cluster,
// used when a new kubeconfig is uploaded for an existing row.
func (s *Store) SetClusterContexts(id string, contexts []string) error {
	ctxJSON, err := json.Marshal(contexts)
	if err != nil {
		return fmt.Errorf("marshal contexts: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE clusters SET contexts=?, updated_at=? WHERE id=?`,
		string(ctxJSON), formatTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("set cluster contexts: %w", err)
	}
	return requireRowsAffected(res)
}

// RenameCluster updates a cluster's display name.
func (s *Store) RenameCluster(id, name string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE clusters SET name=?, updated_at=? WHERE id=?`,
		strings.TrimSpace(name), formatTime(now), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameConflict
		}
		return fmt.Errorf("rename cluster: %w", err)
	}
	return requireRowsAffected(res)
}

// SetClusterPrometheusURL updates the Prometheus endpoint promql and
// resource-usage builtin items query against for a cluster.
func (s *Store) SetClusterPrometheusURL(id, prometheusURL string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE clusters SET prometheus_url=?, updated_at=? WHERE id=?`,
		prometheusURL, formatTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("set cluster prometheus url: %w", err)
	}
	return requireRowsAffected(res)
}

// UpdateClusterConnection persists the Cluster Probe's findings.
func (s *Store) UpdateClusterConnection(id, status, message, version string, nodeCount *int) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE clusters SET connection_status=?, connection_message=?, kubernetes_version=?, node_count=?, last_checked_at=?, updated_at=? WHERE id=?`,
		status, message, version, nodeCount, formatTime(now), formatTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("update cluster connection: %w", err)
	}
	return requireRowsAffected(res)
}

// SetClusterExecutionMode sets how a cluster dispatches run work. When mode
// is agent, defaultAgentID must reference an existing, enabled agent;
// otherwise ErrAgentRequiredButAbsent is returned and nothing is changed.
func (s *Store) SetClusterExecutionMode(id, mode, defaultAgentID string) error {
	if mode == ExecutorAgent {
		agent, err := s.GetAgent(defaultAgentID)
		if err != nil {
			return ErrAgentRequiredButAbsent
		}
		if !agent.IsEnabled {
			return ErrAgentRequiredButAbsent
		}
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE clusters SET execution_mode=?, default_agent_id=?, updated_at=? WHERE id=?`,
		mode, defaultAgentID, formatTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("update cluster execution mode: %w", err)
	}
	return requireRowsAffected(res)
}

// GetCluster returns a cluster by id.
func (s *Store) GetCluster(id string) (Cluster, error) {
	row := s.db.QueryRow(clusterSelect+` WHERE id=?`, id)
	return scanCluster(row)
}

// ListClusters returns all clusters ordered by name.
func (s *Store) ListClusters() ([]Cluster, error) {
	rows, err := s.db.Query(clusterSelect + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCluster removes a cluster row. The caller is responsible for the
// optional cascade of runs/reports when delete_files is requested; that
// cascade lives at the HTTP layer since it also touches the filesystem.
func (s *Store) DeleteCluster(id string) error {
	res, err := s.db.Exec(`DELETE FROM clusters WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	return requireRowsAffected(res)
}

// DeleteRunsForCluster cascade-deletes every run (and its results) owned by
// cluster id, used when an operator requests delete_files=true on cluster
// deletion.
func (s *Store) DeleteRunsForCluster(clusterID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM inspection_runs WHERE cluster_id=?`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("list runs for cluster: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := s.DeleteRun(id); err != nil && !IsNotFound(err) {
			return nil, err
		}
	}
	return ids, nil
}

const clusterSelect = `SELECT id, name, kubeconfig_path, prometheus_url, contexts, connection_status,
	connection_message, kubernetes_version, node_count, last_checked_at, execution_mode,
	default_agent_id, created_at, updated_at FROM clusters`

func scanCluster(row scanner) (Cluster, error) {
	var c Cluster
	var contextsJSON string
	var nodeCount sql.NullInt64
	var lastChecked sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.Name, &c.KubeconfigPath, &c.PrometheusURL, &contextsJSON, &c.ConnectionStatus,
		&c.ConnectionMessage, &c.KubernetesVersion, &nodeCount, &lastChecked, &c.ExecutionMode,
		&c.DefaultAgentID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Cluster{}, ErrNotFound
	}
	if err != nil {
		return Cluster{}, fmt.Errorf("scan cluster: %w", err)
	}
	if err := json.Unmarshal([]byte(contextsJSON), &c.Contexts); err != nil {
		return Cluster{}, fmt.Errorf("unmarshal contexts: %w", err)
	}
	if nodeCount.Valid {
		n := int(nodeCount.Int64)
		c.NodeCount = &n
	}
	if lastChecked.Valid {
		t := parseTime(lastChecked.String)
		c.LastCheckedAt = &t
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}
