package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// RunItemSnapshot is one item's locked-in name and position at the moment a
// run was created. Edits to the underlying InspectionItem afterwards never
// change what a run reports it evaluated.
type RunItemSnapshot struct {
	ItemID   string
	ItemName string
	Sequence int
}

// CreateRun admits a run: it validates nothing itself (callers — the Run
// Orchestrator — are responsible for cluster/item/license checks before
// calling this), snapshots item names in submission order, and inserts the
// run row in status=queued.
func (s *Store) CreateRun(clusterID, operator string, items []RunItemSnapshot, executor string) (InspectionRun, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return InspectionRun{}, fmt.Errorf("begin create run: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	run := InspectionRun{
		ID:         uuid.NewString(),
		ClusterID:  clusterID,
		Operator:   operator,
		Status:     RunQueued,
		Executor:   executor,
		TotalItems: len(items),
		CreatedAt:  now,
	}
	if executor == ExecutorAgent {
		run.AgentStatus = AgentRunQueued
	}

	if _, err := tx.Exec(
		`INSERT INTO inspection_runs (id, cluster_id, operator, status, executor, agent_status, total_items, processed_items, progress, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		run.ID, run.ClusterID, run.Operator, run.Status, run.Executor, run.AgentStatus, run.TotalItems, formatTime(now),
	); err != nil {
		return InspectionRun{}, fmt.Errorf("insert run: %w", err)
	}

	for _, item := range items {
		if _, err := tx.Exec(
			`INSERT INTO run_items (run_id, item_id, item_name, sequence) VALUES (?, ?, ?, ?)`,
			run.ID, item.ItemID, item.ItemName, item.Sequence,
		); err != nil {
			return InspectionRun{}, fmt.Errorf("snapshot run item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return InspectionRun{}, fmt.Errorf("commit create run: %w", err)
	}
	return run, nil
}

// SetRunAgent stamps a run's agent binding at admit time, when the
// orchestrator has decided executor=agent.
func (s *Store) SetRunAgent(runID, agentID string) error {
	res, err := s.db.Exec(`UPDATE inspection_runs SET agent_id=? WHERE id=?`, agentID, runID)
	if err != nil {
		return fmt.Errorf("set run agent: %w", err)
	}
	return requireRowsAffected(res)
}

// RunItems returns the item snapshots for a run, in submission order.
func (s *Store) RunItems(runID string) ([]RunItemSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT item_id, item_name, sequence FROM run_items WHERE run_id=? ORDER BY sequence`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	var out []RunItemSnapshot
	for rows.Next() {
		var snap RunItemSnapshot
		if err := rows.Scan(&snap.ItemID, &snap.ItemName, &snap.Sequence); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// StartRun transitions queued -> running and stamps started_at. Returns
// ErrInvalidTransition if the run is not currently queued.
func (s *Store) StartRun(id string) error {
	now := time.Now().UTC()
	return s.transitionRun(id, []string{RunQueued}, RunRunning, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE inspection_runs SET status=?, started_at=? WHERE id=?`, RunRunning, formatTime(now), id)
		return err
	})
}

// RecordResult inserts one result row for (run, item), advances
// processed_items/progress, and is idempotent on (run_id, item_id): a
// second call for the same pair is a no-op that returns the original row.
// It never finalises the run, even for the final outstanding item; callers
// invoke FinaliseRun themselves.
func (s *Store) RecordResult(runID, itemID, itemName, status, detail, suggestion string) (InspectionResult, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return InspectionResult{}, false, fmt.Errorf("begin record result: %w", err)
	}
	defer tx.Rollback()

	if existing, ok, err := existingResult(tx, runID, itemID); err != nil {
		return InspectionResult{}, false, err
	} else if ok {
		return existing, false, tx.Commit()
	}

	var run InspectionRun
	row := tx.QueryRow(runSelect+` WHERE id=?`, runID)
	run, err = scanRun(row)
	if err == ErrNotFound {
		return InspectionResult{}, false, ErrNotFound
	}
	if err != nil {
		return InspectionResult{}, false, err
	}

	result := InspectionResult{
		ID:         uuid.NewString(),
		RunID:      runID,
		ItemID:     itemID,
		ItemName:   itemName,
		Status:     status,
		Detail:     detail,
		Suggestion: suggestion,
	}
	seq, err := sequenceForItem(tx, runID, itemID)
	if err != nil {
		return InspectionResult{}, false, err
	}
	result.Sequence = seq

	if _, err := tx.Exec(
		`INSERT INTO inspection_results (id, run_id, item_id, item_name, status, detail, suggestion, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.RunID, result.ItemID, result.ItemName, result.Status, result.Detail, result.Suggestion, result.Sequence,
	); err != nil {
		return InspectionResult{}, false, fmt.Errorf("insert result: %w", err)
	}

	processed := run.ProcessedItems + 1
	progress := 0
	if run.TotalItems > 0 {
		progress = int(math.Round(100 * float64(processed) / float64(run.TotalItems)))
	}
	if _, err := tx.Exec(
		`UPDATE inspection_runs SET processed_items=?, progress=? WHERE id=?`,
		processed, progress, runID,
	); err != nil {
		return InspectionResult{}, false, fmt.Errorf("advance run progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return InspectionResult{}, false, fmt.Errorf("commit record result: %w", err)
	}
	return result, true, nil
}

func existingResult(tx *sql.Tx, runID, itemID string) (InspectionResult, bool, error) {
	row := tx.QueryRow(resultSelect+` WHERE run_id=? AND item_id=?`, runID, itemID)
	r, err := scanResult(row)
	if err == ErrNotFound {
		return InspectionResult{}, false, nil
	}
	if err != nil {
		return InspectionResult{}, false, err
	}
	return r, true, nil
}

func sequenceForItem(tx *sql.Tx, runID, itemID string) (int, error) {
	var seq int
	err := tx.QueryRow(`SELECT sequence FROM run_items WHERE run_id=? AND item_id=?`, runID, itemID).Scan(&seq)
	if err == sql.ErrNoRows {
		// Item was not part of the original snapshot (shouldn't happen in
		// practice); fall back to appending after existing results.
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM inspection_results WHERE run_id=?`, runID).Scan(&count); err != nil {
			return 0, err
		}
		return count, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup run item sequence: %w", err)
	}
	return seq, nil
}

// FinaliseRun computes the terminal status from accumulated results and
// marks the run terminal with a summary sentence. It is a no-op (returns
// the run unchanged) if the run is already terminal.
func (s *Store) FinaliseRun(id string) (InspectionRun, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return InspectionRun{}, fmt.Errorf("begin finalise: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(runSelect+` WHERE id=?`, id)
	run, err := scanRun(row)
	if err != nil {
		return InspectionRun{}, err
	}
	if isTerminal(run.Status) {
		return run, tx.Commit()
	}

	results, err := queryResultsTx(tx, id)
	if err != nil {
		return InspectionRun{}, err
	}

	passed, warnings, failed := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case ResultPassed:
			passed++
		case ResultWarning:
			warnings++
		case ResultFailed:
			failed++
		}
	}
	status := RunCompleted
	if failed > 0 || warnings > 0 || len(results) < run.TotalItems {
		status = RunIncomplete
	}
	if failed == 0 && warnings == 0 && len(results) == run.TotalItems {
		status = RunCompleted
	}
	summary := fmt.Sprintf("%d item(s) passed, %d warning(s), %d failed", passed, warnings, failed)

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`UPDATE inspection_runs SET status=?, summary=?, completed_at=? WHERE id=?`,
		status, summary, formatTime(now), id,
	); err != nil {
		return InspectionRun{}, fmt.Errorf("finalise run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return InspectionRun{}, fmt.Errorf("commit finalise: %w", err)
	}
	run.Status = status
	run.Summary = summary
	run.CompletedAt = &now
	return run, nil
}

// CancelRun requests cancellation: terminal runs are returned unchanged
// (idempotent, no error); queued/running runs are marked cancelled and any
// items with no result yet get a failed "cancelled" result so the result
// count invariant holds at completion.
func (s *Store) CancelRun(id string) (InspectionRun, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return InspectionRun{}, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(runSelect+` WHERE id=?`, id)
	run, err := scanRun(row)
	if err != nil {
		return InspectionRun{}, err
	}
	if isTerminal(run.Status) {
		return run, tx.Commit()
	}

	items, err := queryRunItemsTx(tx, id)
	if err != nil {
		return InspectionRun{}, err
	}
	results, err := queryResultsTx(tx, id)
	if err != nil {
		return InspectionRun{}, err
	}
	done := make(map[string]struct{}, len(results))
	for _, r := range results {
		done[r.ItemID] = struct{}{}
	}

	processed := len(results)
	for _, item := range items {
		if _, ok := done[item.ItemID]; ok {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO inspection_results (id, run_id, item_id, item_name, status, detail, suggestion, sequence)
			 VALUES (?, ?, ?, ?, ?, ?, '', ?)`,
			uuid.NewString(), id, item.ItemID, item.ItemName, ResultFailed, "cancelled before execution", item.Sequence,
		); err != nil {
			return InspectionRun{}, fmt.Errorf("insert cancelled-skip result: %w", err)
		}
		processed++
	}

	progress := 0
	if run.TotalItems > 0 {
		progress = int(math.Round(100 * float64(processed) / float64(run.TotalItems)))
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(
		`UPDATE inspection_runs SET status=?, processed_items=?, progress=?, completed_at=? WHERE id=?`,
		RunCancelled, processed, progress, formatTime(now), id,
	); err != nil {
		return InspectionRun{}, fmt.Errorf("cancel run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return InspectionRun{}, fmt.Errorf("commit cancel: %w", err)
	}

	run.Status = RunCancelled
	run.ProcessedItems = processed
	run.Progress = progress
	run.CompletedAt = &now
	return run, nil
}

// FailRemainingResults inserts a failed result with the given detail for
// every item in the run's snapshot that has no result row yet, advancing
// processed_items/progress accordingly. The run's own status is left for
// FinaliseRun to derive — with failed rows present that is incomplete.
// A terminal run is left untouched.
func (s *Store) FailRemainingResults(id, detail string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin fail remaining: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(runSelect+` WHERE id=?`, id)
	run, err := scanRun(row)
	if err != nil {
		return err
	}
	if isTerminal(run.Status) {
		return tx.Commit()
	}

	items, err := queryRunItemsTx(tx, id)
	if err != nil {
		return err
	}
	results, err := queryResultsTx(tx, id)
	if err != nil {
		return err
	}
	done := make(map[string]struct{}, len(results))
	for _, r := range results {
		done[r.ItemID] = struct{}{}
	}

	processed := len(results)
	for _, item := range items {
		if _, ok := done[item.ItemID]; ok {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO inspection_results (id, run_id, item_id, item_name, status, detail, suggestion, sequence)
			 VALUES (?, ?, ?, ?, ?, ?, '', ?)`,
			uuid.NewString(), id, item.ItemID, item.ItemName, ResultFailed, detail, item.Sequence,
		); err != nil {
			return fmt.Errorf("insert failed-skip result: %w", err)
		}
		processed++
	}

	progress := 0
	if run.TotalItems > 0 {
		progress = int(math.Round(100 * float64(processed) / float64(run.TotalItems)))
	}
	if _, err := tx.Exec(
		`UPDATE inspection_runs SET processed_items=?, progress=? WHERE id=?`,
		processed, progress, id,
	); err != nil {
		return fmt.Errorf("advance run progress: %w", err)
	}
	return tx.Commit()
}

// SetRunAgentStatus updates the per-run agent dispatch state.
func (s *Store) SetRunAgentStatus(id, agentStatus string) error {
	res, err := s.db.Exec(`UPDATE inspection_runs SET agent_status=? WHERE id=?`, agentStatus, id)
	if err != nil {
		return fmt.Errorf("set run agent status: %w", err)
	}
	return requireRowsAffected(res)
}

// RefreshRunLease extends lease_expires_at for an agent-executor run,
// called on each SubmitResult that leaves items outstanding. The initial
// lease is set by ClaimAgentRunsForDispatch.
func (s *Store) RefreshRunLease(id string, expiresAt time.Time) error {
	res, err := s.db.Exec(`UPDATE inspection_runs SET lease_expires_at=? WHERE id=?`, formatTime(expiresAt), id)
	if err != nil {
		return fmt.Errorf("refresh run lease: %w", err)
	}
	return requireRowsAffected(res)
}

// ClaimAgentRunsForDispatch atomically selects up to max runs bound to
// agentID that are queued for dispatch, marks them running with a fresh
// lease, and returns them. Concurrent callers racing on the same rows will
// only ever see each run claimed once, because the UPDATE...WHERE guards on
// the pre-claim state.
func (s *Store) ClaimAgentRunsForDispatch(agentID string, max int, leaseTTL time.Duration) ([]InspectionRun, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		runSelect+` WHERE agent_id=? AND executor=? AND agent_status=? ORDER BY created_at LIMIT ?`,
		agentID, ExecutorAgent, AgentRunQueued, max,
	)
	if err != nil {
		return nil, fmt.Errorf("select claimable runs: %w", err)
	}
	var candidates []InspectionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lease := now.Add(leaseTTL)
	var claimed []InspectionRun
	for _, r := range candidates {
		res, err := tx.Exec(
			`UPDATE inspection_runs SET status=?, agent_status=?, started_at=COALESCE(started_at, ?), lease_expires_at=? WHERE id=? AND agent_status=?`,
			RunRunning, AgentRunRunning, formatTime(now), formatTime(lease), r.ID, AgentRunQueued,
		)
		if err != nil {
			return nil, fmt.Errorf("claim run %s: %w", r.ID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue // lost the race to another puller
		}
		r.Status = RunRunning
		r.AgentStatus = AgentRunRunning
		r.LeaseExpiresAt = &lease
		claimed = append(claimed, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

// SweepExpiredLeases detaches every agent-executor run whose lease has
// expired, returning them to agent_status=queued so any bound agent can
// re-pull them. It returns the runs that were detached.
func (s *Store) SweepExpiredLeases(now time.Time) ([]InspectionRun, error) {
	rows, err := s.db.Query(
		runSelect+` WHERE executor=? AND status=? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		ExecutorAgent, RunRunning, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("select expired leases: %w", err)
	}
	var expired []InspectionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var detached []InspectionRun
	for _, r := range expired {
		res, err := s.db.Exec(
			`UPDATE inspection_runs SET agent_status=?, lease_expires_at=NULL WHERE id=? AND lease_expires_at=?`,
			AgentRunQueued, r.ID, formatTime(*r.LeaseExpiresAt),
		)
		if err != nil {
			return nil, fmt.Errorf("detach expired lease %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.AgentStatus = AgentRunQueued
			r.LeaseExpiresAt = nil
			detached = append(detached, r)
		}
	}
	return detached, nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(id string) (InspectionRun, error) {
	row := s.db.QueryRow(runSelect+` WHERE id=?`, id)
	return scanRun(row)
}

// ListRuns returns runs ordered newest first, optionally filtered by
// cluster.
func (s *Store) ListRuns(clusterID string) ([]InspectionRun, error) {
	query := runSelect + ` WHERE 1=1`
	args := []any{}
	if clusterID != "" {
		query += ` AND cluster_id=?`
		args = append(args, clusterID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []InspectionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetRunReportPath stamps the persisted artefact location after the Report
// Emitter runs.
func (s *Store) SetRunReportPath(id, path string) error {
	_, err := s.db.Exec(`UPDATE inspection_runs SET report_path=? WHERE id=?`, path, id)
	if err != nil {
		return fmt.Errorf("set report path: %w", err)
	}
	return nil
}

// DeleteRun cascade-deletes a run's results and item snapshots.
func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete run: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM inspection_runs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if err := requireRowsAffected(res); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM inspection_results WHERE run_id=?`, id); err != nil {
		return fmt.Errorf("cascade delete results: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM run_items WHERE run_id=?`, id); err != nil {
		return fmt.Errorf("cascade delete run items: %w", err)
	}
	return tx.Commit()
}

func isTerminal(status string) bool {
	switch status {
	case RunCompleted, RunIncomplete, RunCancelled:
		return true
	}
	return false
}

// transitionRun performs a guarded UPDATE analogous to a compare-and-swap:
// it only applies fn's mutation if the run's current status is one of
// fromStatuses, returning ErrInvalidTransition otherwise.
func (s *Store) transitionRun(id string, fromStatuses []string, toStatus string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT status FROM inspection_runs WHERE id=?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read run status: %w", err)
	}

	allowed := false
	for _, f := range fromStatuses {
		if current == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const runSelect = `SELECT id, cluster_id, operator, status, executor, agent_id, agent_status, total_items,
	processed_items, progress, summary, report_path, created_at, started_at, completed_at, lease_expires_at
	FROM inspection_runs`

func scanRun(row scanner) (InspectionRun, error) {
	var r InspectionRun
	var startedAt, completedAt, leaseExpiresAt sql.NullString
	var createdAt string
	err := row.Scan(&r.ID, &r.ClusterID, &r.Operator, &r.Status, &r.Executor, &r.AgentID, &r.AgentStatus,
		&r.TotalItems, &r.ProcessedItems, &r.Progress, &r.Summary, &r.ReportPath, &createdAt,
		&startedAt, &completedAt, &leaseExpiresAt)
	if err == sql.ErrNoRows {
		return InspectionRun{}, ErrNotFound
	}
	if err != nil {
		return InspectionRun{}, fmt.Errorf("scan run: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.StartedAt = scanNullableTime(startedAt)
	r.CompletedAt = scanNullableTime(completedAt)
	r.LeaseExpiresAt = scanNullableTime(leaseExpiresAt)
	return r, nil
}

func queryRunItemsTx(tx *sql.Tx, runID string) ([]RunItemSnapshot, error) {
	rows, err := tx.Query(`SELECT item_id, item_name, sequence FROM run_items WHERE run_id=? ORDER BY sequence`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()
	var out []RunItemSnapshot
	for rows.Next() {
		var s RunItemSnapshot
		if err := rows.Scan(&s.ItemID, &s.ItemName, &s.Sequence); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
