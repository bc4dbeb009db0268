package store

import (
	"database/sql"
	"fmt"
)

const resultSelect = `SELECT id, run_id, item_id, item_name, status, detail, suggestion, sequence FROM inspection_results`

func scanResult(row scanner) (InspectionResult, error) {
	var r InspectionResult
	err := row.Scan(&r.ID, &r.RunID, &r.ItemID, &r.ItemName, &r.Status, &r.Detail, &r.Suggestion, &r.Sequence)
	if err == sql.ErrNoRows {
		return InspectionResult{}, ErrNotFound
	}
	if err != nil {
		return InspectionResult{}, fmt.Errorf("scan result: %w", err)
	}
	return r, nil
}

// GetResults returns every result row for a run, ordered by the item's
// original submission sequence (not arrival order, which matters for
// agent-submitted results that may land out of order).
func (s *Store) GetResults(runID string) ([]InspectionResult, error) {
	rows, err := s.db.Query(resultSelect+` WHERE run_id=? ORDER BY sequence`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []InspectionResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryResultsTx(tx *sql.Tx, runID string) ([]InspectionResult, error) {
	rows, err := tx.Query(resultSelect+` WHERE run_id=? ORDER BY sequence`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []InspectionResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
