package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordAudit appends one entry to the audit log. The log is append-only:
// there is no Update or Delete for individual entries, only the retention
// sweep in PruneAuditOlderThan.
func (s *Store) RecordAudit(actor, action, target, detail string) (AuditEntry, error) {
	now := time.Now().UTC()
	e := AuditEntry{
		ID:     uuid.NewString(),
		Actor:  actor,
		Action: action,
		Target: target,
		Detail: detail,
		At:     now,
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, actor, action, target, detail, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, e.Action, e.Target, e.Detail, formatTime(now),
	)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return e, nil
}

// AuditFilter narrows ListAudit results. A zero-value Filter returns
// everything (subject to Limit).
type AuditFilter struct {
	Action string
	Target string
	Since  time.Time
	Limit  int
}

// ListAudit returns audit entries newest-first matching f.
func (s *Store) ListAudit(f AuditFilter) ([]AuditEntry, error) {
	query := `SELECT id, actor, action, target, detail, at FROM audit_log WHERE 1=1`
	var args []any
	if f.Action != "" {
		query += ` AND action=?`
		args = append(args, f.Action)
	}
	if f.Target != "" {
		query += ` AND target=?`
		args = append(args, f.Target)
	}
	if !f.Since.IsZero() {
		query += ` AND at >= ?`
		args = append(args, formatTime(f.Since))
	}
	query += ` ORDER BY at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneAuditOlderThan deletes audit entries older than cutoff, mirroring
// the run-retention sweep pattern used elsewhere in this store.
func (s *Store) PruneAuditOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM audit_log WHERE at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
