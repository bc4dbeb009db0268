package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateItem inserts a new inspection item definition.
func (s *Store) CreateItem(name, description, checkType string, config CheckConfig) (InspectionItem, error) {
	now := time.Now().UTC()
	item := InspectionItem{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Description: description,
		CheckType:   checkType,
		Config:      config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return InspectionItem{}, fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO inspection_items (id, name, description, check_type, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Description, item.CheckType, string(configJSON), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return InspectionItem{}, ErrNameConflict
		}
		return InspectionItem{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

// UpdateItem overwrites an existing item's mutable fields.
func (s *Store) UpdateItem(id, name, description, checkType string, config CheckConfig) (InspectionItem, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return InspectionItem{}, fmt.Errorf("marshal config: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE inspection_items SET name=?, description=?, check_type=?, config=?, updated_at=? WHERE id=?`,
		strings.TrimSpace(name), description, checkType, string(configJSON), formatTime(now), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return InspectionItem{}, ErrNameConflict
		}
		return InspectionItem{}, fmt.Errorf("update item: %w", err)
	}
	if err := requireRowsAffected(res); err != nil {
		return InspectionItem{}, err
	}
	return s.GetItem(id)
}

// GetItem returns an item by id.
func (s *Store) GetItem(id string) (InspectionItem, error) {
	row := s.db.QueryRow(itemSelect+` WHERE id=?`, id)
	return scanItem(row)
}

// ListItems returns all items ordered by name.
func (s *Store) ListItems() ([]InspectionItem, error) {
	rows, err := s.db.Query(itemSelect + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []InspectionItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetItemsByIDs returns items for exactly the requested ids, in no
// particular order; callers that need input order must re-sort themselves.
// Returns ErrNotFound if any id does not resolve to an item.
func (s *Store) GetItemsByIDs(ids []string) (map[string]InspectionItem, error) {
	out := make(map[string]InspectionItem, len(ids))
	for _, id := range ids {
		item, err := s.GetItem(id)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		out[id] = item
	}
	return out, nil
}

// DeleteItem removes an item definition. Existing results retain their
// item_name snapshot and a dangling item_id, per the data model's
// "nullable if item was deleted mid-run" note.
func (s *Store) DeleteItem(id string) error {
	res, err := s.db.Exec(`DELETE FROM inspection_items WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return requireRowsAffected(res)
}

// ExportItems returns every item for a full dump, matching the
// /inspection-items/export wire shape.
func (s *Store) ExportItems() ([]InspectionItem, error) {
	return s.ListItems()
}

// ImportResult summarises an ImportItems call.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// ImportItems upserts items by name: an existing name is updated in place,
// an unseen name is created. Import never deletes items absent from the
// payload.
func (s *Store) ImportItems(items []InspectionItem) (ImportResult, error) {
	var result ImportResult
	existing, err := s.ListItems()
	if err != nil {
		return result, err
	}
	byName := make(map[string]InspectionItem, len(existing))
	for _, it := range existing {
		byName[it.Name] = it
	}

	for _, incoming := range items {
		result.Total++
		if current, ok := byName[incoming.Name]; ok {
			if _, err := s.UpdateItem(current.ID, incoming.Name, incoming.Description, incoming.CheckType, incoming.Config); err != nil {
				return result, fmt.Errorf("update %s during import: %w", incoming.Name, err)
			}
			result.Updated++
			continue
		}
		if _, err := s.CreateItem(incoming.Name, incoming.Description, incoming.CheckType, incoming.Config); err != nil {
			return result, fmt.Errorf("create %s during import: %w", incoming.Name, err)
		}
		result.Created++
	}
	return result, nil
}

const itemSelect = `SELECT id, name, description, check_type, config, created_at, updated_at FROM inspection_items`

func scanItem(row scanner) (InspectionItem, error) {
	var item InspectionItem
	var configJSON, createdAt, updatedAt string
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.CheckType, &configJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return InspectionItem{}, ErrNotFound
	}
	if err != nil {
		return InspectionItem{}, fmt.Errorf("scan item: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &item.Config); err != nil {
		return InspectionItem{}, fmt.Errorf("unmarshal config: %w", err)
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return item, nil
}
