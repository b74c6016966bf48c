package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// ExportRecord is one entry of the export history.
type ExportRecord struct {
	ID         int64
	Path       string
	TotalItems int
	TotalPrice float64
	Currency   string
	ExportedAt time.Time
}

// RecordExport appends an export to the history.
func RecordExport(db *sql.DB, rec ExportRecord) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO exports (path, total_items, total_price, currency, exported_at) VALUES (?, ?, ?, ?, ?)",
		rec.Path, rec.TotalItems, rec.TotalPrice, rec.Currency, rec.ExportedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert export: %w", err)
	}
	return res.LastInsertId()
}

// ListExports returns the export history, newest first.
func ListExports(db *sql.DB) ([]ExportRecord, error) {
	rows, err := db.Query(
		"SELECT id, path, total_items, total_price, currency, exported_at FROM exports ORDER BY exported_at DESC, id DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	var result []ExportRecord
	for rows.Next() {
		var r ExportRecord
		if err := rows.Scan(&r.ID, &r.Path, &r.TotalItems, &r.TotalPrice, &r.Currency, &r.ExportedAt); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exports: %w", err)
	}
	return result, nil
}
