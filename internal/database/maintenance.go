package database

import (
	"context"
	"fmt"
	"strings"
)

const (
	draftsTable = "booking_drafts"
	auditsTable = "payment_audits"
)

// TruncateBookingTables empties booking_drafts and, when includeAudits is set,
// payment_audits. It returns the tables it cleared.
func TruncateBookingTables(ctx context.Context, db DB, includeAudits bool) ([]string, error) {
	tables := []string{draftsTable}
	if includeAudits {
		tables = append(tables, auditsTable)
	}

	query := fmt.Sprintf("TRUNCATE TABLE %s", strings.Join(tables, ", "))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to truncate %s: %w", strings.Join(tables, ", "), err)
	}
	return tables, nil
}

// CountRows returns the number of rows in one of the booking tables
func CountRows(ctx context.Context, db DB, table string) (int64, error) {
	if table != draftsTable && table != auditsTable {
		return 0, fmt.Errorf("unknown table: %s", table)
	}
	var count int64
	if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}
