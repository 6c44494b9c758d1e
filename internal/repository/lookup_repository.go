package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uvhelp-io/uvhelp-ce/internal/database"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

// LookupRepository manages the status/priority/type rows tickets reference.
type LookupRepository struct {
	db *sql.DB
}

// NewLookupRepository creates a lookup repository.
func NewLookupRepository(db *sql.DB) *LookupRepository {
	return &LookupRepository{db: db}
}

// Default lookup rows applied to tickets created by ingestion.
const (
	defaultStatusCode   = "Open"
	defaultPriorityCode = "Low"
	defaultTypeCode     = "Question"
)

// EnsureTicketDefaults gets or creates the default status, priority, and type
// rows. Run once before the mailbox loop; uses the same insert-ignore pattern
// as identity resolution so concurrent bootstraps cannot duplicate rows.
func (r *LookupRepository) EnsureTicketDefaults(ctx context.Context) (models.TicketDefaults, error) {
	var defaults models.TicketDefaults
	var err error
	if defaults.StatusID, err = r.ensure(ctx, "uv_ticket_status", defaultStatusCode, "Open Ticket"); err != nil {
		return defaults, fmt.Errorf("default status: %w", err)
	}
	if defaults.PriorityID, err = r.ensure(ctx, "uv_ticket_priority", defaultPriorityCode, "Low Priority"); err != nil {
		return defaults, fmt.Errorf("default priority: %w", err)
	}
	if defaults.TypeID, err = r.ensure(ctx, "uv_ticket_type", defaultTypeCode, "General Question"); err != nil {
		return defaults, fmt.Errorf("default type: %w", err)
	}
	return defaults, nil
}

func (r *LookupRepository) ensure(ctx context.Context, table, code, description string) (int, error) {
	insert := database.ConvertPlaceholders(database.IgnoreConflict(fmt.Sprintf(
		`INSERT INTO %s (code, description) VALUES ($1, $2)`, table)))
	if _, err := r.db.ExecContext(ctx, insert, code, description); err != nil {
		return 0, err
	}
	var id int
	err := r.db.QueryRowContext(ctx, database.ConvertPlaceholders(
		fmt.Sprintf(`SELECT id FROM %s WHERE code = $1`, table)), code).Scan(&id)
	return id, err
}
