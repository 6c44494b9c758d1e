package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uvhelp-io/uvhelp-ce/internal/database"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

// MailboxRepository reads the configured mail accounts. The fetch pipeline
// never writes mailbox rows.
type MailboxRepository struct {
	db *sql.DB
}

// NewMailboxRepository creates a mailbox repository.
func NewMailboxRepository(db *sql.DB) *MailboxRepository {
	return &MailboxRepository{db: db}
}

// ListEnabled returns every mailbox flagged for polling.
func (r *MailboxRepository) ListEnabled(ctx context.Context) ([]models.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, database.ConvertPlaceholders(`
		SELECT id, name, email, protocol, imap_host, imap_port, imap_encryption,
		       imap_username, imap_password, is_enabled, delete_after_fetch
		FROM uv_mailbox
		WHERE is_enabled = $1
		ORDER BY id
	`), true)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	defer rows.Close()

	var mailboxes []models.Mailbox
	for rows.Next() {
		var m models.Mailbox
		if err := rows.Scan(
			&m.ID,
			&m.Name,
			&m.Email,
			&m.Protocol,
			&m.Host,
			&m.Port,
			&m.Encryption,
			&m.Username,
			&m.Password,
			&m.IsEnabled,
			&m.DeleteAfterFetch,
		); err != nil {
			return nil, fmt.Errorf("scan mailbox: %w", err)
		}
		mailboxes = append(mailboxes, m)
	}
	return mailboxes, rows.Err()
}
