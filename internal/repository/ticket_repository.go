package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uvhelp-io/uvhelp-ce/internal/database"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

// TicketRepository handles ticket and thread persistence for the mail
// pipeline: conversation correlation, the transactional ingest of one inbound
// message, and the thread metadata the outbound composer reads.
type TicketRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTicketRepository creates a ticket repository.
func NewTicketRepository(db *sql.DB) *TicketRepository {
	return &TicketRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// IngestInput describes the durable effects of one inbound message. Either
// ExistingTicketID is set (follow-up) or Ticket is non-nil (new conversation).
type IngestInput struct {
	ExistingTicketID int
	Ticket           *models.Ticket
	Thread           models.Thread
	// CollaboratorIDs are user-instance IDs to add to the ticket. The
	// customer is filtered out here as a second guard.
	CollaboratorIDs []int
}

// IngestResult reports what IngestThread created.
type IngestResult struct {
	TicketID      int
	ThreadID      int
	CreatedTicket bool
}

// MessageIDExists reports whether any thread already carries the message ID.
// This is the sole duplicate-delivery guard.
func (r *TicketRepository) MessageIDExists(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var one int
	err := r.db.QueryRowContext(ctx, database.ConvertPlaceholders(
		`SELECT 1 FROM uv_thread WHERE message_id = $1`), messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("message id lookup: %w", err)
	}
	return true, nil
}

// Correlate decides which existing ticket an incoming message belongs to.
// In-Reply-To is the highest-confidence signal and wins outright; otherwise
// reference tokens are scanned in header order (closest parent first) against
// thread message IDs and stored reference chains. Nil means new conversation.
//
// The reference-chain substring match is a heuristic carried over from the
// stored raw References value; exact thread-id matches are tried first for
// each token to limit false positives.
func (r *TicketRepository) Correlate(ctx context.Context, inReplyTo string, references []string) (*models.Ticket, error) {
	if inReplyTo != "" {
		ticket, err := r.findByThreadMessageID(ctx, inReplyTo)
		if err != nil {
			return nil, err
		}
		if ticket != nil {
			return ticket, nil
		}
	}
	for _, token := range references {
		if token == "" {
			continue
		}
		ticket, err := r.findByThreadMessageID(ctx, token)
		if err != nil {
			return nil, err
		}
		if ticket == nil {
			ticket, err = r.findByReferenceChain(ctx, token)
			if err != nil {
				return nil, err
			}
		}
		if ticket != nil {
			return ticket, nil
		}
	}
	return nil, nil
}

// IngestThread applies all durable effects of one inbound message in a single
// transaction: ticket creation or touch, collaborator rows, and the thread
// row. Either everything commits or nothing does.
func (r *TicketRepository) IngestThread(ctx context.Context, input IngestInput) (IngestResult, error) {
	var result IngestResult
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	customerID := input.Thread.UserInstanceID
	switch {
	case input.ExistingTicketID > 0:
		result.TicketID = input.ExistingTicketID
		if _, err := tx.ExecContext(ctx, database.ConvertPlaceholders(
			`UPDATE uv_ticket SET updated_at = $1 WHERE id = $2`),
			r.now(), result.TicketID); err != nil {
			return result, fmt.Errorf("touch ticket %d: %w", result.TicketID, err)
		}
		var ticketCustomer int
		if err := tx.QueryRowContext(ctx, database.ConvertPlaceholders(
			`SELECT customer_id FROM uv_ticket WHERE id = $1`), result.TicketID).Scan(&ticketCustomer); err != nil {
			return result, fmt.Errorf("load ticket %d: %w", result.TicketID, err)
		}
		customerID = ticketCustomer
	case input.Ticket != nil:
		id, err := database.InsertReturningID(ctx, tx, `
			INSERT INTO uv_ticket (subject, source, mailbox_email, reference_ids,
				customer_id, agent_id, status_id, priority_id, type_id,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			input.Ticket.Subject,
			input.Ticket.Source,
			input.Ticket.MailboxEmail,
			input.Ticket.ReferenceIDs,
			input.Ticket.CustomerID,
			input.Ticket.AgentID,
			input.Ticket.StatusID,
			input.Ticket.PriorityID,
			input.Ticket.TypeID,
			input.Ticket.CreatedAt,
			input.Ticket.UpdatedAt,
		)
		if err != nil {
			return result, fmt.Errorf("create ticket: %w", err)
		}
		result.TicketID = int(id)
		result.CreatedTicket = true
		customerID = input.Ticket.CustomerID
	default:
		return result, errors.New("ingest requires a ticket or an existing ticket id")
	}

	for _, instanceID := range input.CollaboratorIDs {
		if instanceID <= 0 || instanceID == customerID {
			continue
		}
		insert := database.ConvertPlaceholders(database.IgnoreConflict(`
			INSERT INTO uv_tickets_collaborators (ticket_id, user_instance_id)
			VALUES ($1, $2)
		`))
		if _, err := tx.ExecContext(ctx, insert, result.TicketID, instanceID); err != nil {
			return result, fmt.Errorf("add collaborator %d: %w", instanceID, err)
		}
	}

	threadID, err := r.insertThread(ctx, tx, result.TicketID, input.Thread)
	if err != nil {
		return result, err
	}
	result.ThreadID = threadID

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit ingest: %w", err)
	}
	return result, nil
}

// CreateThread appends one thread row outside ingestion, for agent replies,
// notes, and forwards. Callers supplying a message ID must guarantee it is
// globally unique or leave it nil.
func (r *TicketRepository) CreateThread(ctx context.Context, thread *models.Thread) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin thread create: %w", err)
	}
	defer tx.Rollback()

	id, err := r.insertThread(ctx, tx, thread.TicketID, *thread)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, database.ConvertPlaceholders(
		`UPDATE uv_ticket SET updated_at = $1 WHERE id = $2`),
		r.now(), thread.TicketID); err != nil {
		return fmt.Errorf("touch ticket %d: %w", thread.TicketID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit thread create: %w", err)
	}
	thread.ID = id
	return nil
}

// GetByID loads one ticket.
func (r *TicketRepository) GetByID(ctx context.Context, id int) (*models.Ticket, error) {
	return r.scanTicket(r.db.QueryRowContext(ctx, database.ConvertPlaceholders(
		ticketSelect+` WHERE id = $1`), id))
}

// ListThreadMessageIDs returns every known message ID on a ticket in creation
// order, the shape mail clients expect in a References header.
func (r *TicketRepository) ListThreadMessageIDs(ctx context.Context, ticketID int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, database.ConvertPlaceholders(`
		SELECT message_id FROM uv_thread
		WHERE ticket_id = $1 AND message_id IS NOT NULL
		ORDER BY created_at, id
	`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("list message ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// LatestIncomingMessageID returns the message ID of the most recent
// incoming_email thread, or "" when the ticket has none.
func (r *TicketRepository) LatestIncomingMessageID(ctx context.Context, ticketID int) (string, error) {
	var id sql.NullString
	err := r.db.QueryRowContext(ctx, database.ConvertPlaceholders(`
		SELECT message_id FROM uv_thread
		WHERE ticket_id = $1 AND thread_type = $2 AND message_id IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`), ticketID, models.ThreadTypeIncomingEmail).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest incoming message id: %w", err)
	}
	return id.String, nil
}

// SetThreadMessageID stamps a generated message ID onto an existing thread so
// later replies can chain from it.
func (r *TicketRepository) SetThreadMessageID(ctx context.Context, threadID int, messageID string) error {
	res, err := r.db.ExecContext(ctx, database.ConvertPlaceholders(
		`UPDATE uv_thread SET message_id = $1, updated_at = $2 WHERE id = $3`),
		messageID, r.now(), threadID)
	if err != nil {
		return fmt.Errorf("set thread %d message id: %w", threadID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set thread %d message id: thread not found", threadID)
	}
	return nil
}

// ListCollaboratorEmails returns the email addresses of a ticket's
// collaborators in insertion order.
func (r *TicketRepository) ListCollaboratorEmails(ctx context.Context, ticketID int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, database.ConvertPlaceholders(`
		SELECT u.email
		FROM uv_tickets_collaborators tc
		JOIN uv_user_instance ui ON ui.id = tc.user_instance_id
		JOIN uv_user u ON u.id = ui.user_id
		WHERE tc.ticket_id = $1
		ORDER BY tc.id
	`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

const ticketSelect = `
	SELECT id, subject, source, mailbox_email, reference_ids, customer_id,
	       agent_id, status_id, priority_id, type_id, created_at, updated_at
	FROM uv_ticket`

func (r *TicketRepository) findByThreadMessageID(ctx context.Context, messageID string) (*models.Ticket, error) {
	ticket, err := r.scanTicket(r.db.QueryRowContext(ctx, database.ConvertPlaceholders(`
		SELECT t.id, t.subject, t.source, t.mailbox_email, t.reference_ids,
		       t.customer_id, t.agent_id, t.status_id, t.priority_id, t.type_id,
		       t.created_at, t.updated_at
		FROM uv_ticket t
		JOIN uv_thread th ON th.ticket_id = t.id
		WHERE th.message_id = $1
	`), messageID))
	if err != nil {
		return nil, fmt.Errorf("ticket by message id: %w", err)
	}
	return ticket, nil
}

func (r *TicketRepository) findByReferenceChain(ctx context.Context, token string) (*models.Ticket, error) {
	ticket, err := r.scanTicket(r.db.QueryRowContext(ctx, database.ConvertPlaceholders(
		ticketSelect+` WHERE reference_ids LIKE $1 ORDER BY id LIMIT 1`),
		"%"+token+"%"))
	if err != nil {
		return nil, fmt.Errorf("ticket by reference chain: %w", err)
	}
	return ticket, nil
}

func (r *TicketRepository) insertThread(ctx context.Context, tx *sql.Tx, ticketID int, thread models.Thread) (int, error) {
	createdAt := thread.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	updatedAt := thread.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}
	var messageID any
	if thread.MessageID != nil && *thread.MessageID != "" {
		messageID = *thread.MessageID
	}
	id, err := database.InsertReturningID(ctx, tx, `
		INSERT INTO uv_thread (ticket_id, user_instance_id, source, thread_type,
			message_id, message, cc, bcc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ticketID,
		thread.UserInstanceID,
		thread.Source,
		thread.ThreadType,
		messageID,
		thread.Message,
		thread.CC,
		thread.BCC,
		createdAt,
		updatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("create thread: %w", err)
	}
	return int(id), nil
}

func (r *TicketRepository) scanTicket(row *sql.Row) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(
		&t.ID,
		&t.Subject,
		&t.Source,
		&t.MailboxEmail,
		&t.ReferenceIDs,
		&t.CustomerID,
		&t.AgentID,
		&t.StatusID,
		&t.PriorityID,
		&t.TypeID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
