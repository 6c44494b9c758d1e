package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

func newTicketFixture(t *testing.T) (*TicketRepository, *UserRepository, models.TicketDefaults, *models.UserInstance) {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()

	defaults, err := NewLookupRepository(db).EnsureTicketDefaults(ctx)
	require.NoError(t, err)

	users := NewUserRepository(db)
	customer, err := users.ResolveCustomer(ctx, "jane@example.com", "Jane Doe")
	require.NoError(t, err)

	return NewTicketRepository(db), users, defaults, customer
}

func messageThread(customerID int, messageID string, at time.Time) models.Thread {
	id := messageID
	return models.Thread{
		UserInstanceID: customerID,
		Source:         models.SourceEmail,
		ThreadType:     models.ThreadTypeIncomingEmail,
		MessageID:      &id,
		Message:        "body",
		CreatedAt:      at,
	}
}

func newTicketInput(defaults models.TicketDefaults, customerID int, messageID string, at time.Time) IngestInput {
	return IngestInput{
		Ticket: &models.Ticket{
			Subject:      "Printer on fire",
			Source:       models.SourceEmail,
			MailboxEmail: "support@helpdesk.example",
			ReferenceIDs: messageID,
			CustomerID:   customerID,
			StatusID:     defaults.StatusID,
			PriorityID:   defaults.PriorityID,
			TypeID:       defaults.TypeID,
			CreatedAt:    at,
			UpdatedAt:    at,
		},
		Thread: messageThread(customerID, messageID, at),
	}
}

func TestIngestThreadCreatesTicketAndThread(t *testing.T) {
	tickets, _, defaults, customer := newTicketFixture(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	result, err := tickets.IngestThread(ctx, newTicketInput(defaults, customer.ID, "<m1@example.com>", at))
	require.NoError(t, err)
	require.True(t, result.CreatedTicket)
	require.NotZero(t, result.TicketID)
	require.NotZero(t, result.ThreadID)

	ticket, err := tickets.GetByID(ctx, result.TicketID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	require.Equal(t, "Printer on fire", ticket.Subject)
	require.Equal(t, customer.ID, ticket.CustomerID)
	require.Nil(t, ticket.AgentID)

	exists, err := tickets.MessageIDExists(ctx, "<m1@example.com>")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestIngestThreadFollowUpTouchesTicket(t *testing.T) {
	tickets, _, defaults, customer := newTicketFixture(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	created, err := tickets.IngestThread(ctx, newTicketInput(defaults, customer.ID, "<m1@example.com>", at))
	require.NoError(t, err)

	later := at.Add(2 * time.Hour)
	tickets.now = func() time.Time { return later }
	followUp, err := tickets.IngestThread(ctx, IngestInput{
		ExistingTicketID: created.TicketID,
		Thread:           messageThread(customer.ID, "<m2@example.com>", later),
	})
	require.NoError(t, err)
	require.False(t, followUp.CreatedTicket)
	require.Equal(t, created.TicketID, followUp.TicketID)
	require.NotEqual(t, created.ThreadID, followUp.ThreadID)

	ticket, err := tickets.GetByID(ctx, created.TicketID)
	require.NoError(t, err)
	require.Equal(t, later, ticket.UpdatedAt.UTC())

	ids, err := tickets.ListThreadMessageIDs(ctx, created.TicketID)
	require.NoError(t, err)
	require.Equal(t, []string{"<m1@example.com>", "<m2@example.com>"}, ids)
}

func TestIngestThreadRequiresTicketOrID(t *testing.T) {
	tickets, _, _, customer := newTicketFixture(t)
	_, err := tickets.IngestThread(context.Background(), IngestInput{
		Thread: messageThread(customer.ID, "<m1@example.com>", time.Now().UTC()),
	})
	require.Error(t, err)
}

func TestIngestThreadRollsBackOnDuplicateMessageID(t *testing.T) {
	tickets, _, defaults, customer := newTicketFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()

	_, err := tickets.IngestThread(ctx, newTicketInput(defaults, customer.ID, "<m1@example.com>", at))
	require.NoError(t, err)

	var before int
	require.NoError(t, tickets.db.QueryRow(`SELECT COUNT(*) FROM uv_ticket`).Scan(&before))

	// Same message id violates the unique constraint; the new ticket must
	// not survive the failed transaction.
	_, err = tickets.IngestThread(ctx, newTicketInput(defaults, customer.ID, "<m1@example.com>", at))
	require.Error(t, err)

	var after int
	require.NoError(t, tickets.db.QueryRow(`SELECT COUNT(*) FROM uv_ticket`).Scan(&after))
	require.Equal(t, before, after)
}

func TestIngestThreadStoresCollaborators(t *testing.T) {
	tickets, users, defaults, customer := newTicketFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()

	bob, err := users.ResolveCustomer(ctx, "bob@example.com", "Bob")
	require.NoError(t, err)

	input := newTicketInput(defaults, customer.ID, "<m1@example.com>", at)
	input.CollaboratorIDs = []int{bob.ID, customer.ID, bob.ID}
	result, err := tickets.IngestThread(ctx, input)
	require.NoError(t, err)

	emails, err := tickets.ListCollaboratorEmails(ctx, result.TicketID)
	require.NoError(t, err)
	require.Equal(t, []string{"bob@example.com"}, emails)
}

func TestCorrelatePrefersInReplyTo(t *testing.T) {
	tickets, _, defaults, customer := newTicketFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()

	first, err := tickets.IngestThread(ctx, newTicketInput(defaults, customer.ID, "<m1@example.com>", at))
	require.NoError(t, err)
	second, err := tickets.IngestThread(ctx, newTicketInput(defaults, customer.ID, "<x1@example.com>", at))
	require.NoError(t, err)

	ticket, err := tickets.Correlate(ctx, "<x1@example.com>", []string{"<m1@example.com>"})
	require.NoError(t, err)
	require.NotNil(t, ticket)
	require.Equal(t, second.TicketID, ticket.ID)

	ticket, err = tickets.Correlate(ctx, "", []string{"<m1@example.com>"})
	require.NoError(t, err)
	require.NotNil(t, ticket)
	require.Equal(t, first.TicketID, ticket.ID)
}

func TestCorrelateFallsBackToReferenceChain(t *testing.T) {
	tickets, _, defaults, customer := newTicketFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()

	input := newTicketInput(defaults, customer.ID, "<m1@example.com>", at)
	input.Ticket.ReferenceIDs = "<root@example.com> <m1@example.com>"
	created, err := tickets.IngestThread(ctx, input)
	require.NoError(t, err)

	// <root@example.com> never appeared as a thread message id; only the
	// stored reference chain can match it.
	ticket, err := tickets.Correlate(ctx, "", []string{"<root@example.com>"})
	require.NoError(t, err)
	require.NotNil(t, ticket)
	require.Equal(t, created.TicketID, ticket.ID)
}

func TestCorrelateUnknownReturnsNil(t *testing.T) {
	tickets, _, _, _ := newTicketFixture(t)
	ticket, err := tickets.Correlate(context.Background(), "<nope@example.com>", []string{"<also-nope@example.com>"})
	require.NoError(t, err)
	require.Nil(t, ticket)
}

func TestLatestIncomingMessageID(t *testing.T) {
	tickets, _, defaults, customer := newTicketFixture(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	created, err := tickets.IngestThread(ctx, newTicketInput(defaults, customer.ID, "<m1@example.com>", at))
	require.NoError(t, err)
	_, err = tickets.IngestThread(ctx, IngestInput{
		ExistingTicketID: created.TicketID,
		Thread:           messageThread(customer.ID, "<m2@example.com>", at.Add(time.Hour)),
	})
	require.NoError(t, err)

	// An agent reply must not win over the customer's last message.
	reply := models.Thread{
		TicketID:       created.TicketID,
		UserInstanceID: customer.ID,
		Source:         models.SourceEmail,
		ThreadType:     models.ThreadTypeReply,
		Message:        "we are on it",
		CreatedAt:      at.Add(2 * time.Hour),
	}
	require.NoError(t, tickets.CreateThread(ctx, &reply))

	latest, err := tickets.LatestIncomingMessageID(ctx, created.TicketID)
	require.NoError(t, err)
	require.Equal(t, "<m2@example.com>", latest)
}

func TestSetThreadMessageID(t *testing.T) {
	tickets, _, defaults, customer := newTicketFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()

	created, err := tickets.IngestThread(ctx, newTicketInput(defaults, customer.ID, "<m1@example.com>", at))
	require.NoError(t, err)

	reply := models.Thread{
		TicketID:       created.TicketID,
		UserInstanceID: customer.ID,
		Source:         models.SourceEmail,
		ThreadType:     models.ThreadTypeReply,
		Message:        "ack",
		CreatedAt:      at,
	}
	require.NoError(t, tickets.CreateThread(ctx, &reply))

	require.NoError(t, tickets.SetThreadMessageID(ctx, reply.ID, "<gen@helpdesk.example>"))
	exists, err := tickets.MessageIDExists(ctx, "<gen@helpdesk.example>")
	require.NoError(t, err)
	require.True(t, exists)

	require.Error(t, tickets.SetThreadMessageID(ctx, 99999, "<other@helpdesk.example>"))
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	tickets, _, _, _ := newTicketFixture(t)
	ticket, err := tickets.GetByID(context.Background(), 12345)
	require.NoError(t, err)
	require.Nil(t, ticket)
}
