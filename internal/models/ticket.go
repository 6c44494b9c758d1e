package models

import "time"

// Thread types recorded on uv_thread rows.
const (
	ThreadTypeIncomingEmail  = "incoming_email"
	ThreadTypeReply          = "reply"
	ThreadTypeNote           = "note"
	ThreadTypeForward        = "forward"
	ThreadTypeInitialMessage = "initial_message"
)

// SourceEmail marks tickets and threads that originate from the mail pipeline.
const SourceEmail = "email"

// Ticket is one customer conversation, the unit of work for agents.
type Ticket struct {
	ID           int
	Subject      string
	Source       string
	MailboxEmail string
	// ReferenceIDs holds the raw References header of the message that opened
	// the ticket, kept verbatim for follow-up correlation.
	ReferenceIDs string
	CustomerID   int
	AgentID      *int
	StatusID     int
	PriorityID   int
	TypeID       int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Thread is one message or event on a ticket's timeline. Rows are append-only.
type Thread struct {
	ID             int
	TicketID       int
	UserInstanceID int
	Source         string
	ThreadType     string
	// MessageID is the RFC 5322 Message-ID including angle brackets. Unique
	// across all threads when present; nil for events with no wire identity.
	MessageID *string
	Message   string
	CC        string
	BCC       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LookupItem backs the uv_ticket_status / uv_ticket_priority / uv_ticket_type
// rows referenced by tickets.
type LookupItem struct {
	ID          int
	Code        string
	Description string
}

// TicketDefaults carries the lookup row IDs applied to tickets created by
// ingestion. Bootstrapped once per run before the mailbox loop.
type TicketDefaults struct {
	StatusID   int
	PriorityID int
	TypeID     int
}
