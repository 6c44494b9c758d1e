// Package outbound builds and sends ticket emails: agent replies, forwards,
// and the acknowledgement sent when a new ticket is opened.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

// ErrSendFailed wraps transport errors so callers can tell a delivery failure
// apart from a persistence failure. Database state is already committed when
// this is returned.
var ErrSendFailed = errors.New("outbound send failed")

// Message is a fully composed email ready for a transport.
type Message struct {
	From    string
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
	// Headers carries threading headers (Message-ID, In-Reply-To,
	// References) and any extras.
	Headers map[string]string
}

// Transport delivers a composed message. Implementations own connection and
// auth details; the composer never speaks SMTP itself.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

type ticketDirectory interface {
	GetByID(ctx context.Context, id int) (*models.Ticket, error)
	ListThreadMessageIDs(ctx context.Context, ticketID int) ([]string, error)
	LatestIncomingMessageID(ctx context.Context, ticketID int) (string, error)
	SetThreadMessageID(ctx context.Context, threadID int, messageID string) error
	ListCollaboratorEmails(ctx context.Context, ticketID int) ([]string, error)
}

type identityDirectory interface {
	InstanceEmail(ctx context.Context, instanceID int) (string, error)
}

// Composer assembles outbound ticket mail with correct threading headers.
type Composer struct {
	tickets    ticketDirectory
	identities identityDirectory
	transport  Transport
	fromDomain string
	logger     *log.Logger
	newID      func() string
}

// ComposerOption customizes a Composer.
type ComposerOption func(*Composer)

// NewComposer wires the directories and transport. fromDomain is the domain
// used for generated Message-IDs, normally the mailbox domain.
func NewComposer(tickets ticketDirectory, identities identityDirectory, transport Transport, fromDomain string, opts ...ComposerOption) *Composer {
	c := &Composer{
		tickets:    tickets,
		identities: identities,
		transport:  transport,
		fromDomain: fromDomain,
		logger:     log.Default(),
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithComposerLogger overrides the logger.
func WithComposerLogger(logger *log.Logger) ComposerOption {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithComposerIDSource overrides Message-ID generation, primarily for tests.
func WithComposerIDSource(newID func() string) ComposerOption {
	return func(c *Composer) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// ReplyInput describes one agent reply to send.
type ReplyInput struct {
	TicketID int
	// AgentEmail overrides the ticket's assigned agent as the Cc address.
	AgentEmail string
	Body       string
	// IncludeCollaborators adds the ticket's collaborators to Cc.
	IncludeCollaborators bool
}

// Reply sends an agent reply on an existing ticket. The customer is the sole
// To recipient; the agent is Cc'd when distinct from the customer, and
// collaborators only when opted in. Threading headers chain the reply onto the
// customer's latest incoming message.
func (c *Composer) Reply(ctx context.Context, input ReplyInput) error {
	ticket, err := c.tickets.GetByID(ctx, input.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", input.TicketID, err)
	}
	if ticket == nil {
		return fmt.Errorf("ticket %d not found", input.TicketID)
	}

	customerEmail, err := c.identities.InstanceEmail(ctx, ticket.CustomerID)
	if err != nil {
		return fmt.Errorf("customer email for ticket %d: %w", ticket.ID, err)
	}

	agentEmail := input.AgentEmail
	if agentEmail == "" && ticket.AgentID != nil {
		agentEmail, err = c.identities.InstanceEmail(ctx, *ticket.AgentID)
		if err != nil {
			return fmt.Errorf("agent email for ticket %d: %w", ticket.ID, err)
		}
	}

	var cc []string
	agent := strings.ToLower(strings.TrimSpace(agentEmail))
	if agent != "" && agent != strings.ToLower(customerEmail) {
		cc = append(cc, agentEmail)
	}
	if input.IncludeCollaborators {
		collaborators, err := c.tickets.ListCollaboratorEmails(ctx, ticket.ID)
		if err != nil {
			return fmt.Errorf("collaborators for ticket %d: %w", ticket.ID, err)
		}
		cc = appendDistinct(cc, collaborators, customerEmail)
	}

	headers, err := c.threadingHeaders(ctx, ticket.ID)
	if err != nil {
		return err
	}

	msg := &Message{
		From:    ticket.MailboxEmail,
		To:      []string{customerEmail},
		CC:      cc,
		Subject: fmt.Sprintf("Reply to your ticket #%d: %s", ticket.ID, ticket.Subject),
		Body:    input.Body,
		Headers: headers,
	}
	return c.send(ctx, msg)
}

// Forward sends a ticket thread to an explicit recipient list. The subject is
// taken verbatim so forwarded mail keeps its original subject line.
func (c *Composer) Forward(ctx context.Context, ticketID int, to []string, subject, body string) error {
	ticket, err := c.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", ticketID, err)
	}
	if ticket == nil {
		return fmt.Errorf("ticket %d not found", ticketID)
	}
	recipients := splitRecipients(to)
	if len(recipients) == 0 {
		return errors.New("forward requires at least one recipient")
	}

	msg := &Message{
		From:    ticket.MailboxEmail,
		To:      recipients,
		Subject: subject,
		Body:    body,
	}
	return c.send(ctx, msg)
}

// InitialAcknowledgement mails the customer that their ticket was opened. A
// fresh Message-ID is generated and stamped on the originating thread before
// the send, so a transport failure can never orphan the ID.
func (c *Composer) InitialAcknowledgement(ctx context.Context, ticketID, threadID int, body string) (string, error) {
	ticket, err := c.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return "", fmt.Errorf("load ticket %d: %w", ticketID, err)
	}
	if ticket == nil {
		return "", fmt.Errorf("ticket %d not found", ticketID)
	}
	customerEmail, err := c.identities.InstanceEmail(ctx, ticket.CustomerID)
	if err != nil {
		return "", fmt.Errorf("customer email for ticket %d: %w", ticket.ID, err)
	}

	messageID := c.generateMessageID()
	if err := c.tickets.SetThreadMessageID(ctx, threadID, messageID); err != nil {
		return "", err
	}

	msg := &Message{
		From:    ticket.MailboxEmail,
		To:      []string{customerEmail},
		Subject: fmt.Sprintf("Reply to your ticket #%d: %s", ticket.ID, ticket.Subject),
		Body:    body,
		Headers: map[string]string{"Message-ID": messageID},
	}
	if err := c.send(ctx, msg); err != nil {
		return messageID, err
	}
	return messageID, nil
}

// threadingHeaders builds In-Reply-To and References for a reply. References
// lists every known message ID on the ticket in creation order; the
// In-Reply-To value is appended when the chain does not already contain it.
func (c *Composer) threadingHeaders(ctx context.Context, ticketID int) (map[string]string, error) {
	inReplyTo, err := c.tickets.LatestIncomingMessageID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	references, err := c.tickets.ListThreadMessageIDs(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Message-ID": c.generateMessageID()}
	if inReplyTo != "" {
		headers["In-Reply-To"] = inReplyTo
		if !contains(references, inReplyTo) {
			references = append(references, inReplyTo)
		}
	}
	if len(references) > 0 {
		headers["References"] = strings.Join(references, " ")
	}
	return headers, nil
}

func (c *Composer) generateMessageID() string {
	domain := c.fromDomain
	if domain == "" {
		domain = "localhost"
	}
	return fmt.Sprintf("<%s@%s>", c.newID(), domain)
}

func (c *Composer) send(ctx context.Context, msg *Message) error {
	if c.transport == nil {
		return fmt.Errorf("%w: no transport configured", ErrSendFailed)
	}
	if err := c.transport.Send(ctx, msg); err != nil {
		c.logf("outbound: send to %s failed: %v", strings.Join(msg.To, ", "), err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (c *Composer) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func appendDistinct(dst []string, src []string, exclude string) []string {
	seen := make(map[string]struct{}, len(dst)+1)
	seen[strings.ToLower(strings.TrimSpace(exclude))] = struct{}{}
	for _, addr := range dst {
		seen[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
	}
	for _, addr := range src {
		key := strings.ToLower(strings.TrimSpace(addr))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, addr)
	}
	return dst
}

func splitRecipients(to []string) []string {
	var out []string
	for _, entry := range to {
		for _, addr := range strings.Split(entry, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
