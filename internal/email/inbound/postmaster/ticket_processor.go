package postmaster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound/connector"
	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound/parser"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
	"github.com/uvhelp-io/uvhelp-ce/internal/repository"
)

type envelopeParser interface {
	Parse(raw []byte, internalDate time.Time) (*parser.Envelope, error)
}

type identityResolver interface {
	ResolveCustomer(ctx context.Context, email, displayName string) (*models.UserInstance, error)
}

type ticketStore interface {
	MessageIDExists(ctx context.Context, messageID string) (bool, error)
	Correlate(ctx context.Context, inReplyTo string, references []string) (*models.Ticket, error)
	IngestThread(ctx context.Context, input repository.IngestInput) (repository.IngestResult, error)
}

// TicketProcessor drives the per-message pipeline: parse, blacklist, dedup,
// correlate, resolve identity, then one transactional write.
type TicketProcessor struct {
	parser    envelopeParser
	users     identityResolver
	tickets   ticketStore
	blacklist Blacklist
	defaults  models.TicketDefaults
	sanitizer *bluemonday.Policy
	logger    *log.Logger
	now       func() time.Time
}

// TicketProcessorOption customizes TicketProcessor.
type TicketProcessorOption func(*TicketProcessor)

// NewTicketProcessor builds a processor over the given stores. The defaults
// must already be bootstrapped (see LookupRepository.EnsureTicketDefaults).
func NewTicketProcessor(p envelopeParser, users identityResolver, tickets ticketStore, defaults models.TicketDefaults, opts ...TicketProcessorOption) *TicketProcessor {
	tp := &TicketProcessor{
		parser:    p,
		users:     users,
		tickets:   tickets,
		defaults:  defaults,
		blacklist: Blacklist{},
		sanitizer: bluemonday.UGCPolicy(),
		logger:    log.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tp)
		}
	}
	return tp
}

// WithTicketProcessorLogger overrides the logger used for diagnostics.
func WithTicketProcessorLogger(logger *log.Logger) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		if logger != nil {
			tp.logger = logger
		}
	}
}

// WithTicketProcessorBlacklist installs the sender blacklist.
func WithTicketProcessorBlacklist(bl Blacklist) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		if bl != nil {
			tp.blacklist = bl
		}
	}
}

// WithTicketProcessorClock overrides the wall clock, primarily for tests.
func WithTicketProcessorClock(now func() time.Time) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		if now != nil {
			tp.now = now
		}
	}
}

// Handle implements connector.Handler. A returned error tells the connector
// to keep the source message for the next run.
func (tp *TicketProcessor) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	_, err := tp.Process(ctx, msg)
	return err
}

// Process runs the ingestion pipeline for one message. A nil error with a
// skip action (duplicate, blacklisted) means the message is fully accounted
// for and safe to delete from the server; a non-nil error means no durable
// state was written for it.
func (tp *TicketProcessor) Process(ctx context.Context, msg *connector.FetchedMessage) (Result, error) {
	if msg == nil {
		return Result{Action: ActionError}, errors.New("postmaster: message required")
	}
	account := msg.AccountSnapshot()

	env, err := tp.parser.Parse(msg.Raw, msg.InternalDate)
	if err != nil {
		err = fmt.Errorf("parse %s: %w", msg.RemoteID, err)
		return Result{Action: ActionError, Err: err}, err
	}

	sender := repository.NormalizeAddress(env.FromAddress)
	if sender == "" {
		err := fmt.Errorf("message %s has no sender address", msg.RemoteID)
		return Result{Action: ActionError, Err: err}, err
	}

	if tp.blacklist.Contains(sender) {
		tp.logf("postmaster: dropping blacklisted sender %s (%s)", sender, msg.RemoteID)
		return Result{Action: ActionBlacklisted}, nil
	}

	if env.MessageID != "" {
		exists, err := tp.tickets.MessageIDExists(ctx, env.MessageID)
		if err != nil {
			err = fmt.Errorf("dedup check %s: %w", env.MessageID, err)
			return Result{Action: ActionError, Err: err}, err
		}
		if exists {
			tp.logf("postmaster: skipping duplicate message %s", env.MessageID)
			return Result{Action: ActionDuplicate}, nil
		}
	}

	ticket, err := tp.tickets.Correlate(ctx, env.InReplyTo, env.References)
	if err != nil {
		err = fmt.Errorf("correlate %s: %w", msg.RemoteID, err)
		return Result{Action: ActionError, Err: err}, err
	}

	customer, err := tp.users.ResolveCustomer(ctx, sender, env.FromName)
	if err != nil {
		err = fmt.Errorf("resolve sender %s: %w", sender, err)
		return Result{Action: ActionError, Err: err}, err
	}

	collaboratorIDs := tp.resolveCollaborators(ctx, env, customer)

	input := repository.IngestInput{
		Thread:          tp.buildThread(env, customer),
		CollaboratorIDs: collaboratorIDs,
	}
	action := ActionFollowUp
	if ticket != nil {
		input.ExistingTicketID = ticket.ID
	} else {
		action = ActionNewTicket
		input.Ticket = &models.Ticket{
			Subject:      env.Subject,
			Source:       models.SourceEmail,
			MailboxEmail: account.Email,
			ReferenceIDs: strings.Join(env.References, " "),
			CustomerID:   customer.ID,
			StatusID:     tp.defaults.StatusID,
			PriorityID:   tp.defaults.PriorityID,
			TypeID:       tp.defaults.TypeID,
			CreatedAt:    env.ReceivedAt,
			UpdatedAt:    tp.now(),
		}
	}

	result, err := tp.tickets.IngestThread(ctx, input)
	if err != nil {
		err = fmt.Errorf("ingest %s: %w", msg.RemoteID, err)
		return Result{Action: ActionError, Err: err}, err
	}

	tp.logf("postmaster: %s ticket=%d thread=%d from=%s", action, result.TicketID, result.ThreadID, sender)
	return Result{TicketID: result.TicketID, ThreadID: result.ThreadID, Action: action}, nil
}

// resolveCollaborators maps Cc/Bcc addresses to identities, skipping the
// customer. Best effort: one bad address never fails the message.
func (tp *TicketProcessor) resolveCollaborators(ctx context.Context, env *parser.Envelope, customer *models.UserInstance) []int {
	var ids []int
	seen := map[string]struct{}{customer.Email: {}}
	for _, raw := range append(append([]string{}, env.CCAddresses...), env.BCCAddresses...) {
		addr := repository.NormalizeAddress(raw)
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		instance, err := tp.users.ResolveCustomer(ctx, addr, "")
		if err != nil {
			tp.logf("postmaster: collaborator resolve failed for %s: %v", addr, err)
			continue
		}
		if instance.ID == customer.ID {
			continue
		}
		ids = append(ids, instance.ID)
	}
	return ids
}

func (tp *TicketProcessor) buildThread(env *parser.Envelope, customer *models.UserInstance) models.Thread {
	thread := models.Thread{
		UserInstanceID: customer.ID,
		Source:         models.SourceEmail,
		ThreadType:     models.ThreadTypeIncomingEmail,
		Message:        tp.body(env),
		CC:             strings.Join(env.CCAddresses, ", "),
		BCC:            strings.Join(env.BCCAddresses, ", "),
		CreatedAt:      env.ReceivedAt,
	}
	if env.MessageID != "" {
		id := env.MessageID
		thread.MessageID = &id
	}
	return thread
}

func (tp *TicketProcessor) body(env *parser.Envelope) string {
	if env.IsHTML() {
		return tp.sanitizer.Sanitize(env.HTMLBody)
	}
	return env.PlainBody
}

func (tp *TicketProcessor) logf(format string, args ...any) {
	if tp == nil || tp.logger == nil {
		return
	}
	tp.logger.Printf(format, args...)
}
