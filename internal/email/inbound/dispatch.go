// Package inbound polls configured mailboxes and routes fetched mail through
// the postmaster pipeline.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound/connector"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

// ErrMailboxBusy is returned for a mailbox whose previous fetch cycle is
// still running.
var ErrMailboxBusy = errors.New("mailbox fetch already in progress")

type mailboxSource interface {
	ListEnabled(ctx context.Context) ([]models.Mailbox, error)
}

// MailboxResult records the outcome of one mailbox within a dispatch cycle.
type MailboxResult struct {
	MailboxID int
	Email     string
	Err       error
}

// Dispatcher runs one fetch cycle across all enabled mailboxes. Mailboxes are
// isolated from each other: a connection or session failure on one is recorded
// and the cycle moves on.
type Dispatcher struct {
	mailboxes mailboxSource
	factory   connector.Factory
	handler   connector.Handler
	logger    *log.Logger

	mu      sync.Mutex
	running map[int]struct{}
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// NewDispatcher wires the mailbox source, connector factory, and message
// handler into a dispatcher.
func NewDispatcher(mailboxes mailboxSource, factory connector.Factory, handler connector.Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		mailboxes: mailboxes,
		factory:   factory,
		handler:   handler,
		logger:    log.Default(),
		running:   make(map[int]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// WithDispatcherLogger overrides the logger used for cycle diagnostics.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Run performs one polling cycle over every enabled mailbox and returns one
// result per mailbox. Overlapping cycles never touch the same mailbox twice:
// a busy mailbox is reported with ErrMailboxBusy and left alone.
func (d *Dispatcher) Run(ctx context.Context) ([]MailboxResult, error) {
	boxes, err := d.mailboxes.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mailboxes: %w", err)
	}

	results := make([]MailboxResult, 0, len(boxes))
	for _, box := range boxes {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res := MailboxResult{MailboxID: box.ID, Email: box.Email}
		res.Err = d.fetchMailbox(ctx, box)
		if res.Err != nil {
			d.logf("inbound: mailbox %d (%s): %v", box.ID, box.Email, res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) fetchMailbox(ctx context.Context, box models.Mailbox) error {
	if !d.acquire(box.ID) {
		return ErrMailboxBusy
	}
	defer d.release(box.ID)

	account := connector.AccountFromMailbox(box)
	fetcher, err := d.factory.FetcherFor(account)
	if err != nil {
		return err
	}
	return fetcher.Fetch(ctx, account, d.handler)
}

func (d *Dispatcher) acquire(mailboxID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.running[mailboxID]; busy {
		return false
	}
	d.running[mailboxID] = struct{}{}
	return true
}

func (d *Dispatcher) release(mailboxID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, mailboxID)
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
