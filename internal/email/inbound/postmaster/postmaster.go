package postmaster

import (
	"context"
	"strings"

	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound/connector"
)

// Actions reported for one processed message.
const (
	ActionNewTicket   = "new_ticket"
	ActionFollowUp    = "follow_up"
	ActionDuplicate   = "duplicate"
	ActionBlacklisted = "blacklisted"
	ActionError       = "error"
)

// Result tracks what happened to a message.
type Result struct {
	TicketID int
	ThreadID int
	Action   string
	Err      error
}

// Processor turns one fetched message into durable ticket state.
type Processor interface {
	Process(ctx context.Context, msg *connector.FetchedMessage) (Result, error)
}

// Blacklist is a set of normalized sender addresses that are dropped without
// creating any record.
type Blacklist map[string]struct{}

// NewBlacklist builds a blacklist from configured addresses, normalizing each
// entry the way sender addresses are normalized at lookup time.
func NewBlacklist(addresses []string) Blacklist {
	bl := make(Blacklist, len(addresses))
	for _, addr := range addresses {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr != "" {
			bl[addr] = struct{}{}
		}
	}
	return bl
}

// Contains reports whether the normalized address is blacklisted.
func (b Blacklist) Contains(addr string) bool {
	_, ok := b[addr]
	return ok
}
