package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

// Account carries the minimal set of fields a connector needs to open a
// mailbox.
type Account struct {
	ID    int
	Name  string
	Email string
	// Type selects the connector and transport security: imap, imaps,
	// pop3, pop3s.
	Type             string
	Host             string
	Port             int
	Username         string
	Password         []byte
	DeleteAfterFetch bool
}

// AccountFromMailbox maps a stored mailbox row to a connector account.
func AccountFromMailbox(m models.Mailbox) Account {
	protocol := strings.ToLower(strings.TrimSpace(m.Protocol))
	if protocol == "" {
		protocol = "imap"
	}
	accountType := protocol
	switch strings.ToLower(strings.TrimSpace(m.Encryption)) {
	case "ssl", "tls":
		accountType = protocol + "s"
	}
	return Account{
		ID:               m.ID,
		Name:             m.Name,
		Email:            m.Email,
		Type:             accountType,
		Host:             m.Host,
		Port:             m.Port,
		Username:         m.Username,
		Password:         []byte(m.Password),
		DeleteAfterFetch: m.DeleteAfterFetch,
	}
}

// FetchedMessage wraps the on-wire RFC 822 payload plus derived metadata.
type FetchedMessage struct {
	AccountID int
	Connector string
	UID       string
	RemoteID  string
	// InternalDate is the server-reported receipt time; zero when the
	// server exposes none (POP3 always, IMAP occasionally).
	InternalDate time.Time
	SizeBytes    int64
	Raw          []byte
	account      Account
}

// AccountSnapshot returns the account metadata captured when the fetch
// occurred.
func (m FetchedMessage) AccountSnapshot() Account {
	return m.account
}

// WithAccount captures the account metadata on the message.
func (m *FetchedMessage) WithAccount(acc Account) {
	m.account = acc
	m.AccountID = acc.ID
}

// Handler receives fully fetched messages. A non-nil error means the message
// was not durably processed: the connector logs it, leaves the message on the
// server, and continues with the next one.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// Fetcher implementations (POP3, IMAP) stream mailbox messages to a handler.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, handler Handler) error
}

// Factory resolves the correct connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}

// DefaultRecentLimit bounds how many of the newest messages one cycle
// inspects. Older backlog is picked up across subsequent runs; the cap trades
// completeness per run for a bounded runtime.
const DefaultRecentLimit = 10

func buildRemoteID(account Account, uid string) string {
	if account.Username == "" {
		return fmt.Sprintf("%s:%s", account.Host, uid)
	}
	return fmt.Sprintf("%s@%s:%s", account.Username, account.Host, uid)
}
