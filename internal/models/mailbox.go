package models

// Mailbox is one configured external mail account polled for inbound support
// email. Read-only to the fetch pipeline.
type Mailbox struct {
	ID       int
	Name     string
	Email    string
	Protocol string // imap or pop3
	Host     string
	Port     int
	// Encryption is ssl, tls, or none.
	Encryption       string
	Username         string
	Password         string
	IsEnabled        bool
	DeleteAfterFetch bool
}
