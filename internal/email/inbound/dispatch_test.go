package inbound

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound/connector"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

func testMailbox(id int, email string) models.Mailbox {
	return models.Mailbox{
		ID:        id,
		Email:     email,
		Protocol:  "imap",
		Host:      "mail.example",
		Username:  "agent",
		Password:  "secret",
		IsEnabled: true,
	}
}

func TestRunIsolatesMailboxFailures(t *testing.T) {
	source := &fakeMailboxSource{mailboxes: []models.Mailbox{
		testMailbox(1, "a@example.com"),
		testMailbox(2, "b@example.com"),
		testMailbox(3, "c@example.com"),
	}}
	fetcher := &fakeFetcher{failAccounts: map[int]error{2: errors.New("auth failed")}}
	d := NewDispatcher(source, &fakeFactory{fetcher: fetcher}, &nopHandler{})

	results, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.ErrorContains(t, results[1].Err, "auth failed")
	require.NoError(t, results[2].Err)
	require.Equal(t, []int{1, 2, 3}, fetcher.fetchedIDs())
}

func TestRunReportsUnknownConnector(t *testing.T) {
	source := &fakeMailboxSource{mailboxes: []models.Mailbox{testMailbox(1, "a@example.com")}}
	d := NewDispatcher(source, &fakeFactory{err: errors.New("no connector")}, &nopHandler{})

	results, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.ErrorContains(t, results[0].Err, "no connector")
}

func TestRunRefusesOverlappingMailboxFetch(t *testing.T) {
	source := &fakeMailboxSource{mailboxes: []models.Mailbox{testMailbox(1, "a@example.com")}}
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{block: func() {
		close(started)
		<-release
	}}
	d := NewDispatcher(source, &fakeFactory{fetcher: fetcher}, &nopHandler{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Run(context.Background())
	}()

	<-started
	results, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, ErrMailboxBusy)

	close(release)
	wg.Wait()
}

func TestRunPropagatesSourceError(t *testing.T) {
	source := &fakeMailboxSource{err: errors.New("db gone")}
	d := NewDispatcher(source, &fakeFactory{}, &nopHandler{})
	_, err := d.Run(context.Background())
	require.ErrorContains(t, err, "db gone")
}

type fakeMailboxSource struct {
	mailboxes []models.Mailbox
	err       error
}

func (f *fakeMailboxSource) ListEnabled(context.Context) ([]models.Mailbox, error) {
	return f.mailboxes, f.err
}

type fakeFactory struct {
	fetcher connector.Fetcher
	err     error
}

func (f *fakeFactory) FetcherFor(connector.Account) (connector.Fetcher, error) {
	return f.fetcher, f.err
}

type fakeFetcher struct {
	mu           sync.Mutex
	accounts     []connector.Account
	failAccounts map[int]error
	block        func()
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(_ context.Context, account connector.Account, _ connector.Handler) error {
	f.mu.Lock()
	f.accounts = append(f.accounts, account)
	f.mu.Unlock()
	if f.block != nil {
		f.block()
	}
	if f.failAccounts != nil {
		return f.failAccounts[account.ID]
	}
	return nil
}

func (f *fakeFetcher) fetchedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.accounts))
	for _, acc := range f.accounts {
		ids = append(ids, acc.ID)
	}
	return ids
}

type nopHandler struct{}

func (nopHandler) Handle(context.Context, *connector.FetchedMessage) error { return nil }
