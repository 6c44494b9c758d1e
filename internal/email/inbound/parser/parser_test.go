package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func rawMessage(headers []string, body string) []byte {
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}

func TestParsePlainMessage(t *testing.T) {
	raw := rawMessage([]string{
		"From: Jane Doe <jane@example.com>",
		"To: support@helpdesk.example",
		"Subject: Printer on fire",
		"Message-Id: <m1@example.com>",
		"Date: Mon, 02 Jun 2025 10:00:00 +0200",
		"Content-Type: text/plain; charset=utf-8",
	}, "It is literally on fire.")

	env, err := New().Parse(raw, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "Printer on fire", env.Subject)
	require.Equal(t, "jane@example.com", env.FromAddress)
	require.Equal(t, "Jane Doe", env.FromName)
	require.Equal(t, "<m1@example.com>", env.MessageID)
	require.Equal(t, "It is literally on fire.", strings.TrimSpace(env.PlainBody))
	require.False(t, env.IsHTML())
	require.Equal(t, time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC), env.ReceivedAt)
}

func TestParseMissingSubjectGetsDefault(t *testing.T) {
	raw := rawMessage([]string{
		"From: jane@example.com",
		"Content-Type: text/plain",
	}, "hello")

	env, err := New().Parse(raw, time.Time{})
	require.NoError(t, err)
	require.Equal(t, DefaultSubject, env.Subject)
}

func TestParseBareSenderUsesLocalPartAsName(t *testing.T) {
	raw := rawMessage([]string{
		"From: ops@example.com",
		"Subject: hi",
	}, "body")

	env, err := New().Parse(raw, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", env.FromAddress)
	require.Equal(t, "ops", env.FromName)
}

func TestParseTimestampPrefersInternalDate(t *testing.T) {
	internal := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	raw := rawMessage([]string{
		"From: jane@example.com",
		"Subject: x",
		"Date: Mon, 02 Jun 2025 10:00:00 +0200",
	}, "body")

	env, err := New().Parse(raw, internal)
	require.NoError(t, err)
	require.Equal(t, internal.UTC(), env.ReceivedAt)
}

func TestParseTimestampFallsBackToClock(t *testing.T) {
	now := time.Date(2025, 8, 1, 9, 30, 0, 0, time.UTC)
	raw := rawMessage([]string{
		"From: jane@example.com",
		"Subject: x",
		"Date: not a date at all",
	}, "body")

	env, err := New(WithClock(func() time.Time { return now })).Parse(raw, time.Time{})
	require.NoError(t, err)
	require.Equal(t, now, env.ReceivedAt)
}

func TestParseZonelessDateAssumesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	raw := rawMessage([]string{
		"From: jane@example.com",
		"Subject: x",
		"Date: Mon, 2 Jun 2025 10:00:00",
	}, "body")

	env, err := New(WithLocation(loc)).Parse(raw, time.Time{})
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 2, 4, 30, 0, 0, time.UTC), env.ReceivedAt)
}

func TestParseMultipartPrefersHTMLBody(t *testing.T) {
	body := strings.Join([]string{
		"--frontier",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain version",
		"--frontier",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html version</p>",
		"--frontier--",
		"",
	}, "\r\n")
	raw := rawMessage([]string{
		"From: jane@example.com",
		"Subject: alt",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="frontier"`,
	}, body)

	env, err := New().Parse(raw, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "plain version", strings.TrimSpace(env.PlainBody))
	require.Equal(t, "<p>html version</p>", strings.TrimSpace(env.HTMLBody))
	require.True(t, env.IsHTML())
	require.Equal(t, env.HTMLBody, env.Body())
}

func TestParseThreadingHeaders(t *testing.T) {
	raw := rawMessage([]string{
		"From: jane@example.com",
		"Subject: re: help",
		"Message-Id: <m3@example.com>",
		"In-Reply-To: <m2@example.com>",
		"References: <m1@example.com> <m2@example.com> <m1@example.com>",
	}, "body")

	env, err := New().Parse(raw, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "<m3@example.com>", env.MessageID)
	require.Equal(t, "<m2@example.com>", env.InReplyTo)
	require.Equal(t, []string{"<m1@example.com>", "<m2@example.com>"}, env.References)
}

func TestParseRecipientLists(t *testing.T) {
	raw := rawMessage([]string{
		"From: jane@example.com",
		"Subject: cc test",
		"Cc: Bob <bob@example.com>, carol@example.com",
		"Bcc: dave@example.com",
	}, "body")

	env, err := New().Parse(raw, time.Time{})
	require.NoError(t, err)
	require.Equal(t, []string{"bob@example.com", "carol@example.com"}, env.CCAddresses)
	require.Equal(t, []string{"dave@example.com"}, env.BCCAddresses)
}

func TestParseEmptyMessageFails(t *testing.T) {
	_, err := New().Parse(nil, time.Time{})
	require.Error(t, err)
}

func TestCanonicalMessageID(t *testing.T) {
	require.Equal(t, "<abc@x>", canonicalMessageID("abc@x"))
	require.Equal(t, "<abc@x>", canonicalMessageID("<abc@x>"))
	require.Equal(t, "", canonicalMessageID("  "))
}

func TestTokenizeMessageIDsWithoutBrackets(t *testing.T) {
	require.Equal(t, []string{"<a@x>", "<b@y>"}, tokenizeMessageIDs("a@x b@y"))
}
