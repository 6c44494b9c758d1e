package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	stdmail "net/mail"
	"regexp"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"
)

func init() {
	// Decode any charset the html ecosystem knows about; pass unknown
	// labels through untouched so a bad charset never loses the bytes.
	gomessage.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		if r, err := htmlcharset.NewReaderLabel(label, input); err == nil {
			return r, nil
		}
		return input, nil
	}
}

// DefaultSubject is stored when a message carries no Subject header.
const DefaultSubject = "(No Subject)"

// Envelope is the normalized form of one inbound message. Never mutated
// after parse.
type Envelope struct {
	Subject     string
	FromAddress string
	FromName    string
	// MessageID and every reference token keep their angle brackets, the
	// form they appear in on the wire and in uv_thread.message_id.
	MessageID    string
	InReplyTo    string
	References   []string
	ReceivedAt   time.Time
	PlainBody    string
	HTMLBody     string
	CCAddresses  []string
	BCCAddresses []string
}

// Body returns the preferred body content: HTML when present, else plain.
func (e *Envelope) Body() string {
	if e.HTMLBody != "" {
		return e.HTMLBody
	}
	return e.PlainBody
}

// IsHTML reports whether Body returns HTML content.
func (e *Envelope) IsHTML() bool { return e.HTMLBody != "" }

// Parser decodes raw RFC 822 payloads into Envelopes.
type Parser struct {
	logger       *log.Logger
	decoder      *mime.WordDecoder
	now          func() time.Time
	location     *time.Location
	maxBodyBytes int64
}

const defaultBodyLimit = 512 * 1024

// Option customizes parser behavior.
type Option func(*Parser)

// New builds a message parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		logger:       log.Default(),
		decoder:      &mime.WordDecoder{},
		now:          func() time.Time { return time.Now().UTC() },
		location:     time.Local,
		maxBodyBytes: defaultBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithLogger overrides the logger used for parse diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLocation sets the timezone assumed for dates that carry no offset.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithBodyLimit constrains how many body bytes are retained per part.
func WithBodyLimit(limit int64) Option {
	return func(p *Parser) {
		if limit > 0 {
			p.maxBodyBytes = limit
		}
	}
}

// Parse normalizes one raw message. internalDate is the server-reported
// receipt time (zero when unavailable); it is the preferred timestamp because
// the sender cannot forge it, ahead of the Date header and finally the
// processing clock.
func (p *Parser) Parse(raw []byte, internalDate time.Time) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, errors.New("parse: empty message")
	}
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		p.logf("parser: structured parse failed, using flat fallback: %v", err)
		return p.parseFlat(raw, internalDate)
	}

	env := &Envelope{}
	env.Subject = p.subject(&reader.Header)
	env.FromAddress, env.FromName = p.sender(reader.Header.Get("From"), &reader.Header)
	env.MessageID = firstMessageID(reader.Header.Get("Message-Id"))
	env.InReplyTo = firstMessageID(reader.Header.Get("In-Reply-To"))
	env.References = messageIDs(reader.Header.Values("References")...)
	env.ReceivedAt = p.resolveTimestamp(internalDate, reader.Header.Get("Date"))
	env.CCAddresses = p.addressList(reader.Header.Values("Cc"))
	env.BCCAddresses = p.addressList(reader.Header.Values("Bcc"))
	p.readBodies(reader, env)

	if env.PlainBody == "" && env.HTMLBody == "" {
		// Some flat messages yield no inline parts; keep the raw body.
		if flat, err := p.parseFlat(raw, internalDate); err == nil {
			env.PlainBody = flat.PlainBody
			env.HTMLBody = flat.HTMLBody
		}
	}
	return env, nil
}

// parseFlat is the permissive fallback for messages go-message rejects.
func (p *Parser) parseFlat(raw []byte, internalDate time.Time) (*Envelope, error) {
	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	env := &Envelope{}
	env.Subject = strings.TrimSpace(p.decodeHeader(msg.Header.Get("Subject")))
	if env.Subject == "" {
		env.Subject = DefaultSubject
	}
	env.FromAddress, env.FromName = p.sender(msg.Header.Get("From"), nil)
	env.MessageID = firstMessageID(msg.Header.Get("Message-Id"))
	env.InReplyTo = firstMessageID(msg.Header.Get("In-Reply-To"))
	env.References = messageIDs(msg.Header["References"]...)
	env.ReceivedAt = p.resolveTimestamp(internalDate, msg.Header.Get("Date"))
	env.CCAddresses = p.addressList(msg.Header["Cc"])
	env.BCCAddresses = p.addressList(msg.Header["Bcc"])

	body, err := io.ReadAll(io.LimitReader(msg.Body, p.maxBodyBytes))
	if err != nil {
		p.logf("parser: read flat body failed: %v", err)
	}
	contentType := strings.ToLower(msg.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/html") {
		env.HTMLBody = string(body)
	} else {
		env.PlainBody = string(body)
	}
	return env, nil
}

func (p *Parser) subject(header *gomail.Header) string {
	subject, err := header.Subject()
	if err != nil {
		subject = p.decodeHeader(header.Get("Subject"))
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return DefaultSubject
	}
	return subject
}

var angleAddrPattern = regexp.MustCompile(`^(.*?)<(.*?)>$`)

// sender extracts the address and display name from a From header, accepting
// both bare addresses and the quoted display-name form. When no display name
// exists the local part before @ stands in.
func (p *Parser) sender(rawFrom string, header *gomail.Header) (string, string) {
	if header != nil {
		if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
			addr := strings.TrimSpace(list[0].Address)
			name := strings.TrimSpace(list[0].Name)
			if name == "" {
				name = localPart(addr)
			}
			return addr, name
		}
	}
	raw := strings.TrimSpace(p.decodeHeader(rawFrom))
	if raw == "" {
		return "", ""
	}
	if addrs, err := stdmail.ParseAddressList(raw); err == nil && len(addrs) > 0 {
		addr := strings.TrimSpace(addrs[0].Address)
		name := strings.TrimSpace(addrs[0].Name)
		if name == "" {
			name = localPart(addr)
		}
		return addr, name
	}
	if match := angleAddrPattern.FindStringSubmatch(raw); match != nil {
		addr := strings.TrimSpace(match[2])
		name := strings.Trim(strings.TrimSpace(match[1]), `"`)
		if name == "" {
			name = localPart(addr)
		}
		return addr, name
	}
	return raw, localPart(raw)
}

// resolveTimestamp applies the fallback chain: server internal date, then the
// sender-controlled Date header, then the processing clock. Everything is
// normalized to UTC; offset-less dates assume the configured local zone.
func (p *Parser) resolveTimestamp(internalDate time.Time, dateHeader string) time.Time {
	if !internalDate.IsZero() {
		return internalDate.UTC()
	}
	if dateHeader != "" {
		if t, err := p.parseDate(dateHeader); err == nil {
			return t.UTC()
		} else {
			p.logf("parser: unusable Date header %q: %v", dateHeader, err)
		}
	}
	return p.now()
}

var zonelessLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05",
	"2 Jan 2006 15:04:05",
	"2006-01-02 15:04:05",
}

func (p *Parser) parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := stdmail.ParseDate(value); err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, value, p.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// readBodies walks the MIME parts, skipping attachments and keeping the first
// plain and first HTML inline bodies.
func (p *Parser) readBodies(reader *gomail.Reader, env *Envelope) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			p.logf("parser: read part failed: %v", err)
			return
		}
		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := header.ContentType()
		if err != nil {
			mediaType, _, _ = mime.ParseMediaType(header.Get("Content-Type"))
		}
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		body, err := io.ReadAll(io.LimitReader(part.Body, p.maxBodyBytes))
		if err != nil {
			p.logf("parser: read part body failed: %v", err)
			continue
		}
		switch {
		case strings.HasPrefix(mediaType, "text/html"):
			if env.HTMLBody == "" {
				env.HTMLBody = string(body)
			}
		case strings.HasPrefix(mediaType, "text/plain"), mediaType == "":
			if env.PlainBody == "" {
				env.PlainBody = string(body)
			}
		}
	}
}

// addressList parses every comma-separated address in every occurrence of a
// recipient header.
func (p *Parser) addressList(values []string) []string {
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(p.decodeHeader(value))
		if value == "" {
			continue
		}
		if addrs, err := stdmail.ParseAddressList(value); err == nil {
			for _, a := range addrs {
				if addr := strings.TrimSpace(a.Address); addr != "" {
					out = append(out, addr)
				}
			}
			continue
		}
		for _, piece := range strings.Split(value, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			if match := angleAddrPattern.FindStringSubmatch(piece); match != nil {
				piece = strings.TrimSpace(match[2])
			}
			if piece != "" {
				out = append(out, piece)
			}
		}
	}
	return out
}

func (p *Parser) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || p.decoder == nil {
		return value
	}
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func (p *Parser) logf(format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}

var messageIDPattern = regexp.MustCompile(`<[^<>\s]+>`)

// messageIDs extracts every angle-bracketed identifier across the given
// header values, deduplicated in first-seen order.
func messageIDs(values ...string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, raw := range values {
		for _, id := range tokenizeMessageIDs(raw) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func tokenizeMessageIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if matches := messageIDPattern.FindAllString(raw, -1); len(matches) > 0 {
		return matches
	}
	var ids []string
	for _, field := range strings.Fields(raw) {
		if id := canonicalMessageID(field); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func firstMessageID(raw string) string {
	ids := tokenizeMessageIDs(raw)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// canonicalMessageID renders an identifier in its bracketed wire form.
func canonicalMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"`)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "<") && strings.HasSuffix(value, ">") {
		return value
	}
	return "<" + strings.Trim(value, "<>") + ">"
}

func localPart(addr string) string {
	addr = strings.TrimSpace(addr)
	if at := strings.Index(addr, "@"); at > 0 {
		return addr[:at]
	}
	return addr
}
