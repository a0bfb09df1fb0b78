// Package mailbox reads messages from an IMAP inbox. Every operation opens
// and closes its own session; nothing is cached between calls.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	id "github.com/emersion/go-imap-id"
	"github.com/rs/zerolog"
)

var (
	// ErrConnectionFailed indicates the mailbox could not be reached,
	// authenticated against, or opened
	ErrConnectionFailed = errors.New("mailbox connection failed")
	// ErrMessageNotFound indicates the UID no longer exists in the mailbox
	ErrMessageNotFound = errors.New("message not found")
)

const fetchBatchSize = 10

// Account holds the decrypted connection parameters of one mailbox
type Account struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
}

// Address returns host:port
func (a Account) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Options tunes sessions
type Options struct {
	PreviewLimit   int
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	Mailbox        string
	ClientName     string
	ClientVersion  string
}

func (o Options) withDefaults() Options {
	if o.PreviewLimit <= 0 {
		o.PreviewLimit = 100
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 5 * time.Minute
	}
	if o.Mailbox == "" {
		o.Mailbox = "INBOX"
	}
	if o.ClientName == "" {
		o.ClientName = "inboxkeep"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "1.0.0"
	}
	return o
}

// DateRange bounds a search. Either end may be nil.
type DateRange struct {
	Since  *time.Time `json:"since,omitempty"`
	Before *time.Time `json:"before,omitempty"`
}

// IsZero reports whether neither bound is set
func (r *DateRange) IsZero() bool {
	return r == nil || (r.Since == nil && r.Before == nil)
}

// Client reads one account's mailbox
type Client struct {
	account Account
	opts    Options
	logger  zerolog.Logger
}

// NewClient creates a Client. No connection is made until an operation runs.
func NewClient(account Account, opts Options, logger zerolog.Logger) *Client {
	return &Client{
		account: account,
		opts:    opts.withDefaults(),
		logger: logger.With().
			Str("component", "mailbox").
			Str("host", account.Host).
			Str("user", account.Username).
			Logger(),
	}
}

// session is one logged-in connection with the mailbox selected
type session struct {
	c    *client.Client
	stop func() bool
}

func (s *session) close() {
	s.stop()
	s.c.Logout()
}

// connect dials, identifies, logs in and selects the mailbox read-only.
// Cancelling ctx terminates the connection.
func (m *Client) connect(ctx context.Context) (*session, *imap.MailboxStatus, error) {
	addr := m.account.Address()
	dialer := &net.Dialer{Timeout: m.opts.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	tlsConfig := &tls.Config{ServerName: m.account.Host}
	if m.account.UseTLS {
		tlsConn := tls.Client(conn, tlsConfig)
		hsCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		conn = tlsConn
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	c.Timeout = m.opts.CommandTimeout

	s := &session{
		c:    c,
		stop: context.AfterFunc(ctx, func() { c.Terminate() }),
	}
	fail := func(err error) (*session, *imap.MailboxStatus, error) {
		s.stop()
		c.Logout()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if !m.account.UseTLS {
		if ok, _ := c.SupportStartTLS(); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fail(fmt.Errorf("starttls: %v", err))
			}
		}
	}

	// Some providers refuse LOGIN until the client has identified itself
	if ok, _ := c.Support("ID"); ok {
		if _, err := id.NewClient(c).ID(id.ID{
			id.FieldName:    m.opts.ClientName,
			id.FieldVersion: m.opts.ClientVersion,
		}); err != nil {
			m.logger.Debug().Err(err).Msg("IMAP ID rejected")
		}
	}

	if err := c.Login(m.account.Username, m.account.Password); err != nil {
		return fail(fmt.Errorf("login failed: %v", err))
	}

	status, err := c.Select(m.opts.Mailbox, true)
	if err != nil {
		return fail(fmt.Errorf("select %s: %v", m.opts.Mailbox, err))
	}

	return s, status, nil
}

// Ping verifies the account can log in and open the mailbox
func (m *Client) Ping(ctx context.Context) error {
	s, status, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	m.logger.Debug().Uint32("messages", status.Messages).Msg("Mailbox reachable")
	return nil
}

// Preview returns the newest PreviewLimit messages matching dr, newest
// first, with full attachment content. Messages that fail to parse are
// logged and left out; a broken session fails the whole preview.
func (m *Client) Preview(ctx context.Context, dr *DateRange) ([]Message, error) {
	s, status, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	if status.Messages == 0 {
		return []Message{}, nil
	}

	uids, err := s.c.UidSearch(searchCriteria(dr))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: search: %v", ErrConnectionFailed, err)
	}
	uids = newestUIDs(uids, m.opts.PreviewLimit)

	m.logger.Info().
		Int("matched", len(uids)).
		Bool("bounded", !dr.IsZero()).
		Msg("Mailbox search completed")

	raw, err := m.fetchRaw(ctx, s.c, uids)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(uids))
	for _, uid := range uids {
		body, ok := raw[uid]
		if !ok {
			m.logger.Warn().Uint32("uid", uid).Msg("Message body missing, skipped")
			continue
		}
		msg, err := Parse(body)
		if err != nil {
			m.logger.Warn().Err(err).Uint32("uid", uid).Msg("Message parse failed, skipped")
			continue
		}
		msg.UID = uid
		messages = append(messages, *msg)
	}
	return messages, nil
}

// FetchByUID fetches and parses one message in its own session
func (m *Client) FetchByUID(ctx context.Context, uid uint32) (*Message, error) {
	s, _, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	raw, err := m.fetchRaw(ctx, s.c, []uint32{uid})
	if err != nil {
		return nil, err
	}
	body, ok := raw[uid]
	if !ok {
		return nil, fmt.Errorf("%w: uid %d", ErrMessageNotFound, uid)
	}
	msg, err := Parse(body)
	if err != nil {
		return nil, err
	}
	msg.UID = uid
	return msg, nil
}

// fetchRaw downloads the full source of each UID in small batches. UIDs the
// server does not return are absent from the map. A failed FETCH command
// means the session is unusable and is reported as ErrConnectionFailed.
func (m *Client) fetchRaw(ctx context.Context, c *client.Client, uids []uint32) (map[uint32][]byte, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}
	out := make(map[uint32][]byte, len(uids))

	for i := 0; i < len(uids); i += fetchBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}

		uidSet := new(imap.SeqSet)
		uidSet.AddNum(uids[i:end]...)

		messages := make(chan *imap.Message, fetchBatchSize)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(uidSet, items, messages)
		}()

		for msg := range messages {
			if msg == nil {
				continue
			}
			literal := msg.GetBody(section)
			if literal == nil {
				continue
			}
			content, err := io.ReadAll(literal)
			if err != nil {
				m.logger.Warn().Err(err).Uint32("uid", msg.Uid).Msg("Reading message body failed")
				continue
			}
			out[msg.Uid] = content
		}

		if err := <-done; err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.logger.Warn().Err(err).Int("batch_start", i).Msg("UID fetch failed")
			return nil, fmt.Errorf("%w: fetch: %v", ErrConnectionFailed, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func searchCriteria(dr *DateRange) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if dr.IsZero() {
		all := new(imap.SeqSet)
		all.AddRange(1, 0)
		criteria.Uid = all
		return criteria
	}
	if dr.Since != nil {
		criteria.Since = *dr.Since
	}
	if dr.Before != nil {
		criteria.Before = *dr.Before
	}
	return criteria
}

// newestUIDs keeps the highest limit UIDs, ordered newest first
func newestUIDs(uids []uint32, limit int) []uint32 {
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
