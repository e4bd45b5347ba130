package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
)

// Attachment is one MIME attachment pulled out of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a fully fetched inbound message. ParseErr is set when the
// MIME body could not be decoded; the envelope fields are still valid so
// the poller can mark the message read and move on.
type Message struct {
	UID         uint32
	MessageID   string
	Sender      string
	SenderName  string
	Subject     string
	Date        time.Time
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
	ParseErr    error
}

// Session is one open connection to a tenant's inbox. The poller depends
// only on this capability set, not on a specific protocol implementation.
type Session interface {
	// SearchSince finds unseen messages from the given sender address
	// received on or after since.
	SearchSince(addr string, since time.Time) ([]uint32, error)
	// Fetch retrieves full messages for the given UIDs.
	Fetch(uids []uint32) ([]Message, error)
	// MarkSeen flags one message as read. Implementations retry once
	// with an alternate protocol call before giving up.
	MarkSeen(uid uint32) error
	Close() error
}

// Dialer opens sessions against a tenant's configured mail server.
type Dialer interface {
	Dial(ctx context.Context, acct db.MailAccount) (Session, error)
}

// IMAPDialer is the production Dialer backed by go-imap.
type IMAPDialer struct {
	logger *zap.Logger
}

// NewIMAPDialer creates the production IMAP dialer.
func NewIMAPDialer(logger *zap.Logger) *IMAPDialer {
	return &IMAPDialer{logger: logger}
}

// Dial connects, authenticates and selects the inbox.
func (d *IMAPDialer) Dial(ctx context.Context, acct db.MailAccount) (Session, error) {
	addr := fmt.Sprintf("%s:%d", acct.Host, acct.Port)

	var client *imapclient.Client
	var err error
	if acct.UseTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: acct.Host},
		})
	} else {
		client, err = imapclient.DialStartTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: acct.Host},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.Login(acct.Username, acct.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to select inbox: %w", err)
	}

	return &imapSession{client: client, logger: d.logger}, nil
}

type imapSession struct {
	client *imapclient.Client
	logger *zap.Logger
}

func (s *imapSession) SearchSince(addr string, since time.Time) ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: addr},
		},
		Since:   since,
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search failed for %s: %w", addr, err)
	}

	uids := data.AllUIDs()
	result := make([]uint32, len(uids))
	for i, uid := range uids {
		result[i] = uint32(uid)
	}
	return result, nil
}

func (s *imapSession) Fetch(uids []uint32) ([]Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	imapUIDs := make([]imap.UID, len(uids))
	for i, uid := range uids {
		imapUIDs[i] = imap.UID(uid)
	}
	uidSet := imap.UIDSetNum(imapUIDs...)

	fetchOptions := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		// Peek keeps the server from flagging the message seen; the
		// tenant's auto-mark-read setting decides that explicitly.
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}

	fetchCmd := s.client.Fetch(uidSet, fetchOptions)

	var messages []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		msgData, err := msg.Collect()
		if err != nil {
			s.logger.Warn("error collecting message", zap.Error(err))
			continue
		}

		m := Message{UID: uint32(msgData.UID)}

		if env := msgData.Envelope; env != nil {
			m.MessageID = env.MessageID
			m.Subject = env.Subject
			m.Date = env.Date
			if len(env.From) > 0 {
				from := env.From[0]
				m.Sender = strings.ToLower(fmt.Sprintf("%s@%s", from.Mailbox, from.Host))
				m.SenderName = from.Name
			}
		}

		for _, section := range msgData.BodySection {
			if len(section.Bytes) == 0 {
				continue
			}
			parsed, parseErr := mail.ReadMessage(bytes.NewReader(section.Bytes))
			if parseErr != nil {
				m.ParseErr = fmt.Errorf("read message: %w", parseErr)
				break
			}
			m.BodyText, m.BodyHTML, m.Attachments = parseBody(parsed)
			break
		}

		messages = append(messages, m)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	return messages, nil
}

func (s *imapSession) MarkSeen(uid uint32) error {
	uidSet := imap.UIDSetNum(imap.UID(uid))

	store := func(silent bool) error {
		cmd := s.client.Store(uidSet, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: silent,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil)
		return cmd.Close()
	}

	if err := store(true); err != nil {
		// Some servers reject the silent form; retry once without it.
		if retryErr := store(false); retryErr != nil {
			return fmt.Errorf("mark seen failed: %w", retryErr)
		}
	}
	return nil
}

func (s *imapSession) Close() error {
	return s.client.Close()
}

// parseBody extracts the text and HTML bodies plus attachments from a
// parsed message.
func parseBody(msg *mail.Message) (bodyText, bodyHTML string, attachments []Attachment) {
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		body, _ := io.ReadAll(msg.Body)
		return string(body), "", nil
	}

	encoding := msg.Header.Get("Content-Transfer-Encoding")

	switch {
	case strings.HasPrefix(mediaType, "text/plain"):
		return decodeText(msg.Body, encoding), "", nil
	case strings.HasPrefix(mediaType, "text/html"):
		return "", decodeText(msg.Body, encoding), nil
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			body, _ := io.ReadAll(msg.Body)
			return string(body), "", nil
		}
		return parseMultipart(multipart.NewReader(msg.Body, boundary))
	default:
		data, _ := io.ReadAll(decoder(msg.Body, encoding))
		return "", "", []Attachment{{
			Filename:    params["name"],
			ContentType: mediaType,
			Data:        data,
		}}
	}
}

// parseMultipart recursively walks multipart content.
func parseMultipart(reader *multipart.Reader) (bodyText, bodyHTML string, attachments []Attachment) {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		contentType := part.Header.Get("Content-Type")
		disposition := part.Header.Get("Content-Disposition")
		encoding := part.Header.Get("Content-Transfer-Encoding")
		mediaType, params, _ := mime.ParseMediaType(contentType)

		if strings.Contains(disposition, "attachment") || part.FileName() != "" {
			data, _ := io.ReadAll(decoder(part, encoding))
			attachments = append(attachments, Attachment{
				Filename:    part.FileName(),
				ContentType: mediaType,
				Data:        data,
			})
			continue
		}

		switch {
		case strings.HasPrefix(mediaType, "text/plain") && bodyText == "":
			bodyText = decodeText(part, encoding)
		case strings.HasPrefix(mediaType, "text/html") && bodyHTML == "":
			bodyHTML = decodeText(part, encoding)
		case strings.HasPrefix(mediaType, "multipart/"):
			if boundary := params["boundary"]; boundary != "" {
				subText, subHTML, subAttach := parseMultipart(multipart.NewReader(part, boundary))
				if bodyText == "" {
					bodyText = subText
				}
				if bodyHTML == "" {
					bodyHTML = subHTML
				}
				attachments = append(attachments, subAttach...)
			}
		case !strings.HasPrefix(mediaType, "text/"):
			// Inline non-text parts (images etc.) count as attachments.
			data, _ := io.ReadAll(decoder(part, encoding))
			attachments = append(attachments, Attachment{
				Filename:    params["name"],
				ContentType: mediaType,
				Data:        data,
			})
		}
	}
	return
}

func decoder(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func decodeText(r io.Reader, encoding string) string {
	data, _ := io.ReadAll(decoder(r, encoding))
	return string(data)
}
