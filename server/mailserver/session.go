package mailserver

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-smtp"

	"github.com/tossmail/tossmail/helpers"
	"github.com/tossmail/tossmail/logger"
	"github.com/tossmail/tossmail/mailbox"
	"github.com/tossmail/tossmail/pkg/metrics"
)

// Session handles one SMTP transaction. Every recipient is accepted at RCPT
// time; domain filtering happens at DATA so that a single unknown recipient
// never blocks delivery to the known ones.
type Session struct {
	backend  *Backend
	senderIP string
	from     string
	rcpts    []string
}

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *Session) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *Session) Logout() error {
	return nil
}

// storedAttachment is one decoded attachment ready to be written into each
// recipient mailbox.
type storedAttachment struct {
	filename string
	cid      string
	id       string
	data     []byte
}

func (s *Session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		metrics.MessagesReceivedTotal.WithLabelValues("read_error").Inc()
		return err
	}
	metrics.MessageSizeBytes.Observe(float64(len(raw)))

	subject := "(No Subject)"
	fromHeader := ""
	var content *helpers.Content

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		logger.Warn("SMTP: unparseable message, storing raw only", "error", err)
	}
	if entity != nil {
		if v, err := entity.Header.Text("Subject"); err == nil && v != "" {
			subject = helpers.SanitizeUTF8(v)
		}
		if v, err := entity.Header.Text("From"); err == nil {
			fromHeader = helpers.SanitizeUTF8(v)
		} else {
			fromHeader = entity.Header.Get("From")
		}
		content, err = helpers.ExtractContent(entity)
		if err != nil {
			logger.Warn("SMTP: body extraction failed", "error", err)
		}
	}
	if content == nil {
		content = &helpers.Content{}
	}

	maxSize := s.backend.cfg.Mailserver.AttachmentsMaxSize
	attachments := make([]storedAttachment, 0, len(content.Attachments))
	for _, part := range content.Attachments {
		if maxSize > 0 && int64(len(part.Data)) > maxSize {
			logger.Info("SMTP: attachment too large", "filename", part.Filename, "size", len(part.Data))
			metrics.MessagesReceivedTotal.WithLabelValues("attachment_too_large").Inc()
			return &smtp.SMTPError{
				Code:         552,
				EnhancedCode: smtp.EnhancedCode{5, 3, 4},
				Message:      fmt.Sprintf("Attachment too large. Max size: %.2fMB", float64(maxSize)/1000000),
			}
		}
		cid := part.ContentID
		if cid == "" {
			sum := md5.Sum(part.Data)
			cid = hex.EncodeToString(sum[:])
		}
		attachments = append(attachments, storedAttachment{
			filename: part.Filename,
			cid:      cid,
			id:       attachmentID(part.Filename),
			data:     part.Data,
		})
	}

	rawText := helpers.SanitizeUTF8(string(raw))
	domains := s.backend.cfg.General.NormalizedDomains()
	delivered := 0

	for _, rcpt := range s.rcpts {
		address := helpers.NormalizeAddress(rcpt)
		if !helpers.IsValidAddress(address) {
			logger.Warn("SMTP: invalid recipient", "rcpt", rcpt)
			continue
		}
		_, domain, _ := helpers.SplitAddress(address)
		if s.backend.cfg.Mailserver.DiscardUnknown && !helpers.DomainAccepted(domain, domains) {
			logger.Info("SMTP: discarding mail for unknown domain", "domain", domain)
			continue
		}

		if err := s.deliver(address, rawText, fromHeader, subject, content, attachments); err != nil {
			logger.Error("SMTP: delivery failed", "address", address, "error", err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		metrics.MessagesReceivedTotal.WithLabelValues("discarded").Inc()
	} else {
		metrics.MessagesReceivedTotal.WithLabelValues("accepted").Inc()
	}
	return nil
}

// deliver writes the message document and its attachments into one mailbox
// and triggers the webhook dispatch for it.
func (s *Session) deliver(address, rawText, fromHeader, subject string, content *helpers.Content, attachments []storedAttachment) error {
	store := s.backend.store

	parsed := mailbox.ParsedMessage{
		Subject:            subject,
		Body:               content.TextBody,
		HTMLBody:           replaceCIDReferences(content.HTMLBody, address, attachments),
		From:               fromHeader,
		Attachments:        []string{},
		AttachmentsDetails: []mailbox.AttachmentDetail{},
	}

	for _, att := range attachments {
		if err := store.SaveAttachment(address, att.id, att.data); err != nil {
			logger.Error("SMTP: attachment write failed", "address", address, "attachment", att.id, "error", err)
			continue
		}
		metrics.AttachmentsStoredTotal.Inc()
		parsed.Attachments = append(parsed.Attachments, att.id)
		parsed.AttachmentsDetails = append(parsed.AttachmentsDetails, mailbox.AttachmentDetail{
			Filename:    att.filename,
			CID:         att.cid,
			ID:          att.id,
			DownloadURL: store.AttachmentURL(address, att.id),
			Size:        len(att.data),
		})
	}

	msg := &mailbox.Message{
		SenderIP: s.senderIP,
		From:     fromHeader,
		Rcpts:    s.rcpts,
		Raw:      rawText,
		Parsed:   parsed,
	}

	id := store.NextMessageID(address)
	if err := store.SaveMessage(address, id, msg); err != nil {
		return err
	}
	metrics.MessagesStoredTotal.Inc()
	logger.Info("SMTP: message stored", "address", address, "id", id, "size", len(rawText))

	if s.backend.hooks != nil {
		go s.backend.hooks.Dispatch(address, msg)
	}
	return nil
}

var attachmentNamePattern = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)

// attachmentID derives the stored file id of an attachment: the md5 hex of
// the sanitized base name, an underscore, then the sanitized base name.
func attachmentID(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "file"
	}
	base = attachmentNamePattern.ReplaceAllString(base, "_")
	sum := md5.Sum([]byte(base))
	return hex.EncodeToString(sum[:]) + "_" + base
}

// replaceCIDReferences rewrites cid: URLs in an HTML body to the public
// attachment download path of the given mailbox.
func replaceCIDReferences(html, address string, attachments []storedAttachment) string {
	if html == "" {
		return html
	}
	for _, att := range attachments {
		if att.cid == "" {
			continue
		}
		html = strings.ReplaceAll(html, "cid:"+att.cid, "/api/attachment/"+address+"/"+att.id)
	}
	return html
}
