package mailbox

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// AttachmentDetail describes one stored attachment of a message, including
// the download URL consumers can fetch it from.
type AttachmentDetail struct {
	Filename    string `json:"filename"`
	CID         string `json:"cid"`
	ID          string `json:"id"`
	DownloadURL string `json:"download_url"`
	Size        int    `json:"size"`
}

// ParsedMessage is the pre-parsed view of a message as written by the
// receiver. Field names and order match the on-disk JSON layout exactly.
type ParsedMessage struct {
	Subject            string             `json:"subject"`
	Body               string             `json:"body"`
	HTMLBody           string             `json:"htmlbody"`
	From               string             `json:"from"`
	Attachments        []string           `json:"attachments"`
	AttachmentsDetails []AttachmentDetail `json:"attachments_details"`
}

// Message is the full on-disk message document (<id>.json).
type Message struct {
	SenderIP string        `json:"sender_ip,omitempty"`
	From     string        `json:"from"`
	Rcpts    []string      `json:"rcpts"`
	Raw      string        `json:"raw"`
	Parsed   ParsedMessage `json:"parsed"`
}

// MessageSummary is one row of a mailbox listing. Address carries the owning
// mailbox, which matters for the aggregated admin view where rows span many
// mailboxes.
type MessageSummary struct {
	Address     string   `json:"email"`
	ID          string   `json:"id"`
	From        string   `json:"from"`
	Subject     string   `json:"subject"`
	Fingerprint string   `json:"fingerprint"`
	Size        int      `json:"maillen"`
	Body        string   `json:"body,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// Fingerprint derives the content fingerprint consumers use for dedupe and
// cache busting: a hash over the message id and the raw transport text.
func Fingerprint(id, raw string) string {
	h := blake3.New(16, nil)
	h.Write([]byte(id))
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}
