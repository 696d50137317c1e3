package helpers

import (
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/k3a/html2text"
)

// Part is a decoded non-text MIME part carried by an incoming message.
type Part struct {
	Filename    string
	ContentType string
	ContentID   string
	Data        []byte
}

// Content is the result of flattening a MIME message: accumulated text
// bodies plus every attachment part, in original order.
type Content struct {
	TextBody    string
	HTMLBody    string
	Attachments []Part
}

// ExtractContent traverses the MIME structure of a message and accumulates
// text/plain and text/html bodies and attachment parts. go-message decodes
// transfer encodings and charsets on the way.
func ExtractContent(entity *message.Entity) (*Content, error) {
	c := &Content{}
	if err := collectParts(entity, c); err != nil {
		return nil, err
	}

	// A text/html-only message still needs a plaintext body for consumers
	// that render the plain view.
	if c.TextBody == "" && c.HTMLBody != "" {
		c.TextBody = html2text.HTML2Text(c.HTMLBody)
	}

	c.TextBody = SanitizeUTF8(c.TextBody)
	c.HTMLBody = SanitizeUTF8(c.HTMLBody)

	return c, nil
}

func collectParts(entity *message.Entity, c *Content) error {
	mediaType, _, _ := entity.Header.ContentType()

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := entity.MultipartReader()
		if mr == nil {
			return nil
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				// A single unreadable part should not lose the whole message.
				break
			}
			if err := collectParts(part, c); err != nil {
				return err
			}
		}
		return nil
	}

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return err
	}

	filename := partFilename(entity)
	isAttachment := filename != ""

	switch {
	case mediaType == "text/plain" && !isAttachment:
		c.TextBody += string(body)
	case mediaType == "text/html" && !isAttachment:
		c.HTMLBody += string(body)
	default:
		if filename == "" {
			filename = "untitled"
		}
		c.Attachments = append(c.Attachments, Part{
			Filename:    filename,
			ContentType: mediaType,
			ContentID:   partContentID(entity),
			Data:        body,
		})
	}

	return nil
}

func partFilename(entity *message.Entity) string {
	if _, params, err := entity.Header.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	if _, params, err := entity.Header.ContentType(); err == nil {
		if name := params["name"]; name != "" {
			return name
		}
	}
	return ""
}

func partContentID(entity *message.Entity) string {
	cid := strings.Trim(entity.Header.Get("Content-Id"), "<>")
	if cid == "" {
		cid = entity.Header.Get("X-Attachment-Id")
	}
	return cid
}
