package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Part is one node of a message's MIME part tree. A part may itself
// contain sub-parts.
type Part struct {
	PartID   string `json:"partId"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Body     struct {
		Size         int64  `json:"size"`
		Data         string `json:"data"`
		AttachmentID string `json:"attachmentId"`
	} `json:"body"`
	Parts []Part `json:"parts"`
}

// Message is a fetched message with its full part tree.
type Message struct {
	ID      string `json:"id"`
	Payload Part   `json:"payload"`
}

// Attachment is the raw bytes of one candidate document part.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// attachmentResponse is the attachment-get endpoint's body.
type attachmentResponse struct {
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// documentMimeTypes are declared content types that mark a part as a
// candidate document even without a recognizable filename.
var documentMimeTypes = map[string]bool{
	"text/xml":        true,
	"application/xml": true,
	"application/zip": true,
}

// GetMessage fetches the full structure of one message.
func (c *Client) GetMessage(ctx context.Context, token, messageID string) (*Message, error) {
	var msg Message
	path := "/users/me/messages/" + messageID
	if err := c.getJSON(ctx, token, path, &msg); err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	return &msg, nil
}

// GetAttachment fetches the raw bytes of one attachment by reference.
func (c *Client) GetAttachment(ctx context.Context, token, messageID, attachmentID string) ([]byte, error) {
	var resp attachmentResponse
	path := "/users/me/messages/" + messageID + "/attachments/" + attachmentID
	if err := c.getJSON(ctx, token, path, &resp); err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	data, err := decodeBody(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return data, nil
}

// CollectAttachments recursively walks the message's part tree and
// fetches the raw bytes of every candidate document part. Attachments
// are fetched by reference so unrelated large parts are never loaded.
// A fetch failure for one part is counted and does not stop the walk
// of sibling parts; the second return is the failure count.
func (c *Client) CollectAttachments(ctx context.Context, token string, msg *Message) ([]Attachment, int) {
	var attachments []Attachment
	failed := 0

	var walk func(part Part)
	walk = func(part Part) {
		if isCandidatePart(part) {
			data, err := c.partData(ctx, token, msg.ID, part)
			if err != nil {
				c.logger.Warn(ctx, "attachment fetch failed",
					zap.String("message_id", msg.ID),
					zap.String("filename", part.Filename),
					zap.Error(err))
				failed++
			} else {
				attachments = append(attachments, Attachment{
					Filename:    part.Filename,
					ContentType: part.MimeType,
					Data:        data,
				})
			}
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(msg.Payload)

	return attachments, failed
}

// partData returns the part's bytes, fetching by attachment reference
// when the body is not inlined.
func (c *Client) partData(ctx context.Context, token, messageID string, part Part) ([]byte, error) {
	if part.Body.AttachmentID != "" {
		return c.GetAttachment(ctx, token, messageID, part.Body.AttachmentID)
	}
	if part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	return nil, fmt.Errorf("part %s has no body data or attachment reference", part.PartID)
}

// isCandidatePart reports whether a part looks like an invoice
// document: a document or archive filename suffix, or a declared
// document media type.
func isCandidatePart(part Part) bool {
	name := strings.ToLower(part.Filename)
	if strings.HasSuffix(name, ".xml") || strings.HasSuffix(name, ".zip") {
		return true
	}
	if part.Filename != "" && documentMimeTypes[strings.ToLower(part.MimeType)] {
		return true
	}
	return false
}

// decodeBody decodes the provider's base64url body encoding, with or
// without padding.
func decodeBody(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
